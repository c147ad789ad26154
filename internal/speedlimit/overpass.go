package speedlimit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultOverpassURL is the public Overpass API interpreter endpoint.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// Provider returns the raw maxspeed tags of the road segments around a point.
type Provider interface {
	MaxSpeedTags(ctx context.Context, lat, lon float64) ([]string, error)
}

// OverpassProvider queries an Overpass API endpoint for ways carrying a
// maxspeed tag within RadiusMeters of the point.
type OverpassProvider struct {
	client       *http.Client
	endpoint     string
	radiusMeters int
}

func NewOverpassProvider(client *http.Client, endpoint string, radiusMeters int) *OverpassProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if radiusMeters <= 0 {
		radiusMeters = 25
	}
	return &OverpassProvider{
		client:       client,
		endpoint:     endpoint,
		radiusMeters: radiusMeters,
	}
}

type overpassResponse struct {
	Elements []struct {
		Type string            `json:"type"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

func (p *OverpassProvider) MaxSpeedTags(ctx context.Context, lat, lon float64) ([]string, error) {
	query := fmt.Sprintf(
		"[out:json];way(around:%d,%s,%s)[maxspeed];out tags;",
		p.radiusMeters,
		strconv.FormatFloat(lat, 'f', 6, 64),
		strconv.FormatFloat(lon, 'f', 6, 64),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?data="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("overpass returned status %d", resp.StatusCode)
	}

	var body overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	tags := make([]string, 0, len(body.Elements))
	for _, el := range body.Elements {
		if v, ok := el.Tags["maxspeed"]; ok && v != "" {
			tags = append(tags, v)
		}
	}
	return tags, nil
}
