package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanFeed struct {
	fleets chan string
	events chan []byte
}

func (f *chanFeed) SubscribeEvents(ctx context.Context, fleetID string) (<-chan []byte, error) {
	f.fleets <- fleetID
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-f.events:
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestStream_RelaysFleetEvents(t *testing.T) {
	s, _ := newTestServer(t, nil)
	feed := &chanFeed{fleets: make(chan string, 1), events: make(chan []byte)}
	s.SetEventFeed(feed)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("X-API-Key", "k1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream", header)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "fleet-a", <-feed.fleets)

	feed.events <- []byte(`{"event_type":"overspeed"}`)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"overspeed"}`, string(msg))
}

func TestStream_RequiresKeyAndFeed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
