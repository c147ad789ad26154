package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/cache"
	"fleet-monitor/events/internal/config"
)

// StaticFleet is the fleet reported for keys configured in VALID_API_KEYS.
const StaticFleet = "default"

var ErrUnauthorized = errors.New("invalid API key")

// KeyStore resolves an API key to its fleet; "" means unknown.
// store.RedisStore implements it.
type KeyStore interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type Authenticator struct {
	keys       *cache.Cache[string]
	store      KeyStore
	ttl        time.Duration
	staticKeys map[string]bool
	logger     *zap.Logger
}

// NewAuthenticator builds an Authenticator. store may be nil, in which case
// only static keys are accepted.
func NewAuthenticator(cfg *config.Config, store KeyStore, keys *cache.Cache[string], logger *zap.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		store:      store,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		logger:     logger.Named("auth"),
	}
}

// Validate returns the fleet apiKey belongs to, or ErrUnauthorized.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, error) {
	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return StaticFleet, nil
	}

	// Level 1: in-memory cache
	if fleetID, ok := a.keys.Get(apiKey); ok {
		return fleetID, nil
	}

	// Level 2: Redis lookup
	if a.store == nil {
		return "", ErrUnauthorized
	}
	fleetID, err := a.store.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.logger.Warn("api key lookup failed", zap.Error(err))
		return "", ErrUnauthorized
	}
	if fleetID == "" {
		return "", ErrUnauthorized
	}

	a.keys.Set(apiKey, fleetID, a.ttl)
	return fleetID, nil
}
