package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/events/internal/cache"
	"fleet-monitor/events/internal/config"
)

type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	args := m.Called(apiKey)
	return args.String(0), args.Error(1)
}

func newAuth(store KeyStore) (*Authenticator, *cache.Cache[string]) {
	keys := cache.New[string]()
	cfg := &config.Config{ValidAPIKeys: []string{"static-key"}, AuthCacheTTLSeconds: 300}
	return NewAuthenticator(cfg, store, keys, zap.NewNop()), keys
}

func TestValidate_StaticKey(t *testing.T) {
	store := &mockKeyStore{}
	a, _ := newAuth(store)

	fleetID, err := a.Validate(context.Background(), "static-key")
	require.NoError(t, err)
	assert.Equal(t, StaticFleet, fleetID)
	store.AssertNotCalled(t, "GetAPIKey", mock.Anything)
}

func TestValidate_StoreKeyIsCached(t *testing.T) {
	store := &mockKeyStore{}
	store.On("GetAPIKey", "veh-key").Return("fleet-a", nil).Once()
	a, keys := newAuth(store)

	for i := 0; i < 3; i++ {
		fleetID, err := a.Validate(context.Background(), "veh-key")
		require.NoError(t, err)
		assert.Equal(t, "fleet-a", fleetID)
	}
	store.AssertNumberOfCalls(t, "GetAPIKey", 1)
	assert.True(t, keys.Has("veh-key"))
}

func TestValidate_UnknownKey(t *testing.T) {
	store := &mockKeyStore{}
	store.On("GetAPIKey", "nope").Return("", nil)
	a, keys := newAuth(store)

	_, err := a.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, keys.Has("nope"))
}

func TestValidate_StoreErrorIsUnauthorized(t *testing.T) {
	store := &mockKeyStore{}
	store.On("GetAPIKey", "k").Return("", errors.New("redis down"))
	a, _ := newAuth(store)

	_, err := a.Validate(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidate_NoStore(t *testing.T) {
	a, _ := newAuth(nil)

	_, err := a.Validate(context.Background(), "veh-key")
	assert.ErrorIs(t, err, ErrUnauthorized)

	fleetID, err := a.Validate(context.Background(), "static-key")
	require.NoError(t, err)
	assert.Equal(t, StaticFleet, fleetID)
}
