package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/events/internal/config"
	"fleet-monitor/events/internal/domain"
)

// eventDedupTTL bounds how long an announced event suppresses repeats.
const eventDedupTTL = time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func speedLimitKey(cell string) string {
	return "speedlimit:" + cell
}

// GetSpeedLimit reads a limit another instance already resolved.
func (r *RedisStore) GetSpeedLimit(ctx context.Context, cell string) (int, bool, error) {
	val, err := r.client.Get(ctx, speedLimitKey(cell)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get speed limit failed: %w", err)
	}
	limit, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt speed limit %q for %s: %w", val, cell, err)
	}
	return limit, true, nil
}

func (r *RedisStore) SetSpeedLimit(ctx context.Context, cell string, limitKmh int, ttl time.Duration) error {
	return r.client.Set(ctx, speedLimitKey(cell), limitKmh, ttl).Err()
}

func apiKeyKey(apiKey string) string {
	return fmt.Sprintf("vehicle:auth:%s", apiKey)
}

// SetAPIKey registers apiKey for fleetID. It never expires.
func (r *RedisStore) SetAPIKey(ctx context.Context, apiKey, fleetID string) error {
	return r.client.Set(ctx, apiKeyKey(apiKey), fleetID, 0).Err()
}

// GetAPIKey returns the fleet an API key belongs to, or "" if unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, apiKeyKey(apiKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func eventDedupKey(vehicleID string, ev domain.Event) string {
	return fmt.Sprintf("event:%s:%s:%d", vehicleID, string(ev.Type), ev.Timestamp.UnixMilli())
}

// MarkEventSeen records ev and reports whether this is the first time it was
// seen for the vehicle. Identity is vehicle, type and sample timestamp.
func (r *RedisStore) MarkEventSeen(ctx context.Context, vehicleID string, ev domain.Event) (bool, error) {
	first, err := r.client.SetNX(ctx, eventDedupKey(vehicleID, ev), ev.ID, eventDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return first, nil
}

func eventChannel(fleetID string) string {
	return fmt.Sprintf("fleet:%s:events", fleetID)
}

func (r *RedisStore) PublishEvent(ctx context.Context, fleetID string, payload []byte) error {
	return r.client.Publish(ctx, eventChannel(fleetID), payload).Err()
}

// SubscribeEvents streams payloads published for fleetID until ctx is done,
// then closes the returned channel.
func (r *RedisStore) SubscribeEvents(ctx context.Context, fleetID string) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, eventChannel(fleetID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s failed: %w", eventChannel(fleetID), err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
