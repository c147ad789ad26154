package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"fleet-monitor/events/internal/config"
	"fleet-monitor/events/internal/speedlimit"
	"fleet-monitor/events/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	redis, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer redis.Close()
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, redis)
	step2_speed_limits(ctx, redis, cfg)
	step3_verify(ctx, redis)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/eventsd")
}

func step1_api_keys(ctx context.Context, redis *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	// vehicle:auth:{api_key} → fleet_id, permanent
	apiKeys := map[string]string{
		"fleet_madrid_key":   "fleet_madrid",
		"fleet_valencia_key": "fleet_valencia",
		"test_key":           "test_fleet",
	}

	for key, fleetID := range apiKeys {
		if err := redis.SetAPIKey(ctx, key, fleetID); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", "vehicle:auth:"+key, fleetID)
	}
}

func step2_speed_limits(ctx context.Context, redis *store.RedisStore, cfg *config.Config) {
	fmt.Println("\n── Step 2: Seeding speed limits ────────────────")

	// Pre-resolved cells so local runs do not hit Overpass
	limits := []struct {
		lat, lon float64
		kmh      int
	}{
		{40.4168, -3.7038, 50},  // Madrid centre
		{40.4530, -3.6883, 70},  // Castellana
		{40.3680, -3.5960, 120}, // A-3
		{39.4699, -0.3763, 50},  // Valencia centre
	}

	for _, l := range limits {
		cell := speedlimit.Key(l.lat, l.lon)
		if err := redis.SetSpeedLimit(ctx, cell, l.kmh, cfg.SpeedLimitTTL); err != nil {
			log.Fatalf("Failed to set limit for %s: %v", cell, err)
		}
		fmt.Printf("  ✓ speedlimit:%-33s → %d km/h\n", cell, l.kmh)
	}
}

func step3_verify(ctx context.Context, redis *store.RedisStore) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	fleetID, err := redis.GetAPIKey(ctx, "test_key")
	if err != nil || fleetID == "" {
		log.Fatalf("Spot check failed: %q %v", fleetID, err)
	}
	fmt.Printf("  ✓ spot check: vehicle:auth:test_key → %s\n", fleetID)

	cell := speedlimit.Key(40.4168, -3.7038)
	limit, ok, err := redis.GetSpeedLimit(ctx, cell)
	if err != nil || !ok {
		log.Fatalf("Spot check failed for %s: %v", cell, err)
	}
	fmt.Printf("  ✓ spot check: speedlimit:%s → %d km/h\n", cell, limit)
}
