package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"fleet-monitor/events/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_telemetry_table(ctx, conn)
	step3_can_table(ctx, conn)
	step4_events_table(ctx, conn)
	step5_indexes(ctx, conn)
	step6_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: vehicle_telemetry (GPS + IMU samples)
// ─────────────────────────────────────────────────────────────
func step2_telemetry_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: vehicle_telemetry table ─────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_telemetry (
			timestamp    TIMESTAMPTZ      NOT NULL,
			vehicle_id   TEXT             NOT NULL,
			fleet_id     TEXT             NOT NULL,

			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,

			-- Unit as reported by the device (km/h or m/s)
			speed        DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- IMU channels, NULL when the device does not report them
			roll         DOUBLE PRECISION,
			pitch        DOUBLE PRECISION,
			yaw          DOUBLE PRECISION,
			ay           DOUBLE PRECISION,
			ax           DOUBLE PRECISION,
			accmag       DOUBLE PRECISION,
			si           DOUBLE PRECISION
		);
	`, "vehicle_telemetry table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'vehicle_telemetry',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "vehicle_telemetry converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3: can_samples (engine bus, sampled independently)
// ─────────────────────────────────────────────────────────────
func step3_can_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: can_samples table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS can_samples (
			timestamp    TIMESTAMPTZ      NOT NULL,
			vehicle_id   TEXT             NOT NULL,
			engine_rpm   DOUBLE PRECISION NOT NULL DEFAULT 0,
			rotativo     BOOLEAN          NOT NULL DEFAULT false
		);
	`, "can_samples table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'can_samples',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "can_samples converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 4: vehicle_events (archive of announced events)
// ─────────────────────────────────────────────────────────────
func step4_events_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: vehicle_events table ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_events (
			occurred_at  TIMESTAMPTZ      NOT NULL,
			event_id     UUID             NOT NULL,
			vehicle_id   TEXT             NOT NULL,
			fleet_id     TEXT             NOT NULL,
			event_type   TEXT             NOT NULL,
			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,
			valores      JSONB            NOT NULL DEFAULT '{}',

			-- CAN snapshot at detection time, NULL when none was correlated
			engine_rpm   DOUBLE PRECISION,
			rotativo     BOOLEAN,

			archived_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Must match domain.EventType constants
			CONSTRAINT chk_event_type CHECK (
				event_type IN ('rollover', 'drift', 'pothole',
				               'abrupt_maneuver', 'instability', 'overspeed')
			)
		);
	`, "vehicle_events table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'vehicle_events',
			'occurred_at',
			if_not_exists => TRUE
		);
	`, "vehicle_events converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 5: Indexes
// ─────────────────────────────────────────────────────────────
func step5_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_telemetry_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle_time
				  ON vehicle_telemetry (vehicle_id, timestamp);`,
			why: "replay: telemetry window for one vehicle",
		},
		{
			name: "idx_can_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_can_vehicle_time
				  ON can_samples (vehicle_id, timestamp);`,
			why: "replay: CAN window for one vehicle",
		},
		{
			name: "idx_events_fleet_type",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_fleet_type
				  ON vehicle_events (fleet_id, event_type, occurred_at DESC);`,
			why: "dashboards: events of one kind across a fleet",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step6_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"vehicle_telemetry", "can_samples", "vehicle_events"}
	for _, table := range tables {
		var isHypertable bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM timescaledb_information.hypertables
				WHERE hypertable_name = $1
			)
		`, table).Scan(&isHypertable)
		if err != nil || !isHypertable {
			log.Fatalf("Table %s is missing or not a hypertable: %v", table, err)
		}
		fmt.Printf("  ✓ hypertable: %s\n", table)
	}
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
