package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/events/internal/config"
	"fleet-monitor/events/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const telemetryWindowQuery = `
	SELECT timestamp, latitude, longitude, speed,
	       roll, pitch, yaw, ay, ax, accmag, si
	FROM vehicle_telemetry
	WHERE vehicle_id = $1 AND timestamp >= $2 AND timestamp < $3
	ORDER BY timestamp
`

// LoadTelemetry returns a vehicle's samples in [from, to), oldest first.
// Speed is returned as stored; unit normalization happens in the pipeline.
func (s *TimescaleStore) LoadTelemetry(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TelemetryPoint, error) {
	rows, err := s.pool.Query(ctx, telemetryWindowQuery, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("telemetry query failed for %s: %w", vehicleID, err)
	}

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TelemetryPoint, error) {
		var p domain.TelemetryPoint
		err := row.Scan(
			&p.Timestamp,
			&p.Latitude,
			&p.Longitude,
			&p.Speed,
			&p.Roll,
			&p.Pitch,
			&p.Yaw,
			&p.LateralAccel,
			&p.LongitudinalAccel,
			&p.TotalAccel,
			&p.StabilityIndex,
		)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry scan failed for %s: %w", vehicleID, err)
	}
	return points, nil
}

const canWindowQuery = `
	SELECT timestamp, engine_rpm, rotativo
	FROM can_samples
	WHERE vehicle_id = $1 AND timestamp >= $2 AND timestamp < $3
	ORDER BY timestamp
`

func (s *TimescaleStore) LoadCANPoints(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.CANPoint, error) {
	rows, err := s.pool.Query(ctx, canWindowQuery, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("can query failed for %s: %w", vehicleID, err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CANPoint, error) {
		var c domain.CANPoint
		err := row.Scan(&c.Timestamp, &c.EngineRPM, &c.Rotativo)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("can scan failed for %s: %w", vehicleID, err)
	}
	return samples, nil
}

var eventColumns = []string{
	"occurred_at",
	"event_id",
	"vehicle_id",
	"fleet_id",
	"event_type",
	"latitude",
	"longitude",
	"valores",
	"engine_rpm",
	"rotativo",
}

// InsertEvents archives announced events with a single COPY.
func (s *TimescaleStore) InsertEvents(ctx context.Context, events []domain.VehicleEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		values, err := json.Marshal(ev.Values)
		if err != nil {
			return fmt.Errorf("marshal values for event %s: %w", ev.ID, err)
		}

		var rpm *float64
		var rotativo *bool
		if ev.CAN != nil {
			rpm = &ev.CAN.EngineRPM
			rotativo = &ev.CAN.Rotativo
		}

		rows[i] = []interface{}{
			ev.Timestamp,
			ev.ID,
			ev.VehicleID,
			ev.FleetID,
			string(ev.Type),
			ev.Latitude,
			ev.Longitude,
			string(values),
			rpm,
			rotativo,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"vehicle_events"},
		eventColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(events), err)
	}
	return nil
}
