// README: Alert archive backed by PostgreSQL.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_alerts (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    driver_id   TEXT NOT NULL,
    data        JSONB NOT NULL DEFAULT '{}',
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tracking_alerts_driver_idx ON tracking_alerts (driver_id, occurred_at DESC);
`

// Store archives every alert so history outlives the capped Redis log.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating tracking_alerts: %w", err)
	}
	return nil
}

// Publish inserts the alert. Re-delivery of the same alert is a no-op.
func (s *Store) Publish(ctx context.Context, a tracking.TrackingAlert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("encoding alert data: %w", err)
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO tracking_alerts (id, type, driver_id, data, occurred_at)
        VALUES ($1, $2, $3, $4::jsonb, $5)
        ON CONFLICT (id) DO NOTHING`,
		a.ID, string(a.Type), string(a.DriverID), string(data), a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archiving alert %s: %w", a.ID, err)
	}
	return nil
}

// ListByDriver returns the driver's archived alerts, newest first.
func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]tracking.TrackingAlert, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, type, driver_id, data, occurred_at
        FROM tracking_alerts
        WHERE driver_id = $1
        ORDER BY occurred_at DESC
        LIMIT $2`, string(driverID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	out := []tracking.TrackingAlert{}
	for rows.Next() {
		var (
			a    tracking.TrackingAlert
			typ  string
			id   string
			data []byte
		)
		if err := rows.Scan(&a.ID, &typ, &id, &data, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Type = tracking.AlertType(typ)
		a.DriverID = types.ID(id)
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return nil, fmt.Errorf("decoding alert %s data: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
