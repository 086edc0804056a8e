package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// Postgres is a pgx connection pool shared by the alert store and device directory.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects to dsn and pings within 5 seconds.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id text PRIMARY KEY,
	display_name text NOT NULL DEFAULT '',
	location text NOT NULL DEFAULT '',
	target_temp_min double precision NOT NULL,
	target_temp_max double precision NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id uuid PRIMARY KEY,
	device_id text NOT NULL,
	rule_kind text NOT NULL,
	severity text NOT NULL,
	title text NOT NULL,
	message text NOT NULL,
	status text NOT NULL,
	created_at timestamptz NOT NULL,
	acknowledged_at timestamptz,
	resolved_at timestamptz,
	escalated_at timestamptz,
	metadata jsonb NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS alerts_open_idx ON alerts (device_id, rule_kind) WHERE status <> 'resolved';
CREATE INDEX IF NOT EXISTS alerts_created_idx ON alerts (created_at DESC);
`

// EnsureSchema creates the tables used by this package if they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// PostgresStore is an AlertStore backed by the alerts table.
type PostgresStore struct {
	db *Postgres
}

func NewPostgresStore(db *Postgres) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, device_id, rule_kind, severity, title, message, status, created_at,
	acknowledged_at, resolved_at, escalated_at, metadata`

func scanAlert(row pgx.Row) (types.Alert, error) {
	var a types.Alert
	err := row.Scan(&a.ID, &a.DeviceID, &a.RuleKind, &a.Severity, &a.Title, &a.Message, &a.Status,
		&a.CreatedAt, &a.AcknowledgedAt, &a.ResolvedAt, &a.EscalatedAt, &a.Metadata)
	return a, err
}

func (s *PostgresStore) HasActive(ctx context.Context, deviceID string, kind types.RuleKind) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE device_id=$1 AND rule_kind=$2 AND status IN ('active','escalated','acknowledged')
		)`, deviceID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking open alert: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Create(ctx context.Context, alert types.Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	md := alert.Metadata
	if md == nil {
		md = map[string]string{}
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		alert.ID, alert.DeviceID, string(alert.RuleKind), string(alert.Severity), alert.Title, alert.Message,
		string(alert.Status), alert.CreatedAt, alert.AcknowledgedAt, alert.ResolvedAt, alert.EscalatedAt, md,
	)
	if err != nil {
		return "", fmt.Errorf("inserting alert: %w", err)
	}
	return alert.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (types.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Alert{}, ErrNotFound
	}
	a, err := scanAlert(s.db.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Alert{}, ErrNotFound
	}
	if err != nil {
		return types.Alert{}, fmt.Errorf("loading alert %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to types.Status, ts time.Time) (bool, error) {
	var column string
	switch to {
	case types.StatusAcknowledged:
		column = "acknowledged_at"
	case types.StatusResolved:
		column = "resolved_at"
	case types.StatusEscalated:
		column = "escalated_at"
	}

	query := `UPDATE alerts SET status=$1 WHERE id=$2 AND status=$3`
	args := []any{string(to), id, string(from)}
	if column != "" {
		query = `UPDATE alerts SET status=$1, ` + column + `=$4 WHERE id=$2 AND status=$3`
		args = append(args, ts)
	}

	tag, err := s.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transitioning alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// distinguish a lost race from a missing alert
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) RaiseSeverity(ctx context.Context, id string, severity types.Severity) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE alerts SET severity=$1
		WHERE id=$2 AND (CASE severity
			WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 ELSE 0
		END) < $3`, string(severity), id, severity.Rank())
	if err != nil {
		return fmt.Errorf("raising severity of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context, deviceID string) ([]types.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status IN ('active','escalated','acknowledged')`
	var args []any
	if deviceID != "" {
		query += ` AND device_id=$1`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC, id`
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListSince(ctx context.Context, since time.Time) ([]types.Alert, error) {
	return s.query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE created_at >= $1 ORDER BY created_at DESC, id`, since)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]types.Alert, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	results := []types.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// PostgresDirectory is a DeviceDirectory backed by the devices table.
type PostgresDirectory struct {
	db *Postgres
}

func NewPostgresDirectory(db *Postgres) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, deviceID string) (types.DeviceProfile, error) {
	p := types.DeviceProfile{DeviceID: deviceID}
	err := d.db.Pool.QueryRow(ctx, `
		SELECT display_name, location, target_temp_min, target_temp_max
		FROM devices WHERE device_id=$1`, deviceID).
		Scan(&p.DisplayName, &p.Location, &p.TargetTempMin, &p.TargetTempMax)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DeviceProfile{}, ErrUnknownDevice
	}
	if err != nil {
		return types.DeviceProfile{}, fmt.Errorf("loading device %s: %w", deviceID, err)
	}
	return p, nil
}

// Upsert registers or updates a device profile.
func (d *PostgresDirectory) Upsert(ctx context.Context, p types.DeviceProfile) error {
	_, err := d.db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, display_name, location, target_temp_min, target_temp_max)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (device_id) DO UPDATE
		SET display_name=EXCLUDED.display_name, location=EXCLUDED.location,
			target_temp_min=EXCLUDED.target_temp_min, target_temp_max=EXCLUDED.target_temp_max`,
		p.DeviceID, p.DisplayName, p.Location, p.TargetTempMin, p.TargetTempMax)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", p.DeviceID, err)
	}
	return nil
}
