package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer backed by Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeUnavailable, "connect postgres", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Persistence(apperrors.CodeUnavailable, "ping postgres", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "apply schema", err)
	}
	return nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// InsertEvent persists an event and returns inserted=false when it is a duplicate.
//
// Duplicate detection is enforced by the database constraint on (tenant_id, event_id),
// which is compatible with retries and at-least-once delivery.
func (p *PostgresStore) InsertEvent(ctx context.Context, ev models.UsageEvent) (bool, error) {
	if err := validateEvent(ev); err != nil {
		return false, err
	}

	propsJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return false, err
	}

	// RETURNING only when inserted; duplicates return no rows.
	var id int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO usage_events(event_id, tenant_id, user_id, feature_id, event_type, session_duration, metadata, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant_id, event_id) DO NOTHING
		RETURNING id
	`, ev.EventID, ev.TenantID, ev.UserID, ev.FeatureID, ev.EventType, ev.SessionDuration, propsJSON, ev.Timestamp.UTC()).Scan(&id)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, apperrors.Persistence(apperrors.CodeWriteFailed, "insert event", err)
}

// ListEvents returns events matching f ordered by timestamp.
func (p *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]models.UsageEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != nil {
		args = append(args, *f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start.UTC())
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End.UTC())
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}

	q := `SELECT id, event_id, tenant_id, user_id, feature_id, event_type, session_duration, metadata, ts FROM usage_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts, id"

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list events", err)
	}
	defer rows.Close()

	var out []models.UsageEvent
	for rows.Next() {
		var (
			ev   models.UsageEvent
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.TenantID, &ev.UserID, &ev.FeatureID,
			&ev.EventType, &ev.SessionDuration, &meta, &ev.Timestamp); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan event", err)
		}
		ev.Metadata = unmarshalMetadata(meta)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list events", err)
	}
	return out, nil
}

// CountEvents returns the number of events for (tenantID, featureID) in the time window [from,to).
// Using a half-open interval avoids double counting at window boundaries.
func (p *PostgresStore) CountEvents(ctx context.Context, tenantID, featureID int64, from, to time.Time) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM usage_events
		WHERE tenant_id=$1
		  AND feature_id=$2
		  AND ts >= $3
		  AND ts <  $4
	`, tenantID, featureID, from.UTC(), to.UTC()).Scan(&count)
	if err != nil {
		return 0, apperrors.Persistence(apperrors.CodeReadFailed, "count events", err)
	}
	return count, nil
}

// CreateFeature registers a feature name for a tenant, returning the existing
// row when the name is already registered.
func (p *PostgresStore) CreateFeature(ctx context.Context, tenantID int64, name string) (models.Feature, error) {
	f := models.Feature{TenantID: tenantID, Name: name}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO features(tenant_id, name)
		VALUES ($1,$2)
		ON CONFLICT (tenant_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at
	`, tenantID, name).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return models.Feature{}, apperrors.Persistence(apperrors.CodeWriteFailed, "create feature", err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

// ListFeatures returns feature id -> name for the tenant.
func (p *PostgresStore) ListFeatures(ctx context.Context, tenantID int64) (map[int64]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name FROM features WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list features", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan feature", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list features", err)
	}
	return names, nil
}

// UpsertDailyAggregates writes every row inside one transaction. Each row is an
// atomic INSERT .. ON CONFLICT DO UPDATE so concurrent runs never lose updates.
func (p *PostgresStore) UpsertDailyAggregates(ctx context.Context, rows []models.DailyAggregate) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "begin aggregate batch", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO daily_aggregates(tenant_id, feature_id, day, daily_active_users, event_count, avg_session_duration, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6, now())
			ON CONFLICT (tenant_id, feature_id, day) DO UPDATE SET
				daily_active_users   = EXCLUDED.daily_active_users,
				event_count          = EXCLUDED.event_count,
				avg_session_duration = EXCLUDED.avg_session_duration,
				updated_at           = now()
		`, r.TenantID, r.FeatureID, models.UTCDay(r.Day), r.DailyActiveUsers, r.EventCount, r.AvgSessionDuration)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return apperrors.Persistence(apperrors.CodeWriteFailed, "upsert daily aggregate", err)
		}
	}
	if err := br.Close(); err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "upsert daily aggregate", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "commit aggregate batch", err)
	}
	return nil
}

// ListAggregates returns every aggregate row of the tenant.
func (p *PostgresStore) ListAggregates(ctx context.Context, tenantID int64) ([]models.DailyAggregate, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id, feature_id, day, daily_active_users, event_count, avg_session_duration
		FROM daily_aggregates
		WHERE tenant_id=$1
		ORDER BY feature_id, day
	`, tenantID)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list aggregates", err)
	}
	defer rows.Close()

	var out []models.DailyAggregate
	for rows.Next() {
		var a models.DailyAggregate
		if err := rows.Scan(&a.TenantID, &a.FeatureID, &a.Day, &a.DailyActiveUsers, &a.EventCount, &a.AvgSessionDuration); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan aggregate", err)
		}
		a.Day = models.UTCDay(a.Day)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list aggregates", err)
	}
	return out, nil
}

// UsageSummary returns tenant-wide totals over raw events.
func (p *PostgresStore) UsageSummary(ctx context.Context, tenantID int64) (models.UsageSummary, error) {
	var s models.UsageSummary
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id), COUNT(DISTINCT feature_id)
		FROM usage_events
		WHERE tenant_id=$1
	`, tenantID).Scan(&s.TotalEvents, &s.ActiveUsers, &s.FeaturesTracked)
	if err != nil {
		return models.UsageSummary{}, apperrors.Persistence(apperrors.CodeReadFailed, "usage summary", err)
	}
	return s, nil
}

// UserActivity returns per-user totals for events at or after since.
func (p *PostgresStore) UserActivity(ctx context.Context, tenantID int64, since time.Time) ([]models.UserActivity, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, COUNT(*), COALESCE(AVG(session_duration), 0)
		FROM usage_events
		WHERE tenant_id=$1
		  AND user_id IS NOT NULL
		  AND ts >= $2
		GROUP BY user_id
		ORDER BY user_id
	`, tenantID, since.UTC())
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "user activity", err)
	}
	defer rows.Close()

	var out []models.UserActivity
	for rows.Next() {
		var u models.UserActivity
		if err := rows.Scan(&u.UserID, &u.EventCount, &u.AvgSessionDuration); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan user activity", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "user activity", err)
	}
	return out, nil
}

// Event timestamps must fit in int64 unix nanoseconds, the SQLite encoding.
var (
	MinEventTime = time.Unix(0, math.MinInt64).UTC()
	MaxEventTime = time.Unix(0, math.MaxInt64).UTC()
)

func validateEvent(ev models.UsageEvent) error {
	if ev.TenantID == 0 || ev.EventID == "" || ev.FeatureID == 0 {
		return apperrors.Validation("tenant_id, event_id and feature_id required")
	}
	if ev.SessionDuration < 0 {
		return apperrors.Validation("session_duration must be non-negative")
	}
	if ev.Timestamp.Before(MinEventTime) || ev.Timestamp.After(MaxEventTime) {
		return apperrors.Validation(fmt.Sprintf("timestamp must be between %s and %s",
			MinEventTime.Format(time.RFC3339), MaxEventTime.Format(time.RFC3339)))
	}
	return nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, apperrors.Validation("metadata must be JSON serialisable")
	}
	return b, nil
}

func unmarshalMetadata(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(b, &meta); err != nil || len(meta) == 0 {
		return nil
	}
	return meta
}
