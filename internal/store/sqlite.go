package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// SQLiteStore is the embedded persistence layer. It suits single-node
// deployments and tests; timestamps are stored as unix nanoseconds so range
// predicates compare integers.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens path (":memory:" for a throwaway database).
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeUnavailable, "open sqlite", err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Persistence(apperrors.CodeUnavailable, "ping sqlite", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "apply schema", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev models.UsageEvent) (bool, error) {
	if err := validateEvent(ev); err != nil {
		return false, err
	}
	propsJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events(event_id, tenant_id, user_id, feature_id, event_type, session_duration, metadata, ts)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (tenant_id, event_id) DO NOTHING
	`, ev.EventID, ev.TenantID, nullInt64(ev.UserID), ev.FeatureID, ev.EventType, ev.SessionDuration,
		string(propsJSON), ev.Timestamp.UTC().UnixNano())
	if err != nil {
		return false, apperrors.Persistence(apperrors.CodeWriteFailed, "insert event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Persistence(apperrors.CodeWriteFailed, "insert event", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]models.UsageEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != nil {
		where = append(where, "tenant_id = ?")
		args = append(args, *f.TenantID)
	}
	if !f.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Start.UTC().UnixNano())
	}
	if !f.End.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.End.UTC().UnixNano())
	}

	q := `SELECT id, event_id, tenant_id, user_id, feature_id, event_type, session_duration, metadata, ts FROM usage_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list events", err)
	}
	defer rows.Close()

	var out []models.UsageEvent
	for rows.Next() {
		var (
			ev     models.UsageEvent
			userID sql.NullInt64
			meta   string
			ts     int64
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.TenantID, &userID, &ev.FeatureID,
			&ev.EventType, &ev.SessionDuration, &meta, &ts); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan event", err)
		}
		if userID.Valid {
			uid := userID.Int64
			ev.UserID = &uid
		}
		ev.Metadata = unmarshalMetadata([]byte(meta))
		ev.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list events", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountEvents(ctx context.Context, tenantID, featureID int64, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM usage_events
		WHERE tenant_id=? AND feature_id=? AND ts >= ? AND ts < ?
	`, tenantID, featureID, from.UTC().UnixNano(), to.UTC().UnixNano()).Scan(&count)
	if err != nil {
		return 0, apperrors.Persistence(apperrors.CodeReadFailed, "count events", err)
	}
	return count, nil
}

func (s *SQLiteStore) CreateFeature(ctx context.Context, tenantID int64, name string) (models.Feature, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO features(tenant_id, name, created_at) VALUES (?,?,?)
		ON CONFLICT (tenant_id, name) DO NOTHING
	`, tenantID, name, now.UnixNano()); err != nil {
		return models.Feature{}, apperrors.Persistence(apperrors.CodeWriteFailed, "create feature", err)
	}

	f := models.Feature{TenantID: tenantID, Name: name}
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at FROM features WHERE tenant_id=? AND name=?`,
		tenantID, name).Scan(&f.ID, &created)
	if err != nil {
		return models.Feature{}, apperrors.Persistence(apperrors.CodeReadFailed, "create feature", err)
	}
	f.CreatedAt = time.Unix(0, created).UTC()
	return f, nil
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, tenantID int64) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM features WHERE tenant_id=?`, tenantID)
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

func (s *SQLiteStore) UpsertDailyAggregates(ctx context.Context, rows []models.DailyAggregate) (err error) {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "begin aggregate batch", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_aggregates(tenant_id, feature_id, day, daily_active_users, event_count, avg_session_duration, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (tenant_id, feature_id, day) DO UPDATE SET
			daily_active_users   = excluded.daily_active_users,
			event_count          = excluded.event_count,
			avg_session_duration = excluded.avg_session_duration,
			updated_at           = excluded.updated_at
	`)
	if err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "prepare aggregate upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.TenantID, r.FeatureID, models.UTCDay(r.Day).Format(dayLayout),
			r.DailyActiveUsers, r.EventCount, r.AvgSessionDuration, now); err != nil {
			return apperrors.Persistence(apperrors.CodeWriteFailed, "upsert daily aggregate", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Persistence(apperrors.CodeWriteFailed, "commit aggregate batch", err)
	}
	return nil
}

func (s *SQLiteStore) ListAggregates(ctx context.Context, tenantID int64) ([]models.DailyAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, feature_id, day, daily_active_users, event_count, avg_session_duration
		FROM daily_aggregates
		WHERE tenant_id=?
		ORDER BY feature_id, day
	`, tenantID)
	if err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list aggregates", err)
	}
	defer rows.Close()

	var out []models.DailyAggregate
	for rows.Next() {
		var (
			a   models.DailyAggregate
			day string
		)
		if err := rows.Scan(&a.TenantID, &a.FeatureID, &day, &a.DailyActiveUsers, &a.EventCount, &a.AvgSessionDuration); err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, "scan aggregate", err)
		}
		a.Day, err = time.ParseInLocation(dayLayout, day, time.UTC)
		if err != nil {
			return nil, apperrors.Persistence(apperrors.CodeReadFailed, fmt.Sprintf("parse aggregate day %q", day), err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(apperrors.CodeReadFailed, "list aggregates", err)
	}
	return out, nil
}

func (s *SQLiteStore) UsageSummary(ctx context.Context, tenantID int64) (models.UsageSummary, error) {
	var sum models.UsageSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id), COUNT(DISTINCT feature_id)
		FROM usage_events
		WHERE tenant_id=?
	`, tenantID).Scan(&sum.TotalEvents, &sum.ActiveUsers, &sum.FeaturesTracked)
	if err != nil {
		return models.UsageSummary{}, apperrors.Persistence(apperrors.CodeReadFailed, "usage summary", err)
	}
	return sum, nil
}

func (s *SQLiteStore) UserActivity(ctx context.Context, tenantID int64, since time.Time) ([]models.UserActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*), COALESCE(AVG(session_duration), 0)
		FROM usage_events
		WHERE tenant_id=? AND user_id IS NOT NULL AND ts >= ?
		GROUP BY user_id
		ORDER BY user_id
	`, tenantID, since.UTC().UnixNano())
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

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
