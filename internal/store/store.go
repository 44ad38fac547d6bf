package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

// EventFilter selects events in the half-open window [Start, End).
// A nil TenantID selects every tenant; zero Start or End leaves that side open.
type EventFilter struct {
	TenantID *int64
	Start    time.Time
	End      time.Time
}

// Store is the read/write contract the engine needs from durable storage.
// Implementations must scope every tenant-keyed read to that tenant.
type Store interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Close()

	// InsertEvent persists an event and returns inserted=false when
	// (tenant, event_id) already exists.
	InsertEvent(ctx context.Context, ev models.UsageEvent) (bool, error)
	ListEvents(ctx context.Context, f EventFilter) ([]models.UsageEvent, error)
	CountEvents(ctx context.Context, tenantID, featureID int64, from, to time.Time) (int64, error)

	CreateFeature(ctx context.Context, tenantID int64, name string) (models.Feature, error)
	ListFeatures(ctx context.Context, tenantID int64) (map[int64]string, error)

	// UpsertDailyAggregates writes all rows in a single transaction. Either
	// every row is committed or none is.
	UpsertDailyAggregates(ctx context.Context, rows []models.DailyAggregate) error
	ListAggregates(ctx context.Context, tenantID int64) ([]models.DailyAggregate, error)

	UsageSummary(ctx context.Context, tenantID int64) (models.UsageSummary, error)
	UserActivity(ctx context.Context, tenantID int64, since time.Time) ([]models.UserActivity, error)
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the backend named by driver and fails fast if it is
// unreachable.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgresql", "pgx":
		return NewPostgresStore(ctx, url)
	case DriverSQLite, "sqlite3":
		return NewSQLiteStore(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// dayLayout is how calendar days are encoded where the backend has no DATE type.
const dayLayout = "2006-01-02"
