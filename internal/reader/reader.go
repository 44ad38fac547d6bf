// Package reader loads the per-feature metric vectors of a tenant.
//
// Sources are tried in order until one yields at least one feature: daily
// aggregates first, raw events when the tenant has not been aggregated yet.
package reader

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/models"
	"github.com/PratikDhanave/usage-insights-engine/internal/store"
)

// Provider produces feature vectors for a tenant from one data source.
type Provider interface {
	Name() string
	FeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error)
}

// Reader walks its providers in order.
type Reader struct {
	providers []Provider
	log       *zap.Logger
}

// New creates a Reader over an explicit provider chain.
func New(log *zap.Logger, providers ...Provider) *Reader {
	return &Reader{providers: providers, log: log.Named("reader")}
}

// NewDefault returns the aggregates-then-events chain over st.
func NewDefault(st Source, log *zap.Logger) *Reader {
	return New(log, AggregatesProvider{Store: st}, EventsProvider{Store: st})
}

// LoadFeatureVectors returns the first non-empty provider result, sorted by
// feature id. An empty result with a nil error means the tenant has no data.
// A provider error aborts the walk.
func (r *Reader) LoadFeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error) {
	for _, p := range r.providers {
		vectors, err := p.FeatureVectors(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load feature vectors from %s: %w", p.Name(), err)
		}
		if len(vectors) == 0 {
			continue
		}
		sort.Slice(vectors, func(i, j int) bool { return vectors[i].FeatureID < vectors[j].FeatureID })
		r.log.Debug("loaded feature vectors",
			zap.Int64("tenant_id", tenantID),
			zap.String("source", p.Name()),
			zap.Int("features", len(vectors)))
		return vectors, nil
	}
	return nil, nil
}

// Source is the read side of the event store used by the default providers.
type Source interface {
	ListAggregates(ctx context.Context, tenantID int64) ([]models.DailyAggregate, error)
	ListEvents(ctx context.Context, f store.EventFilter) ([]models.UsageEvent, error)
}

// AggregatesProvider sums event counts and averages active users and session
// duration across every day of each feature.
type AggregatesProvider struct {
	Store interface {
		ListAggregates(ctx context.Context, tenantID int64) ([]models.DailyAggregate, error)
	}
}

func (AggregatesProvider) Name() string { return "daily_aggregates" }

func (p AggregatesProvider) FeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error) {
	rows, err := p.Store.ListAggregates(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	type acc struct {
		events, dauSum, durSum float64
		days                   int
	}
	byFeature := make(map[int64]*acc)
	for _, r := range rows {
		if r.TenantID != tenantID {
			continue
		}
		a, ok := byFeature[r.FeatureID]
		if !ok {
			a = &acc{}
			byFeature[r.FeatureID] = a
		}
		a.events += float64(r.EventCount)
		a.dauSum += float64(r.DailyActiveUsers)
		a.durSum += r.AvgSessionDuration
		a.days++
	}

	out := make([]models.FeatureVector, 0, len(byFeature))
	for id, a := range byFeature {
		out = append(out, models.FeatureVector{
			FeatureID:          id,
			EventCount:         a.events,
			AvgSessionDuration: a.durSum / float64(a.days),
			DailyActiveUsers:   a.dauSum / float64(a.days),
		})
	}
	return out, nil
}

// EventsProvider computes the same metrics straight from raw events: row
// count, mean session duration and distinct non-null users.
type EventsProvider struct {
	Store interface {
		ListEvents(ctx context.Context, f store.EventFilter) ([]models.UsageEvent, error)
	}
}

func (EventsProvider) Name() string { return "usage_events" }

func (p EventsProvider) FeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error) {
	events, err := p.Store.ListEvents(ctx, store.EventFilter{TenantID: &tenantID})
	if err != nil {
		return nil, err
	}

	type acc struct {
		events, durSum float64
		users          map[int64]struct{}
	}
	byFeature := make(map[int64]*acc)
	for _, ev := range events {
		if ev.TenantID != tenantID {
			continue
		}
		a, ok := byFeature[ev.FeatureID]
		if !ok {
			a = &acc{users: make(map[int64]struct{})}
			byFeature[ev.FeatureID] = a
		}
		a.events++
		a.durSum += ev.SessionDuration
		if ev.UserID != nil {
			a.users[*ev.UserID] = struct{}{}
		}
	}

	out := make([]models.FeatureVector, 0, len(byFeature))
	for id, a := range byFeature {
		out = append(out, models.FeatureVector{
			FeatureID:          id,
			EventCount:         a.events,
			AvgSessionDuration: a.durSum / a.events,
			DailyActiveUsers:   float64(len(a.users)),
		})
	}
	return out, nil
}
