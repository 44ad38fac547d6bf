// Package engine is the facade the API layer and CLI call into. It owns the
// aggregator, scorer, narrator and result caches of one process.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/aggregation"
	"github.com/PratikDhanave/usage-insights-engine/internal/anomaly"
	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
	"github.com/PratikDhanave/usage-insights-engine/internal/cache"
	"github.com/PratikDhanave/usage-insights-engine/internal/insights"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
	"github.com/PratikDhanave/usage-insights-engine/internal/reader"
	"github.com/PratikDhanave/usage-insights-engine/internal/store"
)

// Result kinds, also used as cache metric labels.
const (
	KindAnomalies = "anomalies"
	KindInsights  = "insights"
	KindChartData = "chart-data"
)

// Caches groups the per-kind result caches.
type Caches struct {
	Anomalies *cache.Store[[]models.Anomaly]
	Insights  *cache.Store[models.InsightResponse]
	ChartData *cache.Store[models.ChartData]
}

// CacheTTLs sets the time-to-live of each result kind.
type CacheTTLs struct {
	Anomalies time.Duration
	Insights  time.Duration
	ChartData time.Duration
}

// NewCaches builds empty caches for every result kind.
func NewCaches(ttls CacheTTLs, opts ...cache.Option) Caches {
	return Caches{
		Anomalies: cache.New[[]models.Anomaly](KindAnomalies, ttls.Anomalies, opts...),
		Insights:  cache.New[models.InsightResponse](KindInsights, ttls.Insights, opts...),
		ChartData: cache.New[models.ChartData](KindChartData, ttls.ChartData, opts...),
	}
}

// Invalidate drops every cached result of one tenant.
func (c Caches) Invalidate(tenantID int64) {
	c.Anomalies.Invalidate(tenantID)
	c.Insights.Invalidate(tenantID)
	c.ChartData.Invalidate(tenantID)
}

// Reset drops every cached result.
func (c Caches) Reset() {
	c.Anomalies.Reset()
	c.Insights.Reset()
	c.ChartData.Reset()
}

// Options configures an Engine.
type Options struct {
	Caches         Caches
	Collaborator   insights.Collaborator
	NarrateTimeout time.Duration
}

// Engine wires storage to the analytical components.
type Engine struct {
	store    store.Store
	agg      *aggregation.Aggregator
	reader   *reader.Reader
	scorer   *anomaly.Scorer
	narrator *insights.Narrator
	caches   Caches
	log      *zap.Logger
	now      func() time.Time
}

// New constructs the engine once at start-up.
func New(st store.Store, opts Options, log *zap.Logger) *Engine {
	rd := reader.NewDefault(st, log)
	if opts.Caches.Anomalies == nil {
		opts.Caches = NewCaches(CacheTTLs{})
	}
	return &Engine{
		store:    st,
		agg:      aggregation.New(st, log),
		reader:   rd,
		scorer:   anomaly.NewScorer(rd, log),
		narrator: insights.NewNarrator(rd, st, opts.Collaborator, opts.NarrateTimeout, log),
		caches:   opts.Caches,
		log:      log.Named("engine"),
		now:      time.Now,
	}
}

// Aggregator exposes the aggregator so callers can schedule it.
func (e *Engine) Aggregator() *aggregation.Aggregator { return e.agg }

// Caches exposes the result caches for teardown.
func (e *Engine) Caches() Caches { return e.caches }

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// Aggregate recomputes one UTC day and drops cached results, which may have
// been derived from the previous aggregates.
func (e *Engine) Aggregate(ctx context.Context, day time.Time) (int, error) {
	n, err := e.agg.Aggregate(ctx, day)
	if err != nil {
		return 0, err
	}
	e.caches.Reset()
	return n, nil
}

// Backfill aggregates every day in [from, to].
func (e *Engine) Backfill(ctx context.Context, from, to time.Time) (int, error) {
	n, err := e.agg.Backfill(ctx, from, to)
	if n > 0 {
		e.caches.Reset()
	}
	return n, err
}

// DetectAnomalies lists the anomalous features of a tenant.
func (e *Engine) DetectAnomalies(ctx context.Context, tenantID int64) ([]models.Anomaly, error) {
	return e.caches.Anomalies.GetOrCompute(ctx, tenantID, func(ctx context.Context) ([]models.Anomaly, error) {
		res, err := e.scorer.Score(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out := []models.Anomaly{}
		if len(res.Features) == 0 {
			return out, nil
		}

		names, err := e.store.ListFeatures(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, f := range res.Anomalies() {
			out = append(out, models.Anomaly{
				FeatureID:   f.Vector.FeatureID,
				FeatureName: featureName(names, f.Vector.FeatureID),
				Score:       round(f.Norm, 3),
				Details: models.AnomalyDetails{
					EventCount:         int64(f.Vector.EventCount),
					AvgSessionDuration: round(f.Vector.AvgSessionDuration, 2),
					DailyActiveUsers:   int64(f.Vector.DailyActiveUsers),
					Reason:             fmt.Sprintf("Z-score %.2f exceeds 90th-pctl threshold %.2f", f.Norm, res.Threshold),
				},
			})
		}
		return out, nil
	})
}

// GenerateInsights returns narrative insight lines for a tenant.
func (e *Engine) GenerateInsights(ctx context.Context, tenantID int64) (models.InsightResponse, error) {
	return e.caches.Insights.GetOrCompute(ctx, tenantID, func(ctx context.Context) (models.InsightResponse, error) {
		lines, err := e.narrator.Narrate(ctx, tenantID)
		if err != nil {
			return models.InsightResponse{}, err
		}
		return models.InsightResponse{Insights: lines}, nil
	})
}

// ChartData returns per-feature z-scores, the score histogram, raw metrics
// and the column statistics of a tenant.
func (e *Engine) ChartData(ctx context.Context, tenantID int64) (models.ChartData, error) {
	return e.caches.ChartData.GetOrCompute(ctx, tenantID, func(ctx context.Context) (models.ChartData, error) {
		res, err := e.scorer.Score(ctx, tenantID)
		if err != nil {
			return models.ChartData{}, err
		}
		out := models.ChartData{
			FeatureZScores: []models.FeatureZScore{},
			ZDistribution:  []models.ZBucket{},
			FeatureMetrics: []models.FeatureMetricRow{},
		}
		if len(res.Features) == 0 {
			return out, nil
		}

		names, err := e.store.ListFeatures(ctx, tenantID)
		if err != nil {
			return models.ChartData{}, err
		}
		for _, f := range res.Features {
			label := models.FeatureLabel(names, f.Vector.FeatureID)
			out.FeatureZScores = append(out.FeatureZScores, models.FeatureZScore{
				FeatureID:   f.Vector.FeatureID,
				FeatureName: label,
				ZEventCount: round(f.Z[anomaly.ColEventCount], 3),
				ZAvgSession: round(f.Z[anomaly.ColAvgSession], 3),
				ZDAU:        round(f.Z[anomaly.ColDAU], 3),
				NormScore:   round(f.Norm, 3),
				IsAnomaly:   f.Anomalous,
			})
			out.FeatureMetrics = append(out.FeatureMetrics, models.FeatureMetricRow{
				FeatureID:          f.Vector.FeatureID,
				FeatureName:        label,
				EventCount:         int64(f.Vector.EventCount),
				AvgSessionDuration: round(f.Vector.AvgSessionDuration, 2),
				DailyActiveUsers:   int64(f.Vector.DailyActiveUsers),
			})
		}
		out.ZDistribution = res.Histogram()
		out.Threshold = round(res.Threshold, 3)
		out.MeanEventCount = round(res.EventCount.Mean, 2)
		out.StdEventCount = round(res.EventCount.Std, 2)
		out.MeanSession = round(res.AvgSession.Mean, 2)
		out.StdSession = round(res.AvgSession.Std, 2)
		out.MeanDAU = round(res.DAU.Mean, 2)
		out.StdDAU = round(res.DAU.Std, 2)
		return out, nil
	})
}

// FeatureUsage lists per-feature totals, preferring aggregates over raw events.
func (e *Engine) FeatureUsage(ctx context.Context, tenantID int64) ([]models.FeatureUsage, error) {
	vectors, err := e.reader.LoadFeatureVectors(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]models.FeatureUsage, 0, len(vectors))
	if len(vectors) == 0 {
		return out, nil
	}

	names, err := e.store.ListFeatures(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		out = append(out, models.FeatureUsage{
			FeatureID:          v.FeatureID,
			FeatureName:        featureName(names, v.FeatureID),
			EventCount:         int64(v.EventCount),
			DailyActiveUsers:   int64(v.DailyActiveUsers),
			AvgSessionDuration: round(v.AvgSessionDuration, 2),
		})
	}
	return out, nil
}

// UsageSummary returns tenant-wide totals over raw events.
func (e *Engine) UsageSummary(ctx context.Context, tenantID int64) (models.UsageSummary, error) {
	return e.store.UsageSummary(ctx, tenantID)
}

// UserActivity returns per-user activity over the last days days.
func (e *Engine) UserActivity(ctx context.Context, tenantID int64, days int) ([]models.UserActivity, error) {
	if days <= 0 {
		return nil, apperrors.Validation("days must be positive")
	}
	since := models.UTCDay(e.now()).AddDate(0, 0, -days)
	rows, err := e.store.UserActivity(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AvgSessionDuration = round(rows[i].AvgSessionDuration, 2)
	}
	if rows == nil {
		rows = []models.UserActivity{}
	}
	return rows, nil
}

// TrackEvent records one usage event. The event id is the idempotency key,
// else the request's event_id, else a generated UUID. Re-sending the same id
// is acknowledged as a duplicate without a second write.
func (e *Engine) TrackEvent(ctx context.Context, tenantID int64, req models.EventTrackRequest, idempotencyKey string) (models.EventTrackResponse, error) {
	if req.FeatureID <= 0 {
		return models.EventTrackResponse{}, apperrors.Validation("feature_id must be positive")
	}
	if req.SessionDuration < 0 || math.IsNaN(req.SessionDuration) || math.IsInf(req.SessionDuration, 0) {
		return models.EventTrackResponse{}, apperrors.Validation("session_duration must be a non-negative number")
	}

	ts := e.now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			return models.EventTrackResponse{}, apperrors.Validation("timestamp must be RFC3339")
		}
		ts = parsed.UTC()
	}

	eventID := strings.TrimSpace(idempotencyKey)
	if eventID == "" {
		eventID = strings.TrimSpace(req.EventID)
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = models.DefaultEventType
	}

	inserted, err := e.store.InsertEvent(ctx, models.UsageEvent{
		EventID:         eventID,
		TenantID:        tenantID,
		UserID:          req.UserID,
		FeatureID:       req.FeatureID,
		EventType:       eventType,
		SessionDuration: req.SessionDuration,
		Metadata:        req.Metadata,
		Timestamp:       ts,
	})
	if err != nil {
		return models.EventTrackResponse{}, err
	}
	return models.EventTrackResponse{EventID: eventID, Timestamp: ts, Duplicate: !inserted}, nil
}

// CreateFeature registers a feature name, returning the existing feature when
// the name is already taken by the tenant.
func (e *Engine) CreateFeature(ctx context.Context, tenantID int64, name string) (models.Feature, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Feature{}, apperrors.Validation("name is required")
	}
	return e.store.CreateFeature(ctx, tenantID, name)
}

// ListFeatures returns the tenant's registered feature names by id.
func (e *Engine) ListFeatures(ctx context.Context, tenantID int64) (map[int64]string, error) {
	return e.store.ListFeatures(ctx, tenantID)
}

// CountEvents counts a feature's events in [from, to).
func (e *Engine) CountEvents(ctx context.Context, tenantID, featureID int64, from, to time.Time) (int64, error) {
	if featureID <= 0 {
		return 0, apperrors.Validation("feature_id must be positive")
	}
	if !from.Before(to) {
		return 0, apperrors.Validation("from must be before to")
	}
	return e.store.CountEvents(ctx, tenantID, featureID, from, to)
}

func featureName(names map[int64]string, id int64) *string {
	if name, ok := names[id]; ok {
		return &name
	}
	return nil
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
