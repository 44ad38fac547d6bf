package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
	"github.com/PratikDhanave/usage-insights-engine/internal/cache"
	"github.com/PratikDhanave/usage-insights-engine/internal/insights"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
	"github.com/PratikDhanave/usage-insights-engine/internal/store"
)

var testDay = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type harness struct {
	t     *testing.T
	st    *store.SQLiteStore
	eng   *Engine
	clock *quartz.Mock
	seq   int
}

func newHarness(t *testing.T, collab insights.Collaborator) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.EnsureSchema(ctx))

	clock := quartz.NewMock(t)
	eng := New(st, Options{
		Caches:       NewCaches(CacheTTLs{}, cache.WithClock(clock)),
		Collaborator: collab,
	}, zaptest.NewLogger(t))
	eng.now = func() time.Time { return testDay.Add(12 * time.Hour) }
	return &harness{t: t, st: st, eng: eng, clock: clock}
}

func (h *harness) track(tenant, feature int64, user *int64, dur float64) {
	h.t.Helper()
	h.seq++
	_, err := h.eng.TrackEvent(context.Background(), tenant, models.EventTrackRequest{
		EventID:         fmt.Sprintf("ev-%d", h.seq),
		UserID:          user,
		FeatureID:       feature,
		SessionDuration: dur,
		Timestamp:       testDay.Add(time.Duration(h.seq) * time.Minute).Format(time.RFC3339Nano),
	}, "")
	require.NoError(h.t, err)
}

// seed registers three features for tenant 1 where "Export" is the outlier.
func (h *harness) seed() {
	h.t.Helper()
	ctx := context.Background()
	for _, name := range []string{"Dashboard", "Reports", "Export"} {
		_, err := h.eng.CreateFeature(ctx, 1, name)
		require.NoError(h.t, err)
	}
	for i := int64(1); i <= 4; i++ {
		h.track(1, 1, ptr(i%2+1), 30)
	}
	for i := 0; i < 2; i++ {
		h.track(1, 2, ptr(int64(1)), 20)
	}
	for i := int64(1); i <= 20; i++ {
		h.track(1, 3, ptr(i%10+1), 45)
	}
}

func TestEngine_DetectAnomalies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()

	out, err := h.eng.DetectAnomalies(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, int64(3), a.FeatureID)
	require.NotNil(t, a.FeatureName)
	assert.Equal(t, "Export", *a.FeatureName)
	assert.Equal(t, int64(20), a.Details.EventCount)
	assert.Equal(t, int64(10), a.Details.DailyActiveUsers)
	assert.Equal(t, 45.0, a.Details.AvgSessionDuration)
	assert.Regexp(t, `^Z-score \d+\.\d{2} exceeds 90th-pctl threshold \d+\.\d{2}$`, a.Details.Reason)
	assert.Equal(t, round(a.Score, 3), a.Score)
}

func TestEngine_NoData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	ctx := context.Background()

	anomalies, err := h.eng.DetectAnomalies(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, anomalies)
	assert.Empty(t, anomalies)

	chart, err := h.eng.ChartData(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, chart.FeatureZScores)
	assert.Empty(t, chart.ZDistribution)
	assert.Zero(t, chart.Threshold)

	ins, err := h.eng.GenerateInsights(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{insights.NoDataMessage}, ins.Insights)

	usage, err := h.eng.FeatureUsage(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, usage)
	assert.Empty(t, usage)
}

func TestEngine_ResultsAreTenantScoped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()
	h.track(2, 9, ptr(int64(1)), 5)

	out, err := h.eng.DetectAnomalies(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, out, "a single-feature tenant has nothing to compare against")

	chart, err := h.eng.ChartData(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, chart.FeatureMetrics, 1)
	assert.Equal(t, int64(9), chart.FeatureMetrics[0].FeatureID)
	assert.Equal(t, "Feature 9", chart.FeatureMetrics[0].FeatureName)
}

func TestEngine_ChartData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()

	chart, err := h.eng.ChartData(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, chart.FeatureZScores, 3)
	require.Len(t, chart.FeatureMetrics, 3)
	require.Len(t, chart.ZDistribution, 5)

	total := 0
	for _, b := range chart.ZDistribution {
		total += b.Count
	}
	assert.Equal(t, 3, total)

	flagged := 0
	for _, z := range chart.FeatureZScores {
		if z.IsAnomaly {
			flagged++
			assert.Equal(t, "Export", z.FeatureName)
		}
	}
	assert.Equal(t, 1, flagged)

	assert.InDelta(t, 26.0/3, chart.MeanEventCount, 0.005)
	assert.InDelta(t, 95.0/3, chart.MeanSession, 0.005)
	assert.Equal(t, round(chart.StdDAU, 2), chart.StdDAU)
	assert.Equal(t, "Reports", chart.FeatureMetrics[1].FeatureName)
	assert.Equal(t, int64(2), chart.FeatureMetrics[1].EventCount)
}

func TestEngine_CacheHitUntilAggregation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()
	ctx := context.Background()

	first, err := h.eng.ChartData(ctx, 1)
	require.NoError(t, err)

	// New data is invisible while the cached result is fresh.
	h.track(1, 4, ptr(int64(1)), 1)
	second, err := h.eng.ChartData(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Aggregation drops cached results.
	n, err := h.eng.Aggregate(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	third, err := h.eng.ChartData(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, third.FeatureMetrics, 4)
}

func TestEngine_CacheExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()
	ctx := context.Background()

	first, err := h.eng.FeatureUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 3)

	before, err := h.eng.DetectAnomalies(ctx, 1)
	require.NoError(t, err)

	h.track(1, 2, ptr(int64(7)), 900)
	h.track(1, 2, ptr(int64(8)), 900)

	cached, err := h.eng.DetectAnomalies(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, cached)

	h.clock.Advance(cache.DefaultTTL)
	after, err := h.eng.DetectAnomalies(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestEngine_AggregatesAndEventsAgree(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()
	ctx := context.Background()

	fromEvents, err := h.eng.FeatureUsage(ctx, 1)
	require.NoError(t, err)

	_, err = h.eng.Aggregate(ctx, testDay)
	require.NoError(t, err)

	fromAggregates, err := h.eng.FeatureUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fromEvents, fromAggregates)
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }
func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", apperrors.New(apperrors.CategoryCollaborator, apperrors.CodePermanent, "unauthorized")
}

func TestEngine_GenerateInsights(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, insights.Unconfigured())
	h.seed()
	out, err := h.eng.GenerateInsights(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Export is trending with 20 events and avg session 45.0s",
		"Dashboard is trending with 4 events and avg session 30.0s",
		"Reports is trending with 2 events and avg session 20.0s",
		insights.UnconfiguredMessage,
	}, out.Insights)

	h = newHarness(t, insights.Configured(failingGenerator{}))
	h.seed()
	out, err = h.eng.GenerateInsights(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, insights.FailedMessage, out.Insights[len(out.Insights)-1])
}

func TestEngine_TrackEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	ctx := context.Background()

	resp, err := h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{FeatureID: 1, SessionDuration: 3}, "retry-key")
	require.NoError(t, err)
	assert.Equal(t, "retry-key", resp.EventID)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, testDay.Add(12*time.Hour), resp.Timestamp)

	resp, err = h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{FeatureID: 1, SessionDuration: 3}, "retry-key")
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)

	// The same id under another tenant is a different event.
	resp, err = h.eng.TrackEvent(ctx, 2, models.EventTrackRequest{FeatureID: 1}, "retry-key")
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)

	resp, err = h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{FeatureID: 1}, "")
	require.NoError(t, err)
	assert.Len(t, resp.EventID, 36)

	n, err := h.eng.CountEvents(ctx, 1, 1, testDay, testDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEngine_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
	}{
		{"zero feature", func() error {
			_, err := h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{}, "")
			return err
		}},
		{"negative duration", func() error {
			_, err := h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{FeatureID: 1, SessionDuration: -1}, "")
			return err
		}},
		{"bad timestamp", func() error {
			_, err := h.eng.TrackEvent(ctx, 1, models.EventTrackRequest{FeatureID: 1, Timestamp: "yesterday"}, "")
			return err
		}},
		{"blank feature name", func() error {
			_, err := h.eng.CreateFeature(ctx, 1, "  ")
			return err
		}},
		{"empty count window", func() error {
			_, err := h.eng.CountEvents(ctx, 1, 1, testDay, testDay)
			return err
		}},
		{"non-positive days", func() error {
			_, err := h.eng.UserActivity(ctx, 1, 0)
			return err
		}},
		{"backfill reversed", func() error {
			_, err := h.eng.Backfill(ctx, testDay, testDay.AddDate(0, 0, -1))
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			var ae *apperrors.Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, apperrors.CategoryValidation, ae.Category)
		})
	}
}

func TestEngine_UserActivityAndSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, insights.Unconfigured())
	h.seed()
	ctx := context.Background()

	activity, err := h.eng.UserActivity(ctx, 1, 30)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	var total int64
	for _, a := range activity {
		total += a.EventCount
	}
	assert.Equal(t, int64(26), total)

	sum, err := h.eng.UsageSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.UsageSummary{TotalEvents: 26, ActiveUsers: 10, FeaturesTracked: 3}, sum)

	empty, err := h.eng.UserActivity(ctx, 99, 30)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
