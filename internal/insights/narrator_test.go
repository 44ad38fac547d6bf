package insights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

type stubLoader struct {
	vectors []models.FeatureVector
	err     error
}

func (s stubLoader) LoadFeatureVectors(context.Context, int64) ([]models.FeatureVector, error) {
	return s.vectors, s.err
}

type stubNames map[int64]string

func (s stubNames) ListFeatures(context.Context, int64) (map[int64]string, error) {
	return s, nil
}

type stubGenerator struct {
	text   string
	err    error
	prompt string
	block  bool
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func sample() []models.FeatureVector {
	return []models.FeatureVector{
		{FeatureID: 1, EventCount: 100, AvgSessionDuration: 30, DailyActiveUsers: 10},
		{FeatureID: 2, EventCount: 50, AvgSessionDuration: 20.26, DailyActiveUsers: 5},
		{FeatureID: 3, EventCount: 500, AvgSessionDuration: 45.04, DailyActiveUsers: 40},
		{FeatureID: 4, EventCount: 50, AvgSessionDuration: 1, DailyActiveUsers: 1},
	}
}

var names = stubNames{1: "Dashboard", 3: "Export"}

func newNarrator(t *testing.T, vectors []models.FeatureVector, collab Collaborator) *Narrator {
	return NewNarrator(stubLoader{vectors: vectors}, names, collab, time.Second, zaptest.NewLogger(t))
}

func TestTrending(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		"Export is trending with 500 events and avg session 45.0s",
		"Dashboard is trending with 100 events and avg session 30.0s",
		"Feature 2 is trending with 50 events and avg session 20.3s",
	}, Trending(sample(), names))
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	p := Prompt(sample()[:2], names)
	assert.Equal(t, promptHeader+
		"\nDashboard: events=100, avg_session=30.00, dau=10"+
		"\nFeature 2: events=50, avg_session=20.26, dau=5", p)
}

func TestParseLines(t *testing.T) {
	t.Parallel()

	got := ParseLines("\n- First insight\n* second\n  • third  \n\n-\n4. fourth\nfifth\nsixth\n")
	assert.Equal(t, []string{"First insight", "second", "third", "4. fourth", "fifth"}, got)
	assert.Empty(t, ParseLines("  \n \n- "))
}

func TestNarrate_NoData(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: "never"}
	out, err := newNarrator(t, nil, Configured(gen)).Narrate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{NoDataMessage}, out)
	assert.Empty(t, gen.prompt, "collaborator must not be called without data")
}

func TestNarrate_Unconfigured(t *testing.T) {
	t.Parallel()

	out, err := newNarrator(t, sample(), Unconfigured()).Narrate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, UnconfiguredMessage, out[3])

	assert.False(t, Configured(nil).IsConfigured())
}

func TestNarrate_Generated(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: "- Export drives engagement\n- Dashboard is steady\n"}
	out, err := newNarrator(t, sample(), Configured(gen)).Narrate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Export drives engagement", "Dashboard is steady"}, out)

	assert.True(t, strings.HasPrefix(gen.prompt, promptHeader))
	assert.Contains(t, gen.prompt, "Export: events=500, avg_session=45.04, dau=40")
}

func TestNarrate_EmptyResponseFallsBackToTrending(t *testing.T) {
	t.Parallel()

	out, err := newNarrator(t, sample(), Configured(&stubGenerator{text: "\n  \n"})).Narrate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Trending(sample(), names), out)
}

func TestNarrate_FailureFallsBack(t *testing.T) {
	t.Parallel()

	out, err := newNarrator(t, sample(), Configured(&stubGenerator{err: errors.New("quota")})).Narrate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, FailedMessage, out[3])
}

func TestNarrate_TimeoutFallsBack(t *testing.T) {
	t.Parallel()

	n := NewNarrator(stubLoader{vectors: sample()}, names, Configured(&stubGenerator{block: true}),
		10*time.Millisecond, zaptest.NewLogger(t))
	out, err := n.Narrate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, FailedMessage, out[len(out)-1])
}

func TestNarrate_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	n := NewNarrator(stubLoader{err: boom}, names, Unconfigured(), time.Second, zaptest.NewLogger(t))
	_, err := n.Narrate(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}

func TestNarrate_NeverEmpty(t *testing.T) {
	t.Parallel()

	collabs := []Collaborator{
		Unconfigured(),
		Configured(&stubGenerator{}),
		Configured(&stubGenerator{err: errors.New("x")}),
		Configured(&stubGenerator{text: "one line"}),
	}
	inputs := [][]models.FeatureVector{nil, sample()[:1], sample()}

	for _, c := range collabs {
		for _, in := range inputs {
			out, err := newNarrator(t, in, c).Narrate(context.Background(), 1)
			require.NoError(t, err)
			assert.NotEmpty(t, out)
		}
	}
}
