// Package insights turns a tenant's feature metrics into short prose lines.
//
// A text-generation collaborator is optional. Without one, or when it fails,
// the narrator falls back to heuristic "trending" lines so the result is never
// empty.
package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/metrics"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
	"github.com/PratikDhanave/usage-insights-engine/internal/textgen"
)

const (
	NoDataMessage       = "No data yet; ingest events to see insights."
	UnconfiguredMessage = "Configure TEXTGEN_API_KEY to enable LLM-based narrative insights."
	FailedMessage       = "Text generation failed; using heuristic insights."

	promptHeader = "You are an analytics assistant. Provide 3 concise business insights from usage metrics."

	// TrendingCount is the number of top features described heuristically.
	TrendingCount = 3
	// MaxGeneratedLines caps the lines kept from a generated response.
	MaxGeneratedLines = 5

	DefaultTimeout = 15 * time.Second
)

// Collaborator is the narrator's text-generation capability: either a
// configured generator or nothing.
type Collaborator struct {
	gen textgen.Generator
}

// Configured wraps gen. A nil gen is the same as Unconfigured.
func Configured(gen textgen.Generator) Collaborator {
	return Collaborator{gen: gen}
}

// Unconfigured returns a collaborator that never generates text.
func Unconfigured() Collaborator {
	return Collaborator{}
}

// IsConfigured reports whether text generation is available.
func (c Collaborator) IsConfigured() bool {
	return c.gen != nil
}

// VectorLoader supplies a tenant's feature vectors.
type VectorLoader interface {
	LoadFeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error)
}

// FeatureNames resolves feature ids to display names.
type FeatureNames interface {
	ListFeatures(ctx context.Context, tenantID int64) (map[int64]string, error)
}

// Narrator produces insight lines for a tenant.
type Narrator struct {
	loader  VectorLoader
	names   FeatureNames
	collab  Collaborator
	timeout time.Duration
	log     *zap.Logger
}

func NewNarrator(loader VectorLoader, names FeatureNames, collab Collaborator, timeout time.Duration, log *zap.Logger) *Narrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Narrator{
		loader:  loader,
		names:   names,
		collab:  collab,
		timeout: timeout,
		log:     log.Named("narrator"),
	}
}

// Narrate returns at least one insight line. Only store read failures are
// returned as errors; collaborator problems degrade to heuristic lines.
func (n *Narrator) Narrate(ctx context.Context, tenantID int64) ([]string, error) {
	vectors, err := n.loader.LoadFeatureVectors(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		metrics.NarrationsTotal.WithLabelValues("no_data").Inc()
		return []string{NoDataMessage}, nil
	}

	names, err := n.names.ListFeatures(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	trending := Trending(vectors, names)

	if !n.collab.IsConfigured() {
		metrics.NarrationsTotal.WithLabelValues("unconfigured").Inc()
		return append(trending, UnconfiguredMessage), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	text, err := n.collab.gen.Generate(genCtx, Prompt(vectors, names))
	if err != nil {
		metrics.NarrationsTotal.WithLabelValues("fallback").Inc()
		n.log.Warn("text generation failed",
			zap.Int64("tenant_id", tenantID),
			zap.String("provider", n.collab.gen.Name()),
			zap.Error(err))
		return append(trending, FailedMessage), nil
	}

	lines := ParseLines(text)
	if len(lines) == 0 {
		metrics.NarrationsTotal.WithLabelValues("empty_response").Inc()
		return trending, nil
	}
	metrics.NarrationsTotal.WithLabelValues("generated").Inc()
	return lines, nil
}

// Trending describes the busiest features by event count, ties broken by
// feature id.
func Trending(vectors []models.FeatureVector, names map[int64]string) []string {
	ranked := append([]models.FeatureVector(nil), vectors...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].EventCount != ranked[j].EventCount {
			return ranked[i].EventCount > ranked[j].EventCount
		}
		return ranked[i].FeatureID < ranked[j].FeatureID
	})
	if len(ranked) > TrendingCount {
		ranked = ranked[:TrendingCount]
	}

	out := make([]string, 0, len(ranked)+1)
	for _, v := range ranked {
		out = append(out, fmt.Sprintf("%s is trending with %d events and avg session %.1fs",
			models.FeatureLabel(names, v.FeatureID), int64(v.EventCount), v.AvgSessionDuration))
	}
	return out
}

// Prompt renders the instruction header and one metric line per feature.
func Prompt(vectors []models.FeatureVector, names map[int64]string) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	for _, v := range vectors {
		fmt.Fprintf(&sb, "\n%s: events=%d, avg_session=%.2f, dau=%d",
			models.FeatureLabel(names, v.FeatureID),
			int64(v.EventCount), v.AvgSessionDuration, int64(v.DailyActiveUsers))
	}
	return sb.String()
}

// ParseLines splits generated text into trimmed, non-empty lines without
// leading list markers, keeping at most MaxGeneratedLines.
func ParseLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxGeneratedLines {
			break
		}
	}
	return out
}
