// Package anomaly scores a tenant's features by how far their usage metrics
// deviate from the tenant's own feature population.
//
// Each feature is a point (event_count, avg_session_duration, daily_active_users).
// Columns are standardised with the sample mean and standard deviation, the
// L2 norm of the standardised vector is the feature's score, and every
// feature at or above the 90th percentile of scores is flagged.
package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

const (
	// Epsilon replaces a zero standard deviation and is added to every
	// divisor so constant columns produce z = 0 instead of NaN.
	Epsilon = 1e-6

	// ThresholdPercentile is the percentile of scores a feature must reach.
	ThresholdPercentile = 90.0
)

// Metric columns of the scoring matrix.
const (
	ColEventCount = iota
	ColAvgSession
	ColDAU
	numCols
)

// Stats are the column statistics used to standardise one metric.
type Stats struct {
	Mean float64
	Std  float64
}

// FeatureScore is the scored view of one feature.
type FeatureScore struct {
	Vector    models.FeatureVector
	Z         [numCols]float64
	Norm      float64
	Anomalous bool
}

// Result is the outcome of scoring one tenant.
type Result struct {
	Features   []FeatureScore
	EventCount Stats
	AvgSession Stats
	DAU        Stats
	Threshold  float64
}

// Anomalies returns only the flagged features, in input order.
func (r Result) Anomalies() []FeatureScore {
	var out []FeatureScore
	for _, f := range r.Features {
		if f.Anomalous {
			out = append(out, f)
		}
	}
	return out
}

// Compute runs the scoring pipeline over vectors. It is pure: the same input
// always yields the same result.
//
// With fewer than two features there is no population to compare against,
// so every z component, norm and the threshold are zero and nothing is
// flagged.
func Compute(vectors []models.FeatureVector) Result {
	n := len(vectors)
	if n == 0 {
		return Result{}
	}

	data := mat.NewDense(n, numCols, nil)
	for i, v := range vectors {
		data.SetRow(i, []float64{v.EventCount, v.AvgSessionDuration, v.DailyActiveUsers})
	}

	var stats [numCols]Stats
	col := make([]float64, n)
	for j := 0; j < numCols; j++ {
		mat.Col(col, j, data)
		if n < 2 {
			stats[j] = Stats{Mean: col[0], Std: Epsilon}
			continue
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			std = Epsilon
		}
		stats[j] = Stats{Mean: mean, Std: std}
	}

	res := Result{
		Features:   make([]FeatureScore, n),
		EventCount: stats[ColEventCount],
		AvgSession: stats[ColAvgSession],
		DAU:        stats[ColDAU],
	}

	if n < 2 {
		res.Features[0] = FeatureScore{Vector: vectors[0]}
		return res
	}

	// Standardise the whole matrix column-wise, then take row norms.
	var z mat.Dense
	z.Apply(func(_, j int, v float64) float64 {
		return (v - stats[j].Mean) / (stats[j].Std + Epsilon)
	}, data)

	norms := make([]float64, n)
	for i, v := range vectors {
		row := z.RawRowView(i)
		fs := FeatureScore{Vector: v, Norm: floats.Norm(row, 2)}
		copy(fs.Z[:], row)
		norms[i] = fs.Norm
		res.Features[i] = fs
	}

	res.Threshold = Percentile(norms, ThresholdPercentile)
	for i := range res.Features {
		res.Features[i].Anomalous = res.Features[i].Norm >= res.Threshold
	}
	return res
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between the closest ranks: rank h = (n-1)*p/100, result
// s[floor h] + frac(h)*(s[floor h + 1] - s[floor h]). values is not modified.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n == 1 {
		return sorted[0]
	}

	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := h - float64(lo)
	return math.Min(sorted[lo]+frac*(sorted[lo+1]-sorted[lo]), sorted[lo+1])
}
