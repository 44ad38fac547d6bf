package anomaly

import "github.com/PratikDhanave/usage-insights-engine/internal/models"

// HistogramBuckets are the score bins, in order. Bin i holds scores in
// [i, i+1); the last bin is open-ended.
var HistogramBuckets = []string{"0-1", "1-2", "2-3", "3-4", "4+"}

// Histogram counts features per score bin. Every bin is present even when
// empty, and the counts sum to the number of features.
func (r Result) Histogram() []models.ZBucket {
	counts := make([]int, len(HistogramBuckets))
	last := len(HistogramBuckets) - 1
	for _, f := range r.Features {
		idx := last
		if f.Norm < float64(last) {
			idx = int(f.Norm)
		}
		counts[idx]++
	}

	out := make([]models.ZBucket, len(HistogramBuckets))
	for i, name := range HistogramBuckets {
		out[i] = models.ZBucket{Bucket: name, Count: counts[i]}
	}
	return out
}
