package anomaly

import (
	"context"

	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/metrics"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

// VectorLoader supplies the feature vectors of a tenant.
type VectorLoader interface {
	LoadFeatureVectors(ctx context.Context, tenantID int64) ([]models.FeatureVector, error)
}

// Scorer loads a tenant's vectors and runs Compute over them.
type Scorer struct {
	loader VectorLoader
	log    *zap.Logger
}

func NewScorer(loader VectorLoader, log *zap.Logger) *Scorer {
	return &Scorer{loader: loader, log: log.Named("scorer")}
}

// Score returns the scoring result of a tenant. A tenant with no data yields
// an empty result and no error.
func (s *Scorer) Score(ctx context.Context, tenantID int64) (Result, error) {
	vectors, err := s.loader.LoadFeatureVectors(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}

	res := Compute(vectors)
	flagged := len(res.Anomalies())
	metrics.AnomaliesFlagged.Add(float64(flagged))
	s.log.Debug("scored features",
		zap.Int64("tenant_id", tenantID),
		zap.Int("features", len(res.Features)),
		zap.Int("anomalous", flagged),
		zap.Float64("threshold", res.Threshold))
	return res, nil
}
