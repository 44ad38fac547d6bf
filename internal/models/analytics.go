package models

// AnomalyDetails carries the raw metrics behind an anomaly score.
type AnomalyDetails struct {
	EventCount         int64   `json:"event_count"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	DailyActiveUsers   int64   `json:"daily_active_users"`
	Reason             string  `json:"reason"`
}

// Anomaly is one entry of GET /ai/anomalies.
type Anomaly struct {
	FeatureID   int64          `json:"feature_id"`
	FeatureName *string        `json:"feature_name,omitempty"`
	Score       float64        `json:"score"`
	Details     AnomalyDetails `json:"details"`
}

// InsightResponse is returned by GET /ai/usage-insights.
type InsightResponse struct {
	Insights []string `json:"insights"`
}

// FeatureZScore is the per-feature z vector exposed for charting.
type FeatureZScore struct {
	FeatureID   int64   `json:"feature_id"`
	FeatureName string  `json:"feature_name"`
	ZEventCount float64 `json:"z_event_count"`
	ZAvgSession float64 `json:"z_avg_session"`
	ZDAU        float64 `json:"z_dau"`
	NormScore   float64 `json:"norm_score"`
	IsAnomaly   bool    `json:"is_anomaly"`
}

// ZBucket is one histogram bin of anomaly norms, e.g. "0-1" or "4+".
type ZBucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// FeatureMetricRow is the raw metric triple of a feature.
type FeatureMetricRow struct {
	FeatureID          int64   `json:"feature_id"`
	FeatureName        string  `json:"feature_name"`
	EventCount         int64   `json:"event_count"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	DailyActiveUsers   int64   `json:"daily_active_users"`
}

// ChartData is returned by GET /ai/chart-data. It carries enough statistics
// for a client to draw distributions without re-deriving them.
type ChartData struct {
	FeatureZScores []FeatureZScore    `json:"feature_z_scores"`
	ZDistribution  []ZBucket          `json:"z_distribution"`
	FeatureMetrics []FeatureMetricRow `json:"feature_metrics"`
	Threshold      float64            `json:"threshold"`
	MeanEventCount float64            `json:"mean_event_count"`
	StdEventCount  float64            `json:"std_event_count"`
	MeanSession    float64            `json:"mean_session"`
	StdSession     float64            `json:"std_session"`
	MeanDAU        float64            `json:"mean_dau"`
	StdDAU         float64            `json:"std_dau"`
}

// UsageSummary is returned by GET /analytics/usage-summary.
type UsageSummary struct {
	TotalEvents     int64 `json:"total_events"`
	ActiveUsers     int64 `json:"active_users"`
	FeaturesTracked int64 `json:"features_tracked"`
}

// FeatureUsage is one entry of GET /analytics/feature-usage.
type FeatureUsage struct {
	FeatureID          int64   `json:"feature_id"`
	FeatureName        *string `json:"feature_name,omitempty"`
	EventCount         int64   `json:"event_count"`
	DailyActiveUsers   int64   `json:"daily_active_users"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

// UserActivity is one entry of GET /analytics/user-activity.
type UserActivity struct {
	UserID             int64   `json:"user_id"`
	EventCount         int64   `json:"event_count"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}
