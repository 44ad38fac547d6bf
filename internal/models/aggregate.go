package models

import (
	"fmt"
	"time"
)

// DailyAggregate is the rollup of one (tenant, feature) pair for a UTC calendar day.
type DailyAggregate struct {
	TenantID           int64     `json:"tenant_id"`
	FeatureID          int64     `json:"feature_id"`
	Day                time.Time `json:"aggregation_date"`
	DailyActiveUsers   int64     `json:"daily_active_users"`
	EventCount         int64     `json:"event_count"`
	AvgSessionDuration float64   `json:"avg_session_duration"`
}

// FeatureVector holds the three metrics scored for a feature.
// Values are float64 because the aggregate path averages across days.
type FeatureVector struct {
	FeatureID          int64
	EventCount         float64
	AvgSessionDuration float64
	DailyActiveUsers   float64
}

// FeatureLabel returns the display name of a feature, synthesizing one when
// the feature was never registered.
func FeatureLabel(names map[int64]string, featureID int64) string {
	if name, ok := names[featureID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Feature %d", featureID)
}

// UTCDay truncates t to midnight of its UTC calendar day.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
