// Package aggregation rolls raw usage events into one DailyAggregate per
// (tenant, feature, UTC day).
package aggregation

import (
	"sort"
	"time"

	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

type groupKey struct {
	tenantID  int64
	featureID int64
}

type accumulator struct {
	users       map[int64]struct{}
	eventCount  int64
	durationSum float64
}

// Rollup groups events by (tenant, feature) and computes the daily metrics.
// Events are assumed to already fall inside day. Output is ordered by tenant
// then feature.
func Rollup(day time.Time, events []models.UsageEvent) []models.DailyAggregate {
	day = models.UTCDay(day)

	groups := make(map[groupKey]*accumulator)
	for _, ev := range events {
		key := groupKey{tenantID: ev.TenantID, featureID: ev.FeatureID}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{users: make(map[int64]struct{})}
			groups[key] = acc
		}
		acc.eventCount++
		acc.durationSum += ev.SessionDuration
		if ev.UserID != nil {
			acc.users[*ev.UserID] = struct{}{}
		}
	}

	out := make([]models.DailyAggregate, 0, len(groups))
	for key, acc := range groups {
		out = append(out, models.DailyAggregate{
			TenantID:           key.tenantID,
			FeatureID:          key.featureID,
			Day:                day,
			DailyActiveUsers:   int64(len(acc.users)),
			EventCount:         acc.eventCount,
			AvgSessionDuration: acc.durationSum / float64(max(acc.eventCount, 1)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].FeatureID < out[j].FeatureID
	})
	return out
}
