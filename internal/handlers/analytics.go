package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/auth"
	"github.com/PratikDhanave/usage-insights-engine/internal/engine"
)

// DefaultActivityDays is the user-activity window when ?days is omitted.
const DefaultActivityDays = 30

// RegisterAnalyticsRoutes registers the serving-path reporting endpoints.
//
// GET  /analytics/usage-summary
// GET  /analytics/feature-usage
// GET  /analytics/user-activity?days=30
// GET  /analytics/event-count?feature_id=...&from=...&to=...  (window [from,to))
// POST /analytics/aggregate/run?date=YYYY-MM-DD              (admin keys only)
func RegisterAnalyticsRoutes(r gin.IRoutes, eng *engine.Engine, log *zap.Logger) {
	r.GET("/analytics/usage-summary", func(c *gin.Context) {
		sum, err := eng.UsageSummary(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	r.GET("/analytics/feature-usage", func(c *gin.Context) {
		usage, err := eng.FeatureUsage(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, usage)
	})

	r.GET("/analytics/user-activity", func(c *gin.Context) {
		days := DefaultActivityDays
		if raw := c.Query("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				badRequest(c, "days must be an integer")
				return
			}
			days = n
		}

		activity, err := eng.UserActivity(c.Request.Context(), auth.TenantID(c), days)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, activity)
	})

	r.GET("/analytics/event-count", func(c *gin.Context) {
		featureStr := c.Query("feature_id")
		fromStr := c.Query("from")
		toStr := c.Query("to")

		// Required query params per contract.
		if featureStr == "" || fromStr == "" || toStr == "" {
			badRequest(c, "feature_id, from, to are required")
			return
		}

		featureID, err := strconv.ParseInt(featureStr, 10, 64)
		if err != nil {
			badRequest(c, "feature_id must be an integer")
			return
		}
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			badRequest(c, "from must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			badRequest(c, "to must be RFC3339")
			return
		}

		count, err := eng.CountEvents(c.Request.Context(), auth.TenantID(c), featureID, from.UTC(), to.UTC())
		if err != nil {
			fail(c, log, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"feature_id": featureID,
			"count":      count,
		})
	})

	r.POST("/analytics/aggregate/run", auth.RequireAdmin(), func(c *gin.Context) {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if raw := c.Query("date"); raw != "" {
			parsed, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				badRequest(c, "date must be YYYY-MM-DD")
				return
			}
			day = parsed
		}

		n, err := eng.Aggregate(c.Request.Context(), day)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"date":           day.Format(time.DateOnly),
			"groups_written": n,
		})
	})
}
