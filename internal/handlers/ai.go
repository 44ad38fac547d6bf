package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/auth"
	"github.com/PratikDhanave/usage-insights-engine/internal/engine"
)

// RegisterAIRoutes registers the scoring and narrative endpoints. Results are
// cached per tenant and may be up to one cache TTL old.
//
// GET /ai/anomalies
// GET /ai/usage-insights
// GET /ai/chart-data
func RegisterAIRoutes(r gin.IRoutes, eng *engine.Engine, log *zap.Logger) {
	r.GET("/ai/anomalies", func(c *gin.Context) {
		out, err := eng.DetectAnomalies(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/ai/usage-insights", func(c *gin.Context) {
		out, err := eng.GenerateInsights(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/ai/chart-data", func(c *gin.Context) {
		out, err := eng.ChartData(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
