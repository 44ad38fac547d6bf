package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/auth"
	"github.com/PratikDhanave/usage-insights-engine/internal/engine"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /events/track
// - Requires X-API-Key (tenant context)
// - Durable: returns success only after the DB write completes
// - Idempotent: duplicates detected via (tenant_id, event_id) uniqueness
func RegisterEventRoutes(r gin.IRoutes, eng *engine.Engine, log *zap.Logger) {
	r.POST("/events/track", func(c *gin.Context) {
		var req models.EventTrackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON payload")
			return
		}

		// Idempotency precedence:
		// 1) Idempotency-Key header (recommended for retries)
		// 2) event_id in payload
		// 3) generated UUID (fallback; cannot dedupe client retries)
		resp, err := eng.TrackEvent(c.Request.Context(), auth.TenantID(c), req, c.GetHeader("Idempotency-Key"))
		if err != nil {
			fail(c, log, err)
			return
		}

		// 201 for new events, 200 for duplicates (idempotent success).
		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, resp)
	})
}
