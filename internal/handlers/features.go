package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/auth"
	"github.com/PratikDhanave/usage-insights-engine/internal/engine"
	"github.com/PratikDhanave/usage-insights-engine/internal/models"
)

type featureItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RegisterFeatureRoutes registers feature registration and listing.
//
// POST /features  {"name": "..."}  → 201, or 200 when the name already exists
// GET  /features                   → [{"id", "name"}] ordered by id
func RegisterFeatureRoutes(r gin.IRoutes, eng *engine.Engine, log *zap.Logger) {
	r.POST("/features", func(c *gin.Context) {
		var req models.FeatureCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON payload")
			return
		}

		tenantID := auth.TenantID(c)
		existing, err := eng.ListFeatures(c.Request.Context(), tenantID)
		if err != nil {
			fail(c, log, err)
			return
		}

		f, err := eng.CreateFeature(c.Request.Context(), tenantID, req.Name)
		if err != nil {
			fail(c, log, err)
			return
		}

		status := http.StatusCreated
		if _, ok := existing[f.ID]; ok {
			status = http.StatusOK
		}
		c.JSON(status, f)
	})

	r.GET("/features", func(c *gin.Context) {
		names, err := eng.ListFeatures(c.Request.Context(), auth.TenantID(c))
		if err != nil {
			fail(c, log, err)
			return
		}

		out := make([]featureItem, 0, len(names))
		for id, name := range names {
			out = append(out, featureItem{ID: id, Name: name})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		c.JSON(http.StatusOK, out)
	})
}
