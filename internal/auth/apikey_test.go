package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/PratikDhanave/usage-insights-engine/internal/config"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	keys := map[string]config.APIKey{
		"k1":    {TenantID: 1},
		"admin": {TenantID: 2, Admin: true},
	}
	g := r.Group("/", APIKeyMiddleware(keys))
	g.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, strconv.FormatInt(TenantID(c), 10))
	})
	g.POST("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodGet, "/whoami", "k1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Body.String())

	w = do(r, http.MethodGet, "/whoami", " admin ")
	assert.Equal(t, "2", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/whoami", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/whoami", "nope").Code)
}

func TestRequireAdmin(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/admin", "k1").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/admin", "admin").Code)
}
