package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
)

// RequestIDKey is the Gin context key holding the request id.
const RequestIDKey = "request_id"

// badRequest responds 400 with msg.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "request_id": c.GetString(RequestIDKey)})
}

// fail maps an engine error to a status code. Validation problems are the
// caller's fault; everything else is logged and reported as a server error.
func fail(c *gin.Context, log *zap.Logger, err error) {
	var ae *apperrors.Error
	status := http.StatusInternalServerError
	msg := "internal error"

	if errors.As(err, &ae) {
		switch ae.Category {
		case apperrors.CategoryValidation:
			status = http.StatusBadRequest
			if ae.Code == apperrors.CodeNotFound {
				status = http.StatusNotFound
			}
			msg = ae.Message
		case apperrors.CategoryPersistence:
			msg = "storage unavailable"
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("route", c.FullPath()),
			zap.Bool("retryable", apperrors.IsRetryable(err)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg, "request_id": c.GetString(RequestIDKey)})
}
