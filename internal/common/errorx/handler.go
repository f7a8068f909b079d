package errorx

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorHandler provides unified error handling for HTTP handlers
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// HandleError converts any error to APIError and writes the HTTP response
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	apiErr := h.ConvertToAPIError(err)
	apiErr.TraceID = uuid.New().String()
	apiErr.Timestamp = time.Now().UTC().Format(time.RFC3339)

	h.logError(c, apiErr, err)

	c.JSON(apiErr.HTTPStatus, gin.H{
		"error": apiErr,
	})
}

// ConvertToAPIError converts any error to APIError
func (h *ErrorHandler) ConvertToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Clone()
	}

	return ErrInternal.Clone()
}

func (h *ErrorHandler) logError(c *gin.Context, apiErr *APIError, cause error) {
	fields := []zap.Field{
		zap.String("code", apiErr.Code),
		zap.String("category", string(apiErr.Category)),
		zap.String("trace_id", apiErr.TraceID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(cause),
	}

	switch apiErr.Severity {
	case SeverityCritical:
		h.logger.Error("request failed", fields...)
	case SeverityWarning:
		h.logger.Warn("request failed", fields...)
	default:
		h.logger.Info("request failed", fields...)
	}
}
