package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/service"
)

// writeError maps a service or upstream error onto an HTTP status and JSON
// error body. Store errors fall through to 500 with a generic message.
func writeError(c *gin.Context, err error) {
	var rejected *jobservice.RejectedError

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConceptNotReady):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, jobservice.ErrUpstreamTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream service timed out"})
	case errors.Is(err, jobservice.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service unavailable"})
	case errors.As(err, &rejected):
		logger.CtxWarn(c.Request.Context(), "Upstream rejected request: status=%d, body=%s", rejected.StatusCode, rejected.Body)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service rejected the request"})
	default:
		logger.CtxError(c.Request.Context(), "Request failed: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
