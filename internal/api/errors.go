package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/middleware"
)

// statusForCode maps error codes onto HTTP statuses
var statusForCode = map[string]int{
	domain.ErrCodeInvalidArgument: http.StatusBadRequest,
	domain.ErrCodeNotFound:        http.StatusNotFound,
	domain.ErrCodeIO:              http.StatusInternalServerError,
	domain.ErrCodeExternalAPI:     http.StatusBadGateway,
	domain.ErrCodeRateLimit:       http.StatusTooManyRequests,
	domain.ErrCodeDatabase:        http.StatusInternalServerError,
	domain.ErrCodeInternalServer:  http.StatusInternalServerError,
}

// newErrorBody converts err into the standard error payload
func newErrorBody(err error, correlationID string) (int, *domain.MCPError) {
	code := domain.ErrorCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = domain.ErrCodeExternalAPI
	}
	status, ok := statusForCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	details := ""
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		details = validationErr.Field
	}

	return status, domain.NewMCPError(code, err.Error(), details, correlationID)
}

// respondError writes err as JSON with the mapped status and aborts the chain
func respondError(c *gin.Context, err error) {
	status, body := newErrorBody(err, c.GetString(middleware.CorrelationIDKey))
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
