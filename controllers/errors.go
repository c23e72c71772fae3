package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-orders/services"
)

// writeError maps service errors onto HTTP status codes. Unexpected errors
// are logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidPhone):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrAlreadyPaid),
		errors.Is(err, services.ErrRefundRequired):
		status = http.StatusConflict
	case errors.Is(err, services.ErrPaymentFailed):
		status = http.StatusPaymentRequired
	case errors.Is(err, services.ErrGateway):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
		msg = "Internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
