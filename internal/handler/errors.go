package handler

import (
	"errors"
	"net/http"

	"pharmstock/internal/model"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
)

// respondError maps engine errors onto HTTP status plus a stable reason code.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, response.ErrorCode(http.StatusNotFound, "NOT_FOUND", err.Error()))
	case errors.Is(err, model.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, response.ErrorCode(http.StatusConflict, "ALREADY_TERMINAL", err.Error()))
	case errors.Is(err, model.ErrInsufficientCapacity):
		c.JSON(http.StatusConflict, response.ErrorCode(http.StatusConflict, "INSUFFICIENT_CAPACITY", err.Error()))
	case errors.Is(err, model.ErrInsufficientStock):
		c.JSON(http.StatusConflict, response.ErrorCode(http.StatusConflict, "INSUFFICIENT_STOCK", err.Error()))
	case errors.Is(err, model.ErrDuplicateReference):
		c.JSON(http.StatusConflict, response.ErrorCode(http.StatusConflict, "DUPLICATE_REFERENCE", err.Error()))
	case errors.Is(err, model.ErrExpiryMismatch):
		c.JSON(http.StatusConflict, response.ErrorCode(http.StatusConflict, "EXPIRY_MISMATCH", err.Error()))
	case errors.Is(err, model.ErrBusy):
		c.JSON(http.StatusServiceUnavailable, response.ErrorCode(http.StatusServiceUnavailable, "BUSY", err.Error()))
	case errors.Is(err, model.ErrInconsistent):
		c.JSON(http.StatusInternalServerError, response.ErrorCode(http.StatusInternalServerError, "INCONSISTENT", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}
