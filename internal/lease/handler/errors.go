// Package handler exposes the leasing services over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/identity"
	"github.com/jmerrifield20/sublease/internal/lease/service"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// writeError maps a service error onto an HTTP status. Validation and
// business errors carry their message; anything unexpected is logged and
// answered with fallback.
func writeError(c *gin.Context, logger *zap.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not permitted"})
	case errors.Is(err, service.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, service.ErrRentalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rental not found"})
	case errors.Is(err, service.ErrDomainTaken),
		errors.Is(err, service.ErrSubdomainTaken),
		errors.Is(err, service.ErrListingHasRental),
		errors.Is(err, service.ErrRentalNotActive),
		errors.Is(err, service.ErrNotVerified),
		errors.Is(err, service.ErrUnavailable),
		errors.Is(err, service.ErrRecordMissing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, registrar.ErrUnsupportedOperation):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBilling), errors.Is(err, service.ErrRegistrar):
		logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": fallback})
	default:
		logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

// callerID returns the authenticated user's ID, or "" for anonymous callers.
func callerID(c *gin.Context) string {
	if claims := identity.UserClaimsFromCtx(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func queryInt(c *gin.Context, key string, def, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
