package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/identity"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/service"
)

// RentalHandler serves the renter's side of rentals.
type RentalHandler struct {
	svc    *service.RentalService
	tokens *identity.UserTokenIssuer
	logger *zap.Logger
}

// NewRentalHandler creates a new RentalHandler.
func NewRentalHandler(svc *service.RentalService, tokens *identity.UserTokenIssuer, logger *zap.Logger) *RentalHandler {
	return &RentalHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the rental routes on the given router group.
func (h *RentalHandler) Register(rg *gin.RouterGroup) {
	rs := rg.Group("/rentals", identity.RequireUserToken(h.tokens))
	{
		rs.POST("", h.InitiateRental)
		rs.GET("", h.ListMine)
		rs.GET("/:id", h.GetRental)
		rs.POST("/:id/cancel", h.CancelRental)
		rs.PATCH("/:id/record", h.UpdateRecord)
	}
}

// InitiateRental handles POST /rentals.
//
// The response carries the hosted checkout the renter must complete; the
// rental itself appears once payment is confirmed.
func (h *RentalHandler) InitiateRental(c *gin.Context) {
	var req model.InitiateRentalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := identity.UserClaimsFromCtx(c)
	req.RenterID = claims.UserID
	req.Email = claims.Email

	sess, err := h.svc.Initiate(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err, "failed to start checkout")
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListMine handles GET /rentals.
func (h *RentalHandler) ListMine(c *gin.Context) {
	rs, err := h.svc.ListMine(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to list rentals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rentals": rs, "count": len(rs)})
}

// GetRental handles GET /rentals/:id for the renter or the listing owner.
func (h *RentalHandler) GetRental(c *gin.Context) {
	id, ok := parseID(c, "rental")
	if !ok {
		return
	}
	r, err := h.svc.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to get rental")
		return
	}
	c.JSON(http.StatusOK, r)
}

// CancelRental handles POST /rentals/:id/cancel.
func (h *RentalHandler) CancelRental(c *gin.Context) {
	id, ok := parseID(c, "rental")
	if !ok {
		return
	}
	r, err := h.svc.Cancel(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to cancel rental")
		return
	}
	c.JSON(http.StatusOK, r)
}

// UpdateRecord handles PATCH /rentals/:id/record.
func (h *RentalHandler) UpdateRecord(c *gin.Context) {
	id, ok := parseID(c, "rental")
	if !ok {
		return
	}
	var req model.UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.svc.UpdateRecord(c.Request.Context(), id, callerID(c), req)
	if err != nil {
		writeError(c, h.logger, err, "failed to update record")
		return
	}
	c.JSON(http.StatusOK, r)
}
