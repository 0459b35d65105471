package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/dns"
	"github.com/jmerrifield20/sublease/internal/identity"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/service"
)

// ListingHandler serves listing management, domain verification and
// availability checks.
type ListingHandler struct {
	listings     *service.ListingService
	verification *service.VerificationService
	availability *service.AvailabilityService
	tokens       *identity.UserTokenIssuer
	logger       *zap.Logger
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(
	listings *service.ListingService,
	verification *service.VerificationService,
	availability *service.AvailabilityService,
	tokens *identity.UserTokenIssuer,
	logger *zap.Logger,
) *ListingHandler {
	return &ListingHandler{
		listings:     listings,
		verification: verification,
		availability: availability,
		tokens:       tokens,
		logger:       logger,
	}
}

// Register mounts the listing routes on the given router group.
func (h *ListingHandler) Register(rg *gin.RouterGroup) {
	ls := rg.Group("/listings")
	ls.GET("", h.ListPublic)
	ls.GET("/:id", identity.OptionalUserToken(h.tokens), h.GetListing)
	ls.GET("/:id/availability", h.CheckAvailability)

	auth := ls.Group("", identity.RequireUserToken(h.tokens))
	{
		auth.POST("", h.CreateListing)
		auth.GET("/mine", h.ListMine)
		auth.PATCH("/:id", h.UpdateListing)
		auth.DELETE("/:id", h.DeleteListing)
		auth.GET("/:id/verification", h.VerificationInstructions)
		auth.POST("/:id/verify", h.VerifyDomain)
	}
}

// CreateListing handles POST /listings.
func (h *ListingHandler) CreateListing(c *gin.Context) {
	var req model.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.OwnerID = callerID(c)

	l, err := h.listings.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err, "failed to create listing")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"listing":      l,
		"verification": h.instructionsFor(l),
	})
}

// ListPublic handles GET /listings?limit=&offset=.
func (h *ListingHandler) ListPublic(c *gin.Context) {
	limit := queryInt(c, "limit", 20, 100)
	offset := queryInt(c, "offset", 0, 0)

	ls, err := h.listings.ListPublic(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, h.logger, err, "failed to list listings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": ls, "count": len(ls)})
}

// ListMine handles GET /listings/mine.
func (h *ListingHandler) ListMine(c *gin.Context) {
	ls, err := h.listings.ListByOwner(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to list listings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": ls, "count": len(ls)})
}

// GetListing handles GET /listings/:id. The owner sees the verification token.
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	l, err := h.listings.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to get listing")
		return
	}
	c.JSON(http.StatusOK, l)
}

// UpdateListing handles PATCH /listings/:id.
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	var req model.UpdateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := h.listings.Update(c.Request.Context(), id, callerID(c), req)
	if err != nil {
		writeError(c, h.logger, err, "failed to update listing")
		return
	}
	c.JSON(http.StatusOK, l)
}

// DeleteListing handles DELETE /listings/:id.
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	if err := h.listings.Delete(c.Request.Context(), id, callerID(c)); err != nil {
		writeError(c, h.logger, err, "failed to delete listing")
		return
	}
	c.Status(http.StatusNoContent)
}

// VerificationInstructions handles GET /listings/:id/verification.
func (h *ListingHandler) VerificationInstructions(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	res, err := h.verification.Instructions(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "failed to load verification instructions")
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyDomain handles POST /listings/:id/verify. A failed check is a 200
// with verified=false and remediation.
func (h *ListingHandler) VerifyDomain(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	res, err := h.verification.Verify(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.logger, err, "verification error")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CheckAvailability handles GET /listings/:id/availability?subdomain=.
func (h *ListingHandler) CheckAvailability(c *gin.Context) {
	id, ok := parseID(c, "listing")
	if !ok {
		return
	}
	label := c.Query("subdomain")
	if label == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdomain query parameter is required"})
		return
	}
	res, err := h.availability.Check(c.Request.Context(), id, label)
	if err != nil {
		writeError(c, h.logger, err, "availability check failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ListingHandler) instructionsFor(l *model.Listing) *dns.Instructions {
	if l.VerificationToken == nil {
		return nil
	}
	in := (&dns.Challenge{Domain: l.Domain, Token: *l.VerificationToken}).Instructions()
	return &in
}
