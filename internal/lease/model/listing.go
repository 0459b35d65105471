package model

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
)

// Listing is an owner's offer to lease subdomains of one domain.
type Listing struct {
	ID                 uuid.UUID              `json:"id"                           db:"id"`
	Domain             string                 `json:"domain"                       db:"domain"`
	OwnerID            string                 `json:"owner_id"                     db:"owner_id"`
	Registrar          registrar.Tag          `json:"registrar"                    db:"registrar"`
	SealedCredentials  string                 `json:"-"                            db:"sealed_credentials"`
	AllowedRecordTypes []registrar.RecordType `json:"allowed_record_types"         db:"allowed_record_types"`
	MaxSubdomains      int                    `json:"max_subdomains"               db:"max_subdomains"`
	// VerificationToken is set until the domain is verified, then cleared.
	VerificationToken *string          `json:"verification_token,omitempty" db:"verification_token"`
	Verified          bool             `json:"verified"                     db:"verified"`
	Status            ListingStatus    `json:"status"                       db:"status"`
	Price             int64            `json:"price"                        db:"price"`
	Interval          billing.Interval `json:"interval"                     db:"billing_interval"`
	CreatedAt         time.Time        `json:"created_at"                   db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"                   db:"updated_at"`
}

// Allows reports whether kind is among the listing's allowed record types.
func (l *Listing) Allows(kind registrar.RecordType) bool {
	return slices.Contains(l.AllowedRecordTypes, kind)
}

// FullDomain joins label onto the listing's domain.
func (l *Listing) FullDomain(label string) string {
	return registrar.FQDN(label, l.Domain)
}

// Public returns a copy safe to show to parties other than the owner.
func (l *Listing) Public() *Listing {
	cp := *l
	cp.VerificationToken = nil
	return &cp
}

// CreateListingRequest is the payload for creating a listing.
type CreateListingRequest struct {
	Domain             string            `json:"domain"               binding:"required"`
	Registrar          string            `json:"registrar"            binding:"required"`
	Credentials        map[string]string `json:"credentials"          binding:"required"`
	AllowedRecordTypes []string          `json:"allowed_record_types" binding:"required"`
	MaxSubdomains      int               `json:"max_subdomains"`
	Price              int64             `json:"price"`
	Interval           string            `json:"interval"`
	// OwnerID is set by the handler from the user JWT; not from the client body.
	OwnerID string `json:"-"`
}

// UpdateListingRequest is the payload for updating a listing. Nil fields
// are left unchanged.
type UpdateListingRequest struct {
	Credentials        map[string]string `json:"credentials"`
	AllowedRecordTypes []string          `json:"allowed_record_types"`
	MaxSubdomains      *int              `json:"max_subdomains"`
	Price              *int64            `json:"price"`
	Interval           *string           `json:"interval"`
	Status             *string           `json:"status"`
}
