package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/sublease/internal/registrar"
)

// RentalStatus is the lifecycle state of a rental. Cancelled and expired are
// terminal.
type RentalStatus string

const (
	RentalStatusActive    RentalStatus = "active"
	RentalStatusCancelled RentalStatus = "cancelled"
	RentalStatusExpired   RentalStatus = "expired"
)

// DNSStatus records the outcome of the last DNS side effect for a rental.
type DNSStatus string

const (
	DNSStatusPending      DNSStatus = "pending"
	DNSStatusProvisioned  DNSStatus = "provisioned"
	DNSStatusFailed       DNSStatus = "failed"
	DNSStatusRemoved      DNSStatus = "removed"
	DNSStatusRemoveFailed DNSStatus = "remove_failed"
)

// Rental is a renter's lease of one subdomain label under a listing.
type Rental struct {
	ID              uuid.UUID            `json:"id"                      db:"id"`
	ListingID       uuid.UUID            `json:"listing_id"              db:"listing_id"`
	RenterID        string               `json:"renter_id"               db:"renter_id"`
	Subdomain       string               `json:"subdomain"               db:"subdomain"`
	FullDomain      string               `json:"full_domain"             db:"full_domain"`
	RecordType      registrar.RecordType `json:"record_type"             db:"record_type"`
	RecordValue     string               `json:"record_value"            db:"record_value"`
	PeriodStart     *time.Time           `json:"period_start,omitempty"  db:"period_start"`
	PeriodEnd       *time.Time           `json:"period_end,omitempty"    db:"period_end"`
	SubscriptionRef string               `json:"subscription_ref"        db:"subscription_ref"`
	CustomerRef     string               `json:"customer_ref,omitempty"  db:"customer_ref"`
	Status          RentalStatus         `json:"status"                  db:"status"`
	DNSStatus       DNSStatus            `json:"dns_status"              db:"dns_status"`
	DNSRecordID     string               `json:"dns_record_id,omitempty" db:"dns_record_id"`
	DNSError        string               `json:"dns_error,omitempty"     db:"dns_error"`
	CreatedAt       time.Time            `json:"created_at"              db:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"              db:"updated_at"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"  db:"cancelled_at"`
}

// Terminal reports whether the rental can no longer change status.
func (r *Rental) Terminal() bool {
	return r.Status == RentalStatusCancelled || r.Status == RentalStatusExpired
}

// DNSState is the DNS outcome persisted on a rental.
type DNSState struct {
	Status   DNSStatus
	RecordID string
	Error    string
}

// InitiateRentalRequest is the payload for starting a checkout.
type InitiateRentalRequest struct {
	ListingID   string `json:"listing_id"   binding:"required"`
	Subdomain   string `json:"subdomain"    binding:"required"`
	RecordType  string `json:"record_type"  binding:"required"`
	RecordValue string `json:"record_value" binding:"required"`
	// RenterID and Email are set by the handler from the user JWT.
	RenterID string `json:"-"`
	Email    string `json:"-"`
}

// UpdateRecordRequest changes the value a rental's record points at.
type UpdateRecordRequest struct {
	RecordValue string `json:"record_value" binding:"required"`
}

// Availability is the answer to "can this label be rented".
type Availability struct {
	Available  bool   `json:"available"`
	Subdomain  string `json:"subdomain"`
	FullDomain string `json:"full_domain,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Price      int64  `json:"price,omitempty"`
	Interval   string `json:"interval,omitempty"`
}
