// Package service holds the leasing business logic: listings and their
// ownership verification, availability, rental checkout, and the billing
// driven rental lifecycle.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/notify"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// listingStore is the persistence interface for listings.
// *repository.ListingRepository satisfies this interface.
type listingStore interface {
	Create(ctx context.Context, l *model.Listing) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*model.Listing, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Listing, error)
	Update(ctx context.Context, l *model.Listing) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// rentalStore is the persistence interface for rentals.
// *repository.RentalRepository satisfies this interface.
type rentalStore interface {
	Create(ctx context.Context, r *model.Rental) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Rental, error)
	GetBySubscriptionRef(ctx context.Context, ref string) (*model.Rental, error)
	ListByRenter(ctx context.Context, renterID string) ([]*model.Rental, error)
	CountActiveByListing(ctx context.Context, listingID uuid.UUID) (int, error)
	ActiveExists(ctx context.Context, listingID uuid.UUID, subdomain string) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateDNS(ctx context.Context, id uuid.UUID, st model.DNSState) error
	UpdateRecordValue(ctx context.Context, id uuid.UUID, value string) error
	UpdatePeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error
}

// transactionStore is the persistence interface for transactions.
// *repository.TransactionRepository satisfies this interface.
type transactionStore interface {
	Create(ctx context.Context, tx *model.Transaction) error
	GetByPaymentRef(ctx context.Context, ref string) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus) error
}

// ClientFactory builds registrar clients. *registrar.Factory satisfies this.
type ClientFactory interface {
	CreateClient(tag registrar.Tag, domain, sealed string) (registrar.Client, error)
	ValidateCredentials(ctx context.Context, tag registrar.Tag, domain string, raw []byte) registrar.ValidationResult
}

// Sealer encrypts credentials for storage. *secrets.Codec satisfies this.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
}

// Notifier is told about DNS side effects that failed. *notify.Mailer
// satisfies this.
type Notifier interface {
	ProvisioningFailed(ctx context.Context, f notify.Failure) error
}

// TXTProbe looks a TXT value up in public DNS. *dns.Probe satisfies this.
type TXTProbe interface {
	Visible(ctx context.Context, host, value string) (bool, error)
}

// Sentinel errors for the lease services.
var (
	ErrListingNotFound  = errors.New("listing not found")
	ErrRentalNotFound   = errors.New("rental not found")
	ErrNotOwner         = errors.New("not permitted for this caller")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDomainTaken      = errors.New("a listing for this domain already exists")
	ErrSubdomainTaken   = errors.New("subdomain is already rented")
	ErrCredentials      = errors.New("registrar credentials were rejected")
	ErrListingHasRental = errors.New("listing has active rentals")
	ErrRentalNotActive  = errors.New("rental is not active")
	ErrNotVerified      = errors.New("listing domain is not verified")
	ErrUnavailable      = errors.New("subdomain is not available")
	ErrBilling          = errors.New("billing provider request failed")
	ErrRegistrar        = errors.New("registrar request failed")
	ErrRecordMissing    = errors.New("no live DNS record found for rental")
)
