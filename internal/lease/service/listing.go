package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/dns"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// DefaultMaxSubdomains applies when a listing is created without a limit.
const DefaultMaxSubdomains = 10

// ListingService manages the listings owners offer.
type ListingService struct {
	listings listingStore
	rentals  rentalStore
	factory  ClientFactory
	sealer   Sealer
	logger   *zap.Logger
}

// NewListingService creates a ListingService.
func NewListingService(listings listingStore, rentals rentalStore, factory ClientFactory, sealer Sealer, logger *zap.Logger) *ListingService {
	return &ListingService{
		listings: listings,
		rentals:  rentals,
		factory:  factory,
		sealer:   sealer,
		logger:   logger,
	}
}

// Create validates req, checks the credentials against the registrar and
// stores a new unverified listing with a fresh verification token.
func (s *ListingService) Create(ctx context.Context, req model.CreateListingRequest) (*model.Listing, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	domain, err := normalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	tag, err := registrar.ParseTag(req.Registrar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	kinds, err := parseRecordTypes(req.AllowedRecordTypes)
	if err != nil {
		return nil, err
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if req.MaxSubdomains < 0 {
		return nil, fmt.Errorf("%w: max_subdomains must be positive", ErrInvalidInput)
	}
	if req.MaxSubdomains == 0 {
		req.MaxSubdomains = DefaultMaxSubdomains
	}
	interval := billing.IntervalMonth
	if req.Interval != "" {
		var ok bool
		if interval, ok = billing.ParseInterval(req.Interval); !ok {
			return nil, fmt.Errorf("%w: unsupported billing interval %q", ErrInvalidInput, req.Interval)
		}
	}

	sealed, err := s.checkAndSeal(ctx, tag, domain, req.Credentials)
	if err != nil {
		return nil, err
	}

	challenge, err := dns.NewChallenge(domain)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	l := &model.Listing{
		Domain:             domain,
		OwnerID:            req.OwnerID,
		Registrar:          tag,
		SealedCredentials:  sealed,
		AllowedRecordTypes: kinds,
		MaxSubdomains:      req.MaxSubdomains,
		VerificationToken:  &challenge.Token,
		Status:             model.ListingStatusActive,
		Price:              req.Price,
		Interval:           interval,
	}
	if err := s.listings.Create(ctx, l); err != nil {
		if errors.Is(err, repository.ErrDomainTaken) {
			return nil, ErrDomainTaken
		}
		return nil, fmt.Errorf("persist listing: %w", err)
	}

	s.logger.Info("listing created",
		zap.String("listing_id", l.ID.String()),
		zap.String("domain", l.Domain),
		zap.String("registrar", string(l.Registrar)),
	)
	return l, nil
}

// Get returns a listing. Callers other than the owner see the public view.
func (s *ListingService) Get(ctx context.Context, id uuid.UUID, callerID string) (*model.Listing, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return l.Public(), nil
	}
	return l, nil
}

// ListPublic returns active, verified listings.
func (s *ListingService) ListPublic(ctx context.Context, limit, offset int) ([]*model.Listing, error) {
	ls, err := s.listings.ListPublic(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	out := make([]*model.Listing, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Public())
	}
	return out, nil
}

// ListByOwner returns the caller's own listings.
func (s *ListingService) ListByOwner(ctx context.Context, ownerID string) ([]*model.Listing, error) {
	ls, err := s.listings.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owner listings: %w", err)
	}
	return ls, nil
}

// Update applies the owner's changes. New credentials are validated against
// the registrar before they replace the stored ones.
func (s *ListingService) Update(ctx context.Context, id uuid.UUID, ownerID string, req model.UpdateListingRequest) (*model.Listing, error) {
	l, err := s.loadOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if req.AllowedRecordTypes != nil {
		kinds, err := parseRecordTypes(req.AllowedRecordTypes)
		if err != nil {
			return nil, err
		}
		l.AllowedRecordTypes = kinds
	}
	if req.MaxSubdomains != nil {
		if *req.MaxSubdomains <= 0 {
			return nil, fmt.Errorf("%w: max_subdomains must be positive", ErrInvalidInput)
		}
		l.MaxSubdomains = *req.MaxSubdomains
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
		}
		l.Price = *req.Price
	}
	if req.Interval != nil {
		interval, ok := billing.ParseInterval(*req.Interval)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported billing interval %q", ErrInvalidInput, *req.Interval)
		}
		l.Interval = interval
	}
	if req.Status != nil {
		switch st := model.ListingStatus(*req.Status); st {
		case model.ListingStatusActive, model.ListingStatusInactive:
			l.Status = st
		default:
			return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, *req.Status)
		}
	}
	if req.Credentials != nil {
		sealed, err := s.checkAndSeal(ctx, l.Registrar, l.Domain, req.Credentials)
		if err != nil {
			return nil, err
		}
		l.SealedCredentials = sealed
	}

	if err := s.listings.Update(ctx, l); err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("update listing: %w", err)
	}
	s.logger.Info("listing updated", zap.String("listing_id", l.ID.String()))
	return l, nil
}

// Delete removes a listing that has no active rentals.
func (s *ListingService) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	l, err := s.loadOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	n, err := s.rentals.CountActiveByListing(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("count active rentals: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d active", ErrListingHasRental, n)
	}
	if err := s.listings.Delete(ctx, l.ID); err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return ErrListingNotFound
		}
		return fmt.Errorf("delete listing: %w", err)
	}
	s.logger.Info("listing deleted", zap.String("listing_id", l.ID.String()), zap.String("domain", l.Domain))
	return nil
}

func (s *ListingService) checkAndSeal(ctx context.Context, tag registrar.Tag, domain string, creds map[string]string) (string, error) {
	raw, err := registrar.CredentialsFromMap(tag, creds)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	res := s.factory.ValidateCredentials(ctx, tag, domain, raw)
	if !res.Valid {
		s.logger.Info("registrar credentials rejected",
			zap.String("domain", domain),
			zap.String("registrar", string(tag)),
			zap.String("reason", res.Error),
		)
		return "", fmt.Errorf("%w: %s", ErrCredentials, res.Error)
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("seal credentials: %w", err)
	}
	return sealed, nil
}

func (s *ListingService) load(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *ListingService) loadOwned(ctx context.Context, id uuid.UUID, ownerID string) (*model.Listing, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return l, nil
}
