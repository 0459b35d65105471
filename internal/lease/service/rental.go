package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// RentalService handles the renter-facing side of rentals. State changes
// that follow payment are applied by the Orchestrator.
type RentalService struct {
	listings     listingStore
	rentals      rentalStore
	availability *AvailabilityService
	factory      ClientFactory
	billing      billing.Provider
	orchestrator *Orchestrator
	logger       *zap.Logger
}

// NewRentalService creates a RentalService.
func NewRentalService(
	listings listingStore,
	rentals rentalStore,
	availability *AvailabilityService,
	factory ClientFactory,
	provider billing.Provider,
	orchestrator *Orchestrator,
	logger *zap.Logger,
) *RentalService {
	return &RentalService{
		listings:     listings,
		rentals:      rentals,
		availability: availability,
		factory:      factory,
		billing:      provider,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Initiate validates the request and opens a recurring checkout. No rental
// exists until the provider confirms the checkout.
func (s *RentalService) Initiate(ctx context.Context, req model.InitiateRentalRequest) (*billing.CheckoutSession, error) {
	if req.RenterID == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: renter identity and email are required", ErrInvalidInput)
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid listing id", ErrInvalidInput)
	}
	if !ValidSubdomain(req.Subdomain) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, ReasonInvalidFormat)
	}
	label := strings.ToLower(req.Subdomain)
	kind, err := registrar.ParseRecordType(req.RecordType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	value := strings.TrimSpace(req.RecordValue)

	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if !l.Verified {
		return nil, ErrNotVerified
	}
	if !l.Allows(kind) {
		return nil, fmt.Errorf("%w: record type %s is not allowed on this listing", ErrInvalidInput, kind)
	}
	if err := validateRecordValue(kind, value); err != nil {
		return nil, err
	}

	avail, err := s.availability.check(ctx, l, label)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, avail.Reason)
	}

	customer, err := s.billing.CreateCustomer(ctx, req.Email)
	if err != nil {
		s.logger.Error("create billing customer", zap.String("renter_id", req.RenterID), zap.Error(err))
		return nil, fmt.Errorf("%w: create customer", ErrBilling)
	}

	fqdn := l.FullDomain(label)
	session, err := s.billing.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerRef: customer,
		Amount:      l.Price,
		Interval:    l.Interval,
		ProductName: "Subdomain " + fqdn,
		Metadata: map[string]string{
			billing.MetaListingID:   l.ID.String(),
			billing.MetaRenterID:    req.RenterID,
			billing.MetaSubdomain:   label,
			billing.MetaFullDomain:  fqdn,
			billing.MetaRecordType:  string(kind),
			billing.MetaRecordValue: value,
		},
	})
	if err != nil {
		s.logger.Error("create checkout session", zap.String("full_domain", fqdn), zap.Error(err))
		return nil, fmt.Errorf("%w: create checkout session", ErrBilling)
	}

	s.logger.Info("checkout started",
		zap.String("listing_id", l.ID.String()),
		zap.String("renter_id", req.RenterID),
		zap.String("full_domain", fqdn),
		zap.String("session_id", session.ID),
	)
	return session, nil
}

// Get returns a rental to its renter or to the owner of its listing.
func (s *RentalService) Get(ctx context.Context, id uuid.UUID, callerID string) (*model.Rental, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.RenterID == callerID {
		return r, nil
	}
	l, err := s.listings.GetByID(ctx, r.ListingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrNotOwner
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	return r, nil
}

// ListMine returns every rental held by renterID, newest first.
func (s *RentalService) ListMine(ctx context.Context, renterID string) ([]*model.Rental, error) {
	rs, err := s.rentals.ListByRenter(ctx, renterID)
	if err != nil {
		return nil, fmt.Errorf("list rentals: %w", err)
	}
	return rs, nil
}

// Cancel stops billing for the rental and tears its DNS record down
// immediately. The subscription-deleted event that follows is a no-op.
func (s *RentalService) Cancel(ctx context.Context, id uuid.UUID, renterID string) (*model.Rental, error) {
	r, err := s.loadRented(ctx, id, renterID)
	if err != nil {
		return nil, err
	}
	if r.Terminal() {
		return nil, ErrRentalNotActive
	}

	if err := s.billing.CancelSubscription(ctx, r.SubscriptionRef); err != nil {
		s.logger.Error("cancel subscription",
			zap.String("rental_id", r.ID.String()),
			zap.String("subscription_ref", r.SubscriptionRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: cancel subscription", ErrBilling)
	}
	if _, err := s.orchestrator.Cancel(ctx, r); err != nil {
		return nil, err
	}
	return s.load(ctx, r.ID)
}

// UpdateRecord points the rental's live record at a new value.
func (s *RentalService) UpdateRecord(ctx context.Context, id uuid.UUID, renterID string, req model.UpdateRecordRequest) (*model.Rental, error) {
	r, err := s.loadRented(ctx, id, renterID)
	if err != nil {
		return nil, err
	}
	if r.Terminal() {
		return nil, ErrRentalNotActive
	}
	value := strings.TrimSpace(req.RecordValue)
	if err := validateRecordValue(r.RecordType, value); err != nil {
		return nil, err
	}

	l, err := s.listings.GetByID(ctx, r.ListingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	client, err := s.factory.CreateClient(l.Registrar, l.Domain, l.SealedCredentials)
	if err != nil {
		return nil, fmt.Errorf("create registrar client: %w", err)
	}

	records, err := client.ListRecords(ctx, r.RecordType)
	if err != nil {
		s.logger.Error("list records for update", zap.String("rental_id", r.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: list records", ErrRegistrar)
	}
	target := ""
	for _, rec := range records {
		if !registrar.MatchesSubdomain(rec.Name, r.Subdomain, r.FullDomain) {
			continue
		}
		if target == "" || rec.ID == r.DNSRecordID {
			target = rec.ID
		}
	}
	if target == "" {
		return nil, ErrRecordMissing
	}

	if err := client.UpdateRecord(ctx, target, registrar.RecordPatch{Value: &value}); err != nil {
		if errors.Is(err, registrar.ErrUnsupportedOperation) {
			return nil, err
		}
		s.logger.Error("update live record",
			zap.String("rental_id", r.ID.String()),
			zap.String("record_id", target),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: update record", ErrRegistrar)
	}

	if err := s.rentals.UpdateRecordValue(ctx, r.ID, value); err != nil {
		if errors.Is(err, repository.ErrRentalNotFound) {
			return nil, ErrRentalNotActive
		}
		return nil, fmt.Errorf("persist record value: %w", err)
	}
	if err := s.rentals.UpdateDNS(ctx, r.ID, model.DNSState{Status: model.DNSStatusProvisioned, RecordID: target}); err != nil {
		s.logger.Warn("failed to persist DNS state", zap.String("rental_id", r.ID.String()), zap.Error(err))
	}

	s.logger.Info("rental record updated",
		zap.String("rental_id", r.ID.String()),
		zap.String("full_domain", r.FullDomain),
	)
	return s.load(ctx, r.ID)
}

func (s *RentalService) load(ctx context.Context, id uuid.UUID) (*model.Rental, error) {
	r, err := s.rentals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRentalNotFound) {
			return nil, ErrRentalNotFound
		}
		return nil, fmt.Errorf("get rental: %w", err)
	}
	return r, nil
}

func (s *RentalService) loadRented(ctx context.Context, id uuid.UUID, renterID string) (*model.Rental, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.RenterID != renterID {
		return nil, ErrNotOwner
	}
	return r, nil
}
