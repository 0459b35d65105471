package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// Reasons returned with an unavailable result.
const (
	ReasonInvalidFormat   = "Invalid subdomain format: use letters, digits and inner hyphens only."
	ReasonListingInactive = "This listing is not currently accepting rentals."
	ReasonMaxReached      = "Maximum subdomains reached for this listing."
	ReasonAlreadyRented   = "This subdomain is already rented."
	ReasonDNSConflict     = "A DNS record already exists for this subdomain."
)

// AvailabilityService decides whether a subdomain label can be rented.
type AvailabilityService struct {
	listings listingStore
	rentals  rentalStore
	factory  ClientFactory
	logger   *zap.Logger
}

// NewAvailabilityService creates an AvailabilityService.
func NewAvailabilityService(listings listingStore, rentals rentalStore, factory ClientFactory, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{listings: listings, rentals: rentals, factory: factory, logger: logger}
}

// Check answers whether label is available on the listing. Business
// rejections are returned as an unavailable result, not an error.
func (s *AvailabilityService) Check(ctx context.Context, listingID uuid.UUID, label string) (*model.Availability, error) {
	if !ValidSubdomain(label) {
		return &model.Availability{Subdomain: label, Reason: ReasonInvalidFormat}, nil
	}

	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return s.check(ctx, l, label)
}

func (s *AvailabilityService) check(ctx context.Context, l *model.Listing, label string) (*model.Availability, error) {
	if !ValidSubdomain(label) {
		return &model.Availability{Subdomain: label, Reason: ReasonInvalidFormat}, nil
	}
	label = strings.ToLower(label)
	fqdn := l.FullDomain(label)
	unavailable := func(reason string) *model.Availability {
		return &model.Availability{Subdomain: label, FullDomain: fqdn, Reason: reason}
	}

	if l.Status != model.ListingStatusActive {
		return unavailable(ReasonListingInactive), nil
	}

	active, err := s.rentals.CountActiveByListing(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("count active rentals: %w", err)
	}
	if active >= l.MaxSubdomains {
		return unavailable(ReasonMaxReached), nil
	}

	taken, err := s.rentals.ActiveExists(ctx, l.ID, label)
	if err != nil {
		return nil, fmt.Errorf("check active rental: %w", err)
	}
	if taken {
		return unavailable(ReasonAlreadyRented), nil
	}

	if l.Verified {
		conflict, err := s.liveConflict(ctx, l, label, fqdn)
		if err != nil {
			return nil, err
		}
		if conflict {
			return unavailable(ReasonDNSConflict), nil
		}
	}

	return &model.Availability{
		Available:  true,
		Subdomain:  label,
		FullDomain: fqdn,
		Price:      l.Price,
		Interval:   string(l.Interval),
	}, nil
}

// liveConflict looks for records created outside this system. A registrar
// failure is logged and treated as no conflict; the database checks are the
// primary guarantee.
func (s *AvailabilityService) liveConflict(ctx context.Context, l *model.Listing, label, fqdn string) (bool, error) {
	client, err := s.factory.CreateClient(l.Registrar, l.Domain, l.SealedCredentials)
	if err != nil {
		return false, fmt.Errorf("create registrar client: %w", err)
	}
	records, err := client.ListRecords(ctx, "")
	if err != nil {
		s.logger.Warn("live DNS conflict check failed, continuing",
			zap.String("listing_id", l.ID.String()),
			zap.String("full_domain", fqdn),
			zap.Error(err),
		)
		return false, nil
	}
	for _, r := range records {
		if registrar.MatchesSubdomain(r.Name, label, fqdn) {
			return true, nil
		}
	}
	return false, nil
}
