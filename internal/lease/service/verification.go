package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/dns"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
)

// VerificationResult is the outcome of an ownership check. A failed check
// is a normal result carrying remediation, not an error.
type VerificationResult struct {
	Verified        bool              `json:"verified"`
	AlreadyVerified bool              `json:"already_verified,omitempty"`
	Message         string            `json:"message"`
	Instructions    *dns.Instructions `json:"instructions,omitempty"`
	// PubliclyVisible is set when a public resolver was consulted.
	PubliclyVisible *bool `json:"publicly_visible,omitempty"`
}

// VerificationService proves that a listing's owner controls its domain.
type VerificationService struct {
	listings listingStore
	factory  ClientFactory
	probe    TXTProbe // nil = no public resolver check
	logger   *zap.Logger
}

// NewVerificationService creates a VerificationService.
func NewVerificationService(listings listingStore, factory ClientFactory, logger *zap.Logger) *VerificationService {
	return &VerificationService{listings: listings, factory: factory, logger: logger}
}

// SetProbe enables the public resolver check on failed verifications.
func (s *VerificationService) SetProbe(p TXTProbe) {
	s.probe = p
}

// Instructions returns the record the owner must publish, or a verified
// result when there is nothing left to do.
func (s *VerificationService) Instructions(ctx context.Context, listingID uuid.UUID, ownerID string) (*VerificationResult, error) {
	l, err := s.loadOwned(ctx, listingID, ownerID)
	if err != nil {
		return nil, err
	}
	if l.Verified {
		return &VerificationResult{Verified: true, AlreadyVerified: true, Message: "Domain ownership is already verified."}, nil
	}
	in := s.challenge(l).Instructions()
	return &VerificationResult{
		Message:      fmt.Sprintf("Publish a TXT record at %s with value %s, then request verification.", in.Host, in.Value),
		Instructions: &in,
	}, nil
}

// Verify checks the registrar for the challenge record. It is idempotent
// once the listing is verified and may be retried any number of times
// before that.
func (s *VerificationService) Verify(ctx context.Context, listingID uuid.UUID, ownerID string) (*VerificationResult, error) {
	l, err := s.loadOwned(ctx, listingID, ownerID)
	if err != nil {
		return nil, err
	}
	if l.Verified {
		return &VerificationResult{Verified: true, AlreadyVerified: true, Message: "Domain ownership is already verified."}, nil
	}
	if l.VerificationToken == nil || *l.VerificationToken == "" {
		return nil, fmt.Errorf("listing %s is unverified but has no verification token", l.ID)
	}

	client, err := s.factory.CreateClient(l.Registrar, l.Domain, l.SealedCredentials)
	if err != nil {
		return nil, fmt.Errorf("create registrar client: %w", err)
	}

	challenge := s.challenge(l)
	in := challenge.Instructions()

	v, err := client.VerifyOwnership(ctx, challenge.Token)
	if err != nil {
		s.logger.Error("ownership check could not reach registrar",
			zap.String("listing_id", l.ID.String()),
			zap.String("registrar", string(l.Registrar)),
			zap.Error(err),
		)
		return &VerificationResult{
			Message:      "The registrar could not be queried right now. Check the listing credentials and try again shortly.",
			Instructions: &in,
		}, nil
	}

	if !v.Verified {
		res := &VerificationResult{Message: v.Message, Instructions: &in}
		if s.probe != nil {
			visible, err := s.probe.Visible(ctx, in.Host, in.Value)
			if err != nil {
				s.logger.Warn("public resolver probe failed", zap.String("host", in.Host), zap.Error(err))
			} else {
				res.PubliclyVisible = &visible
			}
		}
		s.logger.Info("ownership verification failed",
			zap.String("listing_id", l.ID.String()),
			zap.String("domain", l.Domain),
		)
		return res, nil
	}

	if err := s.listings.MarkVerified(ctx, l.ID); err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("mark listing verified: %w", err)
	}
	s.logger.Info("domain ownership verified",
		zap.String("listing_id", l.ID.String()),
		zap.String("domain", l.Domain),
	)
	return &VerificationResult{Verified: true, Message: v.Message}, nil
}

func (s *VerificationService) challenge(l *model.Listing) *dns.Challenge {
	token := ""
	if l.VerificationToken != nil {
		token = *l.VerificationToken
	}
	return &dns.Challenge{Domain: l.Domain, Token: token}
}

func (s *VerificationService) loadOwned(ctx context.Context, id uuid.UUID, ownerID string) (*model.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return l, nil
}
