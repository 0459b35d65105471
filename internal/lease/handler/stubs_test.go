package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/identity"
	"github.com/jmerrifield20/sublease/internal/lease/handler"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/lease/service"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// ── Stub stores ──────────────────────────────────────────────────────────

type memListings struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Listing
}

func (s *memListings) Create(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Domain == l.Domain {
			return repository.ErrDomainTaken
		}
	}
	l.ID = uuid.New()
	cp := *l
	s.rows[l.ID] = &cp
	return nil
}

func (s *memListings) GetByID(_ context.Context, id uuid.UUID) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memListings) ListPublic(_ context.Context, _, _ int) ([]*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Listing
	for _, l := range s.rows {
		if l.Verified {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memListings) ListByOwner(_ context.Context, owner string) ([]*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Listing
	for _, l := range s.rows {
		if l.OwnerID == owner {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memListings) Update(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.rows[l.ID] = &cp
	return nil
}

func (s *memListings) MarkVerified(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Verified = true
	s.rows[id].VerificationToken = nil
	return nil
}

func (s *memListings) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

type memRentals struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Rental
}

func (s *memRentals) Create(_ context.Context, r *model.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.New()
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *memRentals) GetByID(_ context.Context, id uuid.UUID) (*model.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrRentalNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memRentals) GetBySubscriptionRef(_ context.Context, ref string) (*model.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.SubscriptionRef == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrRentalNotFound
}

func (s *memRentals) ListByRenter(_ context.Context, renter string) ([]*model.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Rental
	for _, r := range s.rows {
		if r.RenterID == renter {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memRentals) CountActiveByListing(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.ListingID == id && r.Status == model.RentalStatusActive {
			n++
		}
	}
	return n, nil
}

func (s *memRentals) ActiveExists(_ context.Context, id uuid.UUID, sub string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ListingID == id && r.Status == model.RentalStatusActive && strings.EqualFold(r.Subdomain, sub) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memRentals) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != model.RentalStatusActive {
		return false, nil
	}
	r.Status = model.RentalStatusCancelled
	return true, nil
}

func (s *memRentals) UpdateDNS(_ context.Context, id uuid.UUID, st model.DNSState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.DNSStatus, r.DNSRecordID, r.DNSError = st.Status, st.RecordID, st.Error
	}
	return nil
}

func (s *memRentals) UpdateRecordValue(_ context.Context, id uuid.UUID, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.RecordValue = v
	}
	return nil
}

func (s *memRentals) UpdatePeriod(_ context.Context, _ uuid.UUID, _, _ time.Time) error {
	return nil
}

type memTransactions struct{}

func (memTransactions) Create(_ context.Context, _ *model.Transaction) error { return nil }
func (memTransactions) GetByPaymentRef(_ context.Context, _ string) (*model.Transaction, error) {
	return nil, repository.ErrTransactionNotFound
}
func (memTransactions) UpdateStatus(_ context.Context, _ uuid.UUID, _ model.TransactionStatus) error {
	return nil
}

// ── Registrar and billing fakes ──────────────────────────────────────────

type fakeClient struct {
	mu      sync.Mutex
	records []registrar.Record
}

func (c *fakeClient) CreateRecord(_ context.Context, in registrar.RecordInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("rec-%d", len(c.records)+1)
	c.records = append(c.records, registrar.Record{ID: id, Type: in.Type, Name: in.Name, Value: in.Value})
	return id, nil
}

func (c *fakeClient) DeleteRecord(_ context.Context, _ string) error { return nil }

func (c *fakeClient) UpdateRecord(_ context.Context, _ string, _ registrar.RecordPatch) error {
	return registrar.ErrUnsupportedOperation
}

func (c *fakeClient) ListRecords(_ context.Context, _ registrar.RecordType) ([]registrar.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]registrar.Record(nil), c.records...), nil
}

func (c *fakeClient) VerifyOwnership(_ context.Context, _ string) (*registrar.Verification, error) {
	return &registrar.Verification{Message: "No TXT record found."}, nil
}

type fakeFactory struct{ client *fakeClient }

func (f fakeFactory) CreateClient(_ registrar.Tag, _, _ string) (registrar.Client, error) {
	return f.client, nil
}

func (f fakeFactory) ValidateCredentials(_ context.Context, _ registrar.Tag, _ string, _ []byte) registrar.ValidationResult {
	return registrar.ValidationResult{Valid: true}
}

type plainSealer struct{}

func (plainSealer) Seal(p []byte) (string, error) { return string(p), nil }

type fakeProvider struct {
	mu    sync.Mutex
	parse func(payload []byte, sig string) (*billing.Event, error)
}

func (p *fakeProvider) CreateCustomer(_ context.Context, _ string) (string, error) {
	return "cus_1", nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, _ billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, _ string) error { return nil }

func (p *fakeProvider) RetrieveSubscription(_ context.Context, ref string) (*billing.Subscription, error) {
	return &billing.Subscription{Ref: ref, UnitAmount: 500}, nil
}

func (p *fakeProvider) RetrievePaymentIntent(_ context.Context, ref string) (*billing.PaymentIntent, error) {
	return &billing.PaymentIntent{Ref: ref}, nil
}

func (p *fakeProvider) ParseEvent(payload []byte, sig string) (*billing.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parse(payload, sig)
}

// ── Router setup ─────────────────────────────────────────────────────────

const testSecret = "handler-test-secret-0123456789abcdef"

type env struct {
	router   *gin.Engine
	listings *memListings
	rentals  *memRentals
	tokens   *identity.UserTokenIssuer
}

func setupRouter(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	tokens, err := identity.NewUserTokenIssuer(testSecret, "https://sublease.test", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	e := &env{
		listings: &memListings{rows: make(map[uuid.UUID]*model.Listing)},
		rentals:  &memRentals{rows: make(map[uuid.UUID]*model.Rental)},
		tokens:   tokens,
	}
	factory := fakeFactory{client: &fakeClient{}}
	provider := &fakeProvider{}

	availability := service.NewAvailabilityService(e.listings, e.rentals, factory, logger)
	orchestrator := service.NewOrchestrator(e.listings, e.rentals, memTransactions{}, factory, provider, logger)
	listingSvc := service.NewListingService(e.listings, e.rentals, factory, plainSealer{}, logger)
	verification := service.NewVerificationService(e.listings, factory, logger)
	rentalSvc := service.NewRentalService(e.listings, e.rentals, availability, factory, provider, orchestrator, logger)

	e.router = gin.New()
	v1 := e.router.Group("/api/v1")
	handler.NewListingHandler(listingSvc, verification, availability, tokens, logger).Register(v1)
	handler.NewRentalHandler(rentalSvc, tokens, logger).Register(v1)
	return e
}

func (e *env) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, userID+"@example.org")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func (e *env) do(method, path, auth, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) putListing(verified bool) *model.Listing {
	l := &model.Listing{
		ID:                 uuid.New(),
		Domain:             "example.com",
		OwnerID:            "owner-1",
		Registrar:          registrar.Cloudflare,
		AllowedRecordTypes: []registrar.RecordType{registrar.TypeA},
		MaxSubdomains:      5,
		Verified:           verified,
		Status:             model.ListingStatusActive,
		Price:              500,
		Interval:           billing.IntervalMonth,
	}
	if !verified {
		tok := "abc123"
		l.VerificationToken = &tok
	}
	e.listings.mu.Lock()
	e.listings.rows[l.ID] = l
	e.listings.mu.Unlock()
	return l
}
