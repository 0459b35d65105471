package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/lease/service"
	"github.com/jmerrifield20/sublease/internal/notify"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// ── In-memory listing store ────────────────────────────────────────────────

type stubListings struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.Listing
}

func newStubListings() *stubListings {
	return &stubListings{rows: make(map[uuid.UUID]*model.Listing)}
}

func (s *stubListings) Create(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Domain == l.Domain {
			return repository.ErrDomainTaken
		}
	}
	l.ID = uuid.New()
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	cp := *l
	s.rows[l.ID] = &cp
	return nil
}

func (s *stubListings) GetByID(_ context.Context, id uuid.UUID) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *stubListings) ListPublic(_ context.Context, limit, offset int) ([]*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Listing
	for _, l := range s.rows {
		if l.Verified && l.Status == model.ListingStatusActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubListings) ListByOwner(_ context.Context, ownerID string) ([]*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Listing
	for _, l := range s.rows {
		if l.OwnerID == ownerID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubListings) Update(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[l.ID]; !ok {
		return repository.ErrListingNotFound
	}
	cp := *l
	s.rows[l.ID] = &cp
	return nil
}

func (s *stubListings) MarkVerified(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	l.Verified = true
	l.VerificationToken = nil
	return nil
}

func (s *stubListings) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return repository.ErrListingNotFound
	}
	delete(s.rows, id)
	return nil
}

// put stores l as-is, assigning an id when missing.
func (s *stubListings) put(l *model.Listing) *model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	cp := *l
	s.rows[l.ID] = &cp
	return l
}

// ── In-memory rental store ─────────────────────────────────────────────────

type stubRentals struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.Rental
	// limit returns a listing's max_subdomains; Create enforces it when set.
	limit func(listingID uuid.UUID) (int, bool)
}

func newStubRentals() *stubRentals {
	return &stubRentals{rows: make(map[uuid.UUID]*model.Rental)}
}

// Create mirrors the partial unique index on active (listing, subdomain)
// and the unique subscription reference.
func (s *stubRentals) Create(_ context.Context, r *model.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, row := range s.rows {
		if row.Status == model.RentalStatusActive && row.ListingID == r.ListingID {
			active++
		}
	}
	if s.limit != nil {
		maxSubs, ok := s.limit(r.ListingID)
		if !ok {
			return repository.ErrListingNotFound
		}
		if r.Status == model.RentalStatusActive && active >= maxSubs {
			return repository.ErrMaxSubdomainsReached
		}
	}
	for _, row := range s.rows {
		if row.Status == model.RentalStatusActive && row.ListingID == r.ListingID &&
			strings.EqualFold(row.Subdomain, r.Subdomain) {
			return repository.ErrSubdomainTaken
		}
		if r.SubscriptionRef != "" && row.SubscriptionRef == r.SubscriptionRef {
			return repository.ErrDuplicate
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *stubRentals) GetByID(_ context.Context, id uuid.UUID) (*model.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrRentalNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubRentals) GetBySubscriptionRef(_ context.Context, ref string) (*model.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.SubscriptionRef == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrRentalNotFound
}

func (s *stubRentals) ListByRenter(_ context.Context, renterID string) ([]*model.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Rental
	for _, r := range s.rows {
		if r.RenterID == renterID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubRentals) CountActiveByListing(_ context.Context, listingID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if r.ListingID == listingID && r.Status == model.RentalStatusActive {
			n++
		}
	}
	return n, nil
}

func (s *stubRentals) ActiveExists(_ context.Context, listingID uuid.UUID, subdomain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.ListingID == listingID && r.Status == model.RentalStatusActive && strings.EqualFold(r.Subdomain, subdomain) {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRentals) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != model.RentalStatusActive {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = model.RentalStatusCancelled
	r.CancelledAt = &now
	return true, nil
}

func (s *stubRentals) UpdateDNS(_ context.Context, id uuid.UUID, st model.DNSState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return repository.ErrRentalNotFound
	}
	r.DNSStatus = st.Status
	r.DNSRecordID = st.RecordID
	r.DNSError = st.Error
	return nil
}

func (s *stubRentals) UpdateRecordValue(_ context.Context, id uuid.UUID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != model.RentalStatusActive {
		return repository.ErrRentalNotFound
	}
	r.RecordValue = value
	return nil
}

func (s *stubRentals) UpdatePeriod(_ context.Context, id uuid.UUID, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return repository.ErrRentalNotFound
	}
	r.PeriodStart, r.PeriodEnd = &start, &end
	return nil
}

// put stores r as-is, assigning an id when missing.
func (s *stubRentals) put(r *model.Rental) *model.Rental {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	s.rows[r.ID] = &cp
	return r
}

func (s *stubRentals) all() []*model.Rental {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Rental, 0, len(s.rows))
	for _, r := range s.rows {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// ── In-memory transaction store ────────────────────────────────────────────

type stubTransactions struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.Transaction
}

func newStubTransactions() *stubTransactions {
	return &stubTransactions{rows: make(map[uuid.UUID]*model.Transaction)}
}

func (s *stubTransactions) Create(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.PaymentRef == tx.PaymentRef {
			return repository.ErrDuplicate
		}
	}
	tx.ID = uuid.New()
	tx.CreatedAt = time.Now().UTC()
	tx.UpdatedAt = tx.CreatedAt
	cp := *tx
	s.rows[tx.ID] = &cp
	return nil
}

func (s *stubTransactions) GetByPaymentRef(_ context.Context, ref string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.rows {
		if tx.PaymentRef == ref {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (s *stubTransactions) UpdateStatus(_ context.Context, id uuid.UUID, status model.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	tx.Status = status
	return nil
}

func (s *stubTransactions) all() []*model.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Transaction, 0, len(s.rows))
	for _, tx := range s.rows {
		cp := *tx
		out = append(out, &cp)
	}
	return out
}

// ── Fake registrar ─────────────────────────────────────────────────────────

type fakeClient struct {
	mu      sync.Mutex
	domain  string
	records []registrar.Record
	nextID  int
	calls   []string
	created []registrar.RecordInput
	deleted []string

	listErr   error
	createErr error
	deleteErr error
	updateErr error
	verifyErr error
}

func newFakeClient(domain string) *fakeClient {
	return &fakeClient{domain: domain}
}

func (c *fakeClient) CreateRecord(_ context.Context, in registrar.RecordInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "create")
	if c.createErr != nil {
		return "", c.createErr
	}
	c.nextID++
	id := fmt.Sprintf("rec-%d", c.nextID)
	c.created = append(c.created, in)
	c.records = append(c.records, registrar.Record{ID: id, Type: in.Type, Name: in.Name, Value: in.Value, TTL: in.TTL})
	return id, nil
}

func (c *fakeClient) DeleteRecord(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "delete")
	if c.deleteErr != nil {
		return c.deleteErr
	}
	for i, r := range c.records {
		if r.ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			c.deleted = append(c.deleted, id)
			return nil
		}
	}
	return registrar.ErrRecordNotFound
}

func (c *fakeClient) UpdateRecord(_ context.Context, id string, patch registrar.RecordPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "update")
	if c.updateErr != nil {
		return c.updateErr
	}
	for i, r := range c.records {
		if r.ID == id {
			if patch.Value != nil {
				c.records[i].Value = *patch.Value
			}
			return nil
		}
	}
	return registrar.ErrRecordNotFound
}

func (c *fakeClient) ListRecords(_ context.Context, kind registrar.RecordType) ([]registrar.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "list")
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []registrar.Record
	for _, r := range c.records {
		if kind == "" || r.Type == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeClient) VerifyOwnership(_ context.Context, token string) (*registrar.Verification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "verify")
	if c.verifyErr != nil {
		return nil, c.verifyErr
	}
	host := registrar.VerificationHost(c.domain)
	for _, r := range c.records {
		if r.Type == registrar.TypeTXT && r.Name == host && r.Value == token {
			return &registrar.Verification{Verified: true, Message: "Domain ownership verified."}, nil
		}
	}
	return &registrar.Verification{Message: "No TXT record named " + host + " was found."}, nil
}

func (c *fakeClient) addRecord(r registrar.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *fakeClient) count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.calls {
		if got == call {
			n++
		}
	}
	return n
}

func (c *fakeClient) mutations() int {
	return c.count("create") + c.count("delete") + c.count("update")
}

type fakeFactory struct {
	client    *fakeClient
	clientErr error
	invalid   string
	validated int
}

func (f *fakeFactory) CreateClient(_ registrar.Tag, _, _ string) (registrar.Client, error) {
	if f.clientErr != nil {
		return nil, f.clientErr
	}
	return f.client, nil
}

func (f *fakeFactory) ValidateCredentials(_ context.Context, _ registrar.Tag, _ string, _ []byte) registrar.ValidationResult {
	f.validated++
	if f.invalid != "" {
		return registrar.ValidationResult{Error: f.invalid}
	}
	return registrar.ValidationResult{Valid: true}
}

type fakeSealer struct{}

func (fakeSealer) Seal(plaintext []byte) (string, error) {
	return "sealed:" + string(plaintext), nil
}

// ── Fake billing provider ──────────────────────────────────────────────────

type fakeBilling struct {
	mu        sync.Mutex
	subs      map[string]*billing.Subscription
	sessions  []billing.CheckoutRequest
	customers []string
	cancelled []string
	piAmount  int64

	customerErr error
	cancelErr   error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{subs: make(map[string]*billing.Subscription)}
}

func (b *fakeBilling) addSubscription(ref string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.subs[ref] = &billing.Subscription{Ref: ref, PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), UnitAmount: amount}
}

func (b *fakeBilling) CreateCustomer(_ context.Context, email string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.customerErr != nil {
		return "", b.customerErr
	}
	b.customers = append(b.customers, email)
	return fmt.Sprintf("cus_%d", len(b.customers)), nil
}

func (b *fakeBilling) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, req)
	id := fmt.Sprintf("cs_%d", len(b.sessions))
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (b *fakeBilling) CancelSubscription(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancelled = append(b.cancelled, ref)
	return nil
}

func (b *fakeBilling) RetrieveSubscription(_ context.Context, ref string) (*billing.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[ref]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	cp := *sub
	return &cp, nil
}

func (b *fakeBilling) RetrievePaymentIntent(_ context.Context, ref string) (*billing.PaymentIntent, error) {
	return &billing.PaymentIntent{Ref: ref, Amount: b.piAmount}, nil
}

func (b *fakeBilling) ParseEvent(_ []byte, _ string) (*billing.Event, error) {
	return nil, billing.ErrInvalidSignature
}

func (b *fakeBilling) cancelledRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// ── Notifications ──────────────────────────────────────────────────────────

type captureNotifier struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (n *captureNotifier) ProvisioningFailed(_ context.Context, f notify.Failure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
	return nil
}

type fakeProbe struct {
	visible bool
	err     error
	asked   []string
}

func (p *fakeProbe) Visible(_ context.Context, host, _ string) (bool, error) {
	p.asked = append(p.asked, host)
	return p.visible, p.err
}

// ── Fixture ────────────────────────────────────────────────────────────────

const testDomain = "example.com"

type fixture struct {
	listings *stubListings
	rentals  *stubRentals
	txs      *stubTransactions
	client   *fakeClient
	factory  *fakeFactory
	billing  *fakeBilling
	notifier *captureNotifier

	availability *service.AvailabilityService
	orchestrator *service.Orchestrator
	rentalSvc    *service.RentalService
	listingSvc   *service.ListingService
	verification *service.VerificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		listings: newStubListings(),
		rentals:  newStubRentals(),
		txs:      newStubTransactions(),
		client:   newFakeClient(testDomain),
		billing:  newFakeBilling(),
		notifier: &captureNotifier{},
	}
	f.factory = &fakeFactory{client: f.client}
	f.rentals.limit = func(id uuid.UUID) (int, bool) {
		l, err := f.listings.GetByID(context.Background(), id)
		if err != nil {
			return 0, false
		}
		return l.MaxSubdomains, true
	}
	logger := zap.NewNop()

	f.availability = service.NewAvailabilityService(f.listings, f.rentals, f.factory, logger)
	f.orchestrator = service.NewOrchestrator(f.listings, f.rentals, f.txs, f.factory, f.billing, logger)
	f.orchestrator.SetNotifier(f.notifier)
	f.rentalSvc = service.NewRentalService(f.listings, f.rentals, f.availability, f.factory, f.billing, f.orchestrator, logger)
	f.listingSvc = service.NewListingService(f.listings, f.rentals, f.factory, fakeSealer{}, logger)
	f.verification = service.NewVerificationService(f.listings, f.factory, logger)
	return f
}

// verifiedListing stores a verified Cloudflare listing allowing kinds.
func (f *fixture) verifiedListing(kinds ...registrar.RecordType) *model.Listing {
	if len(kinds) == 0 {
		kinds = []registrar.RecordType{registrar.TypeA}
	}
	return f.listings.put(&model.Listing{
		Domain:             testDomain,
		OwnerID:            "owner-1",
		Registrar:          registrar.Cloudflare,
		SealedCredentials:  "sealed",
		AllowedRecordTypes: kinds,
		MaxSubdomains:      10,
		Verified:           true,
		Status:             model.ListingStatusActive,
		Price:              500,
		Interval:           billing.IntervalMonth,
	})
}

func checkoutEvent(l *model.Listing, subRef, label string, kind registrar.RecordType, value string) *billing.Event {
	return &billing.Event{
		ID:              "evt_" + subRef,
		Type:            billing.EventCheckoutCompleted,
		RawType:         "checkout.session.completed",
		SubscriptionRef: subRef,
		CustomerRef:     "cus_1",
		PaymentRef:      "in_" + subRef,
		Metadata: map[string]string{
			billing.MetaListingID:   l.ID.String(),
			billing.MetaRenterID:    "renter-1",
			billing.MetaSubdomain:   label,
			billing.MetaFullDomain:  l.FullDomain(label),
			billing.MetaRecordType:  string(kind),
			billing.MetaRecordValue: value,
		},
	}
}

func subscriptionDeleted(subRef string) *billing.Event {
	return &billing.Event{
		ID:              "evt_del_" + subRef,
		Type:            billing.EventSubscriptionDeleted,
		RawType:         "customer.subscription.deleted",
		SubscriptionRef: subRef,
	}
}
