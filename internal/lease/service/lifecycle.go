package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/lease/repository"
	"github.com/jmerrifield20/sublease/internal/notify"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// OutcomeAction summarises what handling an event did.
type OutcomeAction string

const (
	OutcomeCreated   OutcomeAction = "created"
	OutcomeDuplicate OutcomeAction = "duplicate"
	OutcomeRejected  OutcomeAction = "rejected"
	OutcomeConflict  OutcomeAction = "conflict"
	OutcomeCancelled OutcomeAction = "cancelled"
	OutcomeRecorded  OutcomeAction = "recorded"
	OutcomeNoop      OutcomeAction = "noop"
	OutcomeIgnored   OutcomeAction = "ignored"
)

// Outcome is the business result of a lifecycle event. Rejections are
// outcomes, not errors; an error means the event should be redelivered.
type Outcome struct {
	Action   OutcomeAction `json:"action"`
	RentalID *uuid.UUID    `json:"rental_id,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// provisionResult is the outcome of one DNS side effect. It is logged and
// persisted on the rental, never raised.
type provisionResult struct {
	ok       bool
	skipped  bool
	recordID string
	message  string
}

// DefaultMXPriority is used for MX records created for a rental.
const DefaultMXPriority = 10

// Orchestrator applies billing lifecycle events to rentals and keeps DNS in
// step with them.
type Orchestrator struct {
	listings listingStore
	rentals  rentalStore
	txs      transactionStore
	factory  ClientFactory
	billing  billing.Provider
	notifier Notifier        // nil = log only
	observe  func(op string) // nil = no metrics
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(listings listingStore, rentals rentalStore, txs transactionStore, factory ClientFactory, provider billing.Provider, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		listings: listings,
		rentals:  rentals,
		txs:      txs,
		factory:  factory,
		billing:  provider,
		logger:   logger,
	}
}

// SetNotifier sets who is told when a DNS side effect fails.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// SetProvisioningObserver registers fn to be called with the operation name
// ("create" or "delete") of every failed DNS side effect.
func (o *Orchestrator) SetProvisioningObserver(fn func(op string)) {
	o.observe = fn
}

// HandleEvent applies one verified billing event. Events may be delivered
// more than once; every branch is idempotent.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *billing.Event) (*Outcome, error) {
	switch ev.Type {
	case billing.EventCheckoutCompleted:
		return o.onCheckoutCompleted(ctx, ev)
	case billing.EventSubscriptionDeleted:
		return o.onSubscriptionDeleted(ctx, ev)
	case billing.EventPaymentFailed:
		return o.onPaymentFailed(ctx, ev)
	case billing.EventPaymentSucceeded:
		return o.onPaymentSucceeded(ctx, ev)
	default:
		return &Outcome{Action: OutcomeIgnored, Message: "event type not handled: " + ev.RawType}, nil
	}
}

func (o *Orchestrator) onCheckoutCompleted(ctx context.Context, ev *billing.Event) (*Outcome, error) {
	log := o.logger.With(zap.String("event_id", ev.ID), zap.String("subscription_ref", ev.SubscriptionRef))
	reject := func(msg string, fields ...zap.Field) (*Outcome, error) {
		log.Warn("checkout rejected: "+msg, fields...)
		return &Outcome{Action: OutcomeRejected, Message: msg}, nil
	}

	if ev.SubscriptionRef == "" {
		return reject("event carries no subscription")
	}
	existing, err := o.rentals.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
	switch {
	case err == nil:
		return &Outcome{Action: OutcomeDuplicate, RentalID: &existing.ID, Message: "rental already exists for subscription"}, nil
	case !errors.Is(err, repository.ErrRentalNotFound):
		return nil, fmt.Errorf("lookup rental by subscription: %w", err)
	}

	meta := ev.Metadata
	listingID, err := uuid.Parse(meta[billing.MetaListingID])
	if err != nil {
		return reject("metadata has no valid listing id")
	}
	label := meta[billing.MetaSubdomain]
	if !ValidSubdomain(label) {
		return reject("metadata subdomain is invalid", zap.String("subdomain", label))
	}
	kind, err := registrar.ParseRecordType(meta[billing.MetaRecordType])
	if err != nil {
		return reject("metadata record type is invalid", zap.String("record_type", meta[billing.MetaRecordType]))
	}
	value := meta[billing.MetaRecordValue]
	if err := validateRecordValue(kind, value); err != nil {
		return reject("metadata record value is invalid", zap.Error(err))
	}
	renterID := meta[billing.MetaRenterID]
	if renterID == "" {
		return reject("metadata has no renter")
	}

	l, err := o.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return reject("listing no longer exists", zap.String("listing_id", listingID.String()))
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if !l.Verified {
		return reject("listing domain is not verified", zap.String("listing_id", l.ID.String()))
	}
	if !l.Allows(kind) {
		return reject("record type not allowed on listing",
			zap.String("listing_id", l.ID.String()),
			zap.String("record_type", string(kind)),
		)
	}

	sub, err := o.billing.RetrieveSubscription(ctx, ev.SubscriptionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve subscription: %v", ErrBilling, err)
	}

	r := &model.Rental{
		ListingID:       l.ID,
		RenterID:        renterID,
		Subdomain:       label,
		FullDomain:      l.FullDomain(label),
		RecordType:      kind,
		RecordValue:     value,
		PeriodStart:     timePtr(sub.PeriodStart),
		PeriodEnd:       timePtr(sub.PeriodEnd),
		SubscriptionRef: ev.SubscriptionRef,
		CustomerRef:     ev.CustomerRef,
		Status:          model.RentalStatusActive,
		DNSStatus:       model.DNSStatusPending,
	}
	if err := o.rentals.Create(ctx, r); err != nil {
		switch {
		case errors.Is(err, repository.ErrSubdomainTaken):
			log.Warn("checkout lost the race for subdomain, cancelling subscription",
				zap.String("listing_id", l.ID.String()),
				zap.String("full_domain", r.FullDomain),
			)
			if cerr := o.billing.CancelSubscription(ctx, ev.SubscriptionRef); cerr != nil {
				log.Error("failed to cancel subscription of conflicting checkout", zap.Error(cerr))
			}
			return &Outcome{Action: OutcomeConflict, Message: ErrSubdomainTaken.Error()}, nil
		case errors.Is(err, repository.ErrMaxSubdomainsReached):
			log.Warn("listing filled up before checkout completed, cancelling subscription",
				zap.String("listing_id", l.ID.String()),
				zap.String("full_domain", r.FullDomain),
				zap.Int("max_subdomains", l.MaxSubdomains),
			)
			if cerr := o.billing.CancelSubscription(ctx, ev.SubscriptionRef); cerr != nil {
				log.Error("failed to cancel subscription of over-limit checkout", zap.Error(cerr))
			}
			return &Outcome{Action: OutcomeConflict, Message: ReasonMaxReached}, nil
		case errors.Is(err, repository.ErrListingNotFound):
			return reject("listing no longer exists", zap.String("listing_id", l.ID.String()))
		case errors.Is(err, repository.ErrDuplicate):
			return &Outcome{Action: OutcomeDuplicate, Message: "rental already exists for subscription"}, nil
		}
		return nil, fmt.Errorf("persist rental: %w", err)
	}

	res := o.provision(ctx, l, r)
	st := model.DNSState{Status: model.DNSStatusProvisioned, RecordID: res.recordID}
	if !res.ok {
		st = model.DNSState{Status: model.DNSStatusFailed, Error: res.message}
		o.failed(ctx, "create", l, r, res.message)
	}
	if err := o.rentals.UpdateDNS(ctx, r.ID, st); err != nil {
		log.Error("failed to persist DNS state", zap.String("rental_id", r.ID.String()), zap.Error(err))
	}

	amount := ev.Amount
	if amount == 0 {
		amount = sub.UnitAmount
	}
	paymentRef := ev.PaymentRef
	if paymentRef == "" {
		paymentRef = ev.ID
	}
	tx := &model.Transaction{
		RentalID:   r.ID,
		Amount:     amount,
		PaymentRef: paymentRef,
		Status:     model.TransactionStatusCompleted,
	}
	if err := o.txs.Create(ctx, tx); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		log.Error("failed to record checkout transaction",
			zap.String("rental_id", r.ID.String()),
			zap.String("payment_ref", paymentRef),
			zap.Error(err),
		)
	}

	log.Info("rental created",
		zap.String("rental_id", r.ID.String()),
		zap.String("full_domain", r.FullDomain),
		zap.Bool("dns_provisioned", res.ok),
	)
	return &Outcome{Action: OutcomeCreated, RentalID: &r.ID}, nil
}

func (o *Orchestrator) onSubscriptionDeleted(ctx context.Context, ev *billing.Event) (*Outcome, error) {
	r, err := o.rentals.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
	if err != nil {
		if errors.Is(err, repository.ErrRentalNotFound) {
			o.logger.Info("subscription deleted for unknown rental", zap.String("subscription_ref", ev.SubscriptionRef))
			return &Outcome{Action: OutcomeIgnored, Message: "no rental for subscription"}, nil
		}
		return nil, fmt.Errorf("lookup rental by subscription: %w", err)
	}
	return o.cancel(ctx, r, true)
}

func (o *Orchestrator) onPaymentFailed(ctx context.Context, ev *billing.Event) (*Outcome, error) {
	var r *model.Rental
	if ev.SubscriptionRef != "" {
		found, err := o.rentals.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
		switch {
		case err == nil:
			r = found
		case !errors.Is(err, repository.ErrRentalNotFound):
			return nil, fmt.Errorf("lookup rental by subscription: %w", err)
		}
	}

	if ev.PaymentRef != "" {
		tx, err := o.txs.GetByPaymentRef(ctx, ev.PaymentRef)
		switch {
		case err == nil:
			if tx.Status != model.TransactionStatusFailed {
				if err := o.txs.UpdateStatus(ctx, tx.ID, model.TransactionStatusFailed); err != nil {
					return nil, fmt.Errorf("mark transaction failed: %w", err)
				}
			}
		case errors.Is(err, repository.ErrTransactionNotFound):
			if r != nil {
				tx := &model.Transaction{
					RentalID:   r.ID,
					Amount:     ev.Amount,
					PaymentRef: ev.PaymentRef,
					Status:     model.TransactionStatusFailed,
				}
				if err := o.txs.Create(ctx, tx); err != nil && !errors.Is(err, repository.ErrDuplicate) {
					return nil, fmt.Errorf("record failed transaction: %w", err)
				}
			}
		default:
			return nil, fmt.Errorf("lookup transaction: %w", err)
		}
	}

	if r == nil {
		o.logger.Info("payment failed for unknown rental",
			zap.String("subscription_ref", ev.SubscriptionRef),
			zap.String("payment_ref", ev.PaymentRef),
		)
		return &Outcome{Action: OutcomeIgnored, Message: "no rental for subscription"}, nil
	}
	return o.cancel(ctx, r, false)
}

func (o *Orchestrator) onPaymentSucceeded(ctx context.Context, ev *billing.Event) (*Outcome, error) {
	if ev.PaymentRef == "" {
		return &Outcome{Action: OutcomeIgnored, Message: "event carries no payment reference"}, nil
	}

	tx, err := o.txs.GetByPaymentRef(ctx, ev.PaymentRef)
	switch {
	case err == nil:
		if tx.Status == model.TransactionStatusCompleted {
			return &Outcome{Action: OutcomeNoop, RentalID: &tx.RentalID}, nil
		}
		if err := o.txs.UpdateStatus(ctx, tx.ID, model.TransactionStatusCompleted); err != nil {
			return nil, fmt.Errorf("mark transaction completed: %w", err)
		}
		return &Outcome{Action: OutcomeRecorded, RentalID: &tx.RentalID}, nil
	case !errors.Is(err, repository.ErrTransactionNotFound):
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	// A recurring charge on a subscription we know about.
	if ev.SubscriptionRef == "" {
		return &Outcome{Action: OutcomeIgnored, Message: "unknown payment"}, nil
	}
	r, err := o.rentals.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
	if err != nil {
		if errors.Is(err, repository.ErrRentalNotFound) {
			return &Outcome{Action: OutcomeIgnored, Message: "no rental for subscription"}, nil
		}
		return nil, fmt.Errorf("lookup rental by subscription: %w", err)
	}

	amount := ev.Amount
	if amount == 0 && ev.PaymentIntentRef != "" {
		pi, err := o.billing.RetrievePaymentIntent(ctx, ev.PaymentIntentRef)
		if err != nil {
			return nil, fmt.Errorf("%w: retrieve payment intent: %v", ErrBilling, err)
		}
		amount = pi.Amount
	}
	newTx := &model.Transaction{
		RentalID:   r.ID,
		Amount:     amount,
		PaymentRef: ev.PaymentRef,
		Status:     model.TransactionStatusCompleted,
	}
	if err := o.txs.Create(ctx, newTx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return &Outcome{Action: OutcomeNoop, RentalID: &r.ID}, nil
		}
		return nil, fmt.Errorf("record recurring transaction: %w", err)
	}

	if !r.Terminal() {
		sub, err := o.billing.RetrieveSubscription(ctx, ev.SubscriptionRef)
		if err != nil {
			o.logger.Warn("could not refresh rental period", zap.String("rental_id", r.ID.String()), zap.Error(err))
		} else if err := o.rentals.UpdatePeriod(ctx, r.ID, sub.PeriodStart, sub.PeriodEnd); err != nil {
			o.logger.Warn("could not persist rental period", zap.String("rental_id", r.ID.String()), zap.Error(err))
		}
	}

	o.logger.Info("recurring payment recorded",
		zap.String("rental_id", r.ID.String()),
		zap.String("payment_ref", ev.PaymentRef),
		zap.Int64("amount", amount),
	)
	return &Outcome{Action: OutcomeRecorded, RentalID: &r.ID}, nil
}

// Cancel moves r to cancelled and removes its DNS record. It is used when
// the renter cancels directly and is idempotent with the webhook that
// follows.
func (o *Orchestrator) Cancel(ctx context.Context, r *model.Rental) (*Outcome, error) {
	return o.cancel(ctx, r, true)
}

// cancel claims the active -> cancelled transition before touching DNS, so
// only one of several concurrent deliveries attempts the delete. A rental
// cancelled without teardown (payment failure) is cleaned up by the first
// later call that asks for it.
func (o *Orchestrator) cancel(ctx context.Context, r *model.Rental, teardown bool) (*Outcome, error) {
	if r.Terminal() {
		if !teardown || r.DNSStatus != model.DNSStatusProvisioned {
			return &Outcome{Action: OutcomeNoop, RentalID: &r.ID, Message: "rental already " + string(r.Status)}, nil
		}
	} else {
		changed, err := o.rentals.Cancel(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("cancel rental: %w", err)
		}
		if !changed {
			return &Outcome{Action: OutcomeNoop, RentalID: &r.ID, Message: "rental already cancelled"}, nil
		}
		o.logger.Info("rental cancelled",
			zap.String("rental_id", r.ID.String()),
			zap.String("full_domain", r.FullDomain),
		)
	}

	if teardown {
		o.teardownAndRecord(ctx, r)
	}
	return &Outcome{Action: OutcomeCancelled, RentalID: &r.ID}, nil
}

func (o *Orchestrator) teardownAndRecord(ctx context.Context, r *model.Rental) {
	l, err := o.listings.GetByID(ctx, r.ListingID)
	if err != nil {
		if !errors.Is(err, repository.ErrListingNotFound) {
			o.logger.Error("teardown could not load listing",
				zap.String("rental_id", r.ID.String()),
				zap.Error(err),
			)
		}
		return
	}

	res := o.teardown(ctx, l, r)
	if res.skipped {
		return
	}
	st := model.DNSState{Status: model.DNSStatusRemoved}
	if !res.ok {
		st = model.DNSState{Status: model.DNSStatusRemoveFailed, RecordID: r.DNSRecordID, Error: res.message}
		o.failed(ctx, "delete", l, r, res.message)
	}
	if err := o.rentals.UpdateDNS(ctx, r.ID, st); err != nil {
		o.logger.Error("failed to persist DNS state", zap.String("rental_id", r.ID.String()), zap.Error(err))
	}
}

// provision creates the rental's record unless an identical one is already
// live.
func (o *Orchestrator) provision(ctx context.Context, l *model.Listing, r *model.Rental) provisionResult {
	client, err := o.factory.CreateClient(l.Registrar, l.Domain, l.SealedCredentials)
	if err != nil {
		return provisionResult{message: fmt.Sprintf("create registrar client: %v", err)}
	}

	existing, err := client.ListRecords(ctx, r.RecordType)
	if err != nil {
		o.logger.Warn("pre-create record lookup failed, creating anyway",
			zap.String("full_domain", r.FullDomain),
			zap.Error(err),
		)
	}
	for _, rec := range existing {
		if registrar.CanonicalName(rec.Name) == r.FullDomain && rec.Value == r.RecordValue {
			return provisionResult{ok: true, recordID: rec.ID, message: "record already present"}
		}
	}

	in := registrar.RecordInput{
		Type:  r.RecordType,
		Name:  r.FullDomain,
		Value: r.RecordValue,
		TTL:   registrar.DefaultTTL,
	}
	if r.RecordType == registrar.TypeMX {
		p := DefaultMXPriority
		in.Priority = &p
	}
	id, err := client.CreateRecord(ctx, in)
	if err != nil {
		return provisionResult{message: err.Error()}
	}
	return provisionResult{ok: true, recordID: id}
}

// teardown deletes the live record matching the rental. Nothing is done for
// unverified listings.
func (o *Orchestrator) teardown(ctx context.Context, l *model.Listing, r *model.Rental) provisionResult {
	if !l.Verified {
		return provisionResult{skipped: true}
	}
	client, err := o.factory.CreateClient(l.Registrar, l.Domain, l.SealedCredentials)
	if err != nil {
		return provisionResult{message: fmt.Sprintf("create registrar client: %v", err)}
	}

	records, err := client.ListRecords(ctx, r.RecordType)
	if err != nil {
		return provisionResult{message: fmt.Sprintf("list records: %v", err)}
	}
	var target *registrar.Record
	for i, rec := range records {
		if !registrar.MatchesSubdomain(rec.Name, r.Subdomain, r.FullDomain) {
			continue
		}
		if target == nil || rec.ID == r.DNSRecordID {
			target = &records[i]
		}
	}
	if target == nil {
		o.logger.Info("no live record to remove", zap.String("full_domain", r.FullDomain))
		return provisionResult{ok: true, message: "no live record"}
	}
	// The live value is not confirmed against the rented one; a record the
	// owner edited by hand is still removed.
	if target.Value != r.RecordValue {
		o.logger.Warn("removing record whose live value differs from the rental",
			zap.String("full_domain", r.FullDomain),
			zap.String("rental_value", r.RecordValue),
			zap.String("live_value", target.Value),
		)
	}

	if err := client.DeleteRecord(ctx, target.ID); err != nil && !errors.Is(err, registrar.ErrRecordNotFound) {
		return provisionResult{message: err.Error()}
	}
	return provisionResult{ok: true, recordID: target.ID}
}

func (o *Orchestrator) failed(ctx context.Context, op string, l *model.Listing, r *model.Rental, msg string) {
	o.logger.Error("DNS "+op+" failed, manual reconciliation required",
		zap.String("rental_id", r.ID.String()),
		zap.String("listing_id", l.ID.String()),
		zap.String("subscription_ref", r.SubscriptionRef),
		zap.String("registrar", string(l.Registrar)),
		zap.String("full_domain", r.FullDomain),
		zap.String("error", msg),
	)
	if o.observe != nil {
		o.observe(op)
	}
	if o.notifier == nil {
		return
	}
	err := o.notifier.ProvisioningFailed(ctx, notify.Failure{
		Op:          op,
		RentalID:    r.ID.String(),
		ListingID:   l.ID.String(),
		Registrar:   string(l.Registrar),
		FullDomain:  r.FullDomain,
		RecordType:  string(r.RecordType),
		RecordValue: r.RecordValue,
		Error:       msg,
	})
	if err != nil {
		o.logger.Warn("provisioning failure notification not sent", zap.Error(err))
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
