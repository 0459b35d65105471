// Package billing is the port to the external subscription provider: the
// commands the rental flow issues and the lifecycle events it consumes.
package billing

import (
	"context"
	"errors"
	"time"
)

// Interval is a recurring billing period.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// ParseInterval reports whether s names a supported interval.
func ParseInterval(s string) (Interval, bool) {
	switch i := Interval(s); i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return i, true
	}
	return "", false
}

// Checkout metadata keys. The same keys come back on the
// checkout-completed event.
const (
	MetaListingID   = "listing_id"
	MetaRenterID    = "renter_id"
	MetaSubdomain   = "subdomain"
	MetaFullDomain  = "full_domain"
	MetaRecordType  = "record_type"
	MetaRecordValue = "record_value"
)

// CheckoutRequest describes a recurring checkout for one subdomain.
type CheckoutRequest struct {
	CustomerRef string
	// Amount is in the currency's minor unit.
	Amount      int64
	Interval    Interval
	ProductName string
	Metadata    map[string]string
}

// CheckoutSession is a hosted checkout the renter is redirected to.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Subscription is the provider's view of a recurring charge.
type Subscription struct {
	Ref         string
	PeriodStart time.Time
	PeriodEnd   time.Time
	UnitAmount  int64
}

// PaymentIntent is a single charge attempt.
type PaymentIntent struct {
	Ref    string
	Amount int64
}

// EventType is a lifecycle event the orchestrator reacts to.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	// EventIgnored marks a verified event of a type nobody handles.
	EventIgnored EventType = "ignored"
)

// Event is a verified, provider-neutral lifecycle event.
type Event struct {
	ID      string
	Type    EventType
	RawType string

	SubscriptionRef  string
	CustomerRef      string
	PaymentRef       string
	PaymentIntentRef string
	Amount           int64
	Metadata         map[string]string
}

// Provider is the billing collaborator.
type Provider interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	RetrieveSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)
	RetrievePaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error)

	// ParseEvent authenticates payload against the provider signature
	// header and decodes it. It returns ErrInvalidSignature when the
	// signature does not verify.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

var (
	ErrInvalidSignature = errors.New("billing event signature is invalid")
	ErrNotConfigured    = errors.New("billing provider is not configured")
)
