package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string

	// BaseURL and HTTPClient override the API endpoint and transport.
	BaseURL    string
	HTTPClient *http.Client
}

// Stripe implements Provider. Each instance owns its own API client; the
// package-level stripe.Key is never set.
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
}

// NewStripe builds a Stripe adapter. It returns ErrNotConfigured when no
// secret key is set.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	return &Stripe{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// CreateCustomer implements Provider.
func (s *Stripe) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return c.ID, nil
}

// CreateCheckoutSession implements Provider. Metadata is attached to both
// the session and the subscription it creates.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerRef),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(string(req.Interval)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CancelSubscription implements Provider. Cancelling an already-cancelled
// subscription is not an error.
func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := s.api.Subscriptions.Cancel(subscriptionRef, params); err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("stripe: cancel subscription %s: %w", subscriptionRef, err)
	}
	return nil
}

// RetrieveSubscription implements Provider.
func (s *Stripe) RetrieveSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(subscriptionRef, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve subscription %s: %w", subscriptionRef, err)
	}
	out := &Subscription{
		Ref:         sub.ID,
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.UnitAmount = sub.Items.Data[0].Price.UnitAmount
	}
	return out, nil
}

// RetrievePaymentIntent implements Provider.
func (s *Stripe) RetrievePaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve payment intent %s: %w", ref, err)
	}
	return &PaymentIntent{Ref: pi.ID, Amount: pi.Amount}, nil
}

// ParseEvent implements Provider.
func (s *Stripe) ParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeStripeEvent(ev)
}

func decodeStripeEvent(ev stripe.Event) (*Event, error) {
	out := &Event{ID: ev.ID, RawType: string(ev.Type), Type: EventIgnored}
	if ev.Data == nil {
		return out, nil
	}

	switch string(ev.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Type = EventCheckoutCompleted
		out.Metadata = sess.Metadata
		out.PaymentRef = sess.ID
		if sess.Subscription != nil {
			out.SubscriptionRef = sess.Subscription.ID
		}
		if sess.Customer != nil {
			out.CustomerRef = sess.Customer.ID
		}
		if sess.Invoice != nil {
			out.PaymentRef = sess.Invoice.ID
		}
		out.Amount = sess.AmountTotal

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Type = EventSubscriptionDeleted
		out.SubscriptionRef = sub.ID
		out.Metadata = sub.Metadata

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Type = EventPaymentSucceeded
		out.Amount = inv.AmountPaid
		if string(ev.Type) == "invoice.payment_failed" {
			out.Type = EventPaymentFailed
			out.Amount = inv.AmountDue
		}
		out.PaymentRef = inv.ID
		if inv.Subscription != nil {
			out.SubscriptionRef = inv.Subscription.ID
		}
		if inv.PaymentIntent != nil {
			out.PaymentIntentRef = inv.PaymentIntent.ID
		}
		if inv.Customer != nil {
			out.CustomerRef = inv.Customer.ID
		}
	}
	return out, nil
}
