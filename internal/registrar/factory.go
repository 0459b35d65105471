package registrar

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds every registrar HTTP call when Options.Timeout is
// unset.
const DefaultTimeout = 15 * time.Second

// Options configures the transport shared by every registrar variant.
type Options struct {
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	CloudflareBaseURL string
	Route53Endpoint   string
	NamecheapBaseURL  string
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	t := o.Timeout
	if t <= 0 {
		t = DefaultTimeout
	}
	return &http.Client{Timeout: t}
}

// Unsealer decrypts a stored credential blob.
type Unsealer interface {
	Unseal(sealed string) ([]byte, error)
}

// Observer is notified after every registrar call with the operation name
// and its error, if any.
type Observer func(tag Tag, op string, err error)

type creatorFunc func(creds any, domain string, opts Options) (Client, error)

var creators = map[Tag]creatorFunc{
	Cloudflare: func(creds any, domain string, opts Options) (Client, error) {
		return NewCloudflareClient(creds.(*CloudflareCredentials), domain, opts), nil
	},
	Route53: func(creds any, domain string, opts Options) (Client, error) {
		return NewRoute53Client(creds.(*Route53Credentials), domain, opts)
	},
	Namecheap: func(creds any, domain string, opts Options) (Client, error) {
		return NewNamecheapClient(creds.(*NamecheapCredentials), domain, opts)
	},
}

// Factory builds registrar clients from sealed credentials.
type Factory struct {
	codec   Unsealer
	opts    Options
	observe Observer
}

// NewFactory creates a Factory that decrypts credentials with codec.
func NewFactory(codec Unsealer, opts Options) *Factory {
	return &Factory{codec: codec, opts: opts}
}

// SetObserver installs fn to be called after every client operation.
func (f *Factory) SetObserver(fn Observer) {
	f.observe = fn
}

// CreateClient decrypts sealed, validates the credential fields for tag and
// returns a fresh client for domain.
func (f *Factory) CreateClient(tag Tag, domain, sealed string) (Client, error) {
	raw, err := f.codec.Unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials: %w", err)
	}
	return f.ClientFromRaw(tag, domain, raw)
}

// ClientFromRaw builds a client from a plaintext credential document.
func (f *Factory) ClientFromRaw(tag Tag, domain string, raw []byte) (Client, error) {
	create, ok := creators[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegistrar, tag)
	}
	creds, err := ParseCredentials(tag, raw)
	if err != nil {
		return nil, err
	}
	c, err := create(creds, domain, f.opts)
	if err != nil {
		return nil, err
	}
	if f.observe != nil {
		c = &observedClient{Client: c, tag: tag, observe: f.observe}
	}
	return c, nil
}

// ValidationResult reports whether a set of credentials can talk to the
// registrar.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateCredentials builds a client from plaintext credentials and
// performs a cheap read. Any failure is reported in the result, never as an
// error.
func (f *Factory) ValidateCredentials(ctx context.Context, tag Tag, domain string, raw []byte) ValidationResult {
	c, err := f.ClientFromRaw(tag, domain, raw)
	if err != nil {
		return ValidationResult{Error: err.Error()}
	}
	if _, err := c.ListRecords(ctx, TypeTXT); err != nil {
		return ValidationResult{Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

type observedClient struct {
	Client
	tag     Tag
	observe Observer
}

func (o *observedClient) CreateRecord(ctx context.Context, in RecordInput) (string, error) {
	id, err := o.Client.CreateRecord(ctx, in)
	o.observe(o.tag, "create_record", err)
	return id, err
}

func (o *observedClient) DeleteRecord(ctx context.Context, recordID string) error {
	err := o.Client.DeleteRecord(ctx, recordID)
	o.observe(o.tag, "delete_record", err)
	return err
}

func (o *observedClient) UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error {
	err := o.Client.UpdateRecord(ctx, recordID, patch)
	o.observe(o.tag, "update_record", err)
	return err
}

func (o *observedClient) ListRecords(ctx context.Context, kind RecordType) ([]Record, error) {
	records, err := o.Client.ListRecords(ctx, kind)
	o.observe(o.tag, "list_records", err)
	return records, err
}

func (o *observedClient) VerifyOwnership(ctx context.Context, token string) (*Verification, error) {
	v, err := o.Client.VerifyOwnership(ctx, token)
	o.observe(o.tag, "verify_ownership", err)
	return v, err
}
