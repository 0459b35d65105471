// Package registrar hides the wire protocols of the supported DNS registrars
// behind one five-operation Client contract.
//
// Clients are built per call from decrypted credentials by a Factory and are
// not meant to be cached or shared between operations. Provider failures are
// returned as ordinary errors; a missing verification record is reported as a
// negative Verification, never as an error.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tag identifies a registrar kind as stored on a listing.
type Tag string

const (
	Cloudflare Tag = "CLOUDFLARE"
	Route53    Tag = "ROUTE53"
	Namecheap  Tag = "NAMECHEAP"
)

// Tags lists every supported registrar.
var Tags = []Tag{Cloudflare, Route53, Namecheap}

// ParseTag normalises s into a Tag, returning ErrUnsupportedRegistrar for
// unknown values.
func ParseTag(s string) (Tag, error) {
	t := Tag(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Tags {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedRegistrar, s)
}

// RecordType is a DNS record kind.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeTXT   RecordType = "TXT"
	TypeMX    RecordType = "MX"
	TypeNS    RecordType = "NS"
)

// RecordTypes lists the record kinds a listing may allow.
var RecordTypes = []RecordType{TypeA, TypeAAAA, TypeCNAME, TypeTXT, TypeMX, TypeNS}

// ParseRecordType normalises s into a RecordType.
func ParseRecordType(s string) (RecordType, error) {
	rt := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range RecordTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unsupported record type %q", s)
}

// DefaultTTL is applied when a caller passes a zero TTL.
const DefaultTTL = 300

// Record is a snapshot of one live DNS record. Name is always the
// fully-qualified name without a trailing dot.
type Record struct {
	ID       string     `json:"id"`
	Type     RecordType `json:"type"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	TTL      int        `json:"ttl"`
	Priority int        `json:"priority,omitempty"`
}

// RecordInput describes a record to create. Name is fully qualified.
type RecordInput struct {
	Type     RecordType
	Name     string
	Value    string
	TTL      int
	Priority *int // MX only
}

// RecordPatch holds the fields to change on an existing record. Nil fields
// are left as they are.
type RecordPatch struct {
	Value    *string
	TTL      *int
	Priority *int
}

// Verification is the outcome of an ownership check.
type Verification struct {
	Verified bool
	// Message is a human-readable explanation, with remediation when
	// Verified is false.
	Message string
}

// Client is the capability every registrar variant provides.
type Client interface {
	// CreateRecord creates a record and returns its provider-defined id.
	// It is not idempotent.
	CreateRecord(ctx context.Context, in RecordInput) (string, error)

	// DeleteRecord removes the record identified by an id previously
	// returned from CreateRecord or ListRecords.
	DeleteRecord(ctx context.Context, recordID string) error

	// UpdateRecord applies patch to the identified record.
	UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error

	// ListRecords fetches live records, optionally restricted to kind.
	// An empty kind returns every record.
	ListRecords(ctx context.Context, kind RecordType) ([]Record, error)

	// VerifyOwnership looks for the verification TXT record carrying token.
	VerifyOwnership(ctx context.Context, token string) (*Verification, error)
}

var (
	ErrUnsupportedRegistrar = errors.New("unsupported registrar")
	ErrUnsupportedOperation = errors.New("operation not implemented for this registrar")
	ErrRecordNotFound       = errors.New("dns record not found")
	ErrInvalidCredentials   = errors.New("invalid registrar credentials")
)

// APIError carries a structured error reported by a registrar API.
type APIError struct {
	Registrar Tag
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %s: %s", strings.ToLower(string(e.Registrar)), e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: %s", strings.ToLower(string(e.Registrar)), e.Message)
}

// VerificationHostPrefix is the label under which owners publish the
// ownership token.
const VerificationHostPrefix = "_sublease-challenge"

// VerificationHost returns the fully-qualified TXT host for domain.
func VerificationHost(domain string) string {
	return VerificationHostPrefix + "." + CanonicalName(domain)
}

// CanonicalName lower-cases name and strips a trailing dot.
func CanonicalName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// FQDN joins a label onto a domain. "@" and "" denote the apex.
func FQDN(label, domain string) string {
	domain = CanonicalName(domain)
	if label == "" || label == "@" {
		return domain
	}
	return strings.ToLower(label) + "." + domain
}

// MatchesSubdomain reports whether a record name denotes the rented
// subdomain: the exact FQDN, the FQDN with a trailing dot, or any name
// beginning with "label.".
func MatchesSubdomain(recordName, label, fqdn string) bool {
	n := strings.ToLower(strings.TrimSpace(recordName))
	fqdn = strings.ToLower(fqdn)
	return n == fqdn || n == fqdn+"." || strings.HasPrefix(n, strings.ToLower(label)+".")
}

// verifyTXT implements VerifyOwnership on top of ListRecords so every
// variant applies the same matching rule.
func verifyTXT(ctx context.Context, c Client, domain, token string) (*Verification, error) {
	records, err := c.ListRecords(ctx, TypeTXT)
	if err != nil {
		return nil, fmt.Errorf("list TXT records: %w", err)
	}

	host := VerificationHost(domain)
	for _, r := range records {
		if CanonicalName(r.Name) != host {
			continue
		}
		if unquoteTXT(r.Value) == token {
			return &Verification{Verified: true, Message: "Domain ownership verified."}, nil
		}
	}

	return &Verification{
		Verified: false,
		Message: fmt.Sprintf(
			"No TXT record named %s with value %s was found. Add the record at your registrar and retry; DNS changes can take several minutes to propagate.",
			host, token,
		),
	}, nil
}

// unquoteTXT strips the surrounding quotes some providers keep on TXT data.
func unquoteTXT(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

func ttlOrDefault(ttl int) int {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
