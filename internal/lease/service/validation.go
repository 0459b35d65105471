package service

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/jmerrifield20/sublease/internal/registrar"
)

var (
	subdomainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	hostnamePattern  = regexp.MustCompile(`^([a-zA-Z0-9_]([a-zA-Z0-9-]*[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}\.?$`)
)

const (
	maxLabelLength = 63
	maxTXTLength   = 255
)

// ValidSubdomain reports whether label may be rented as a single DNS label.
func ValidSubdomain(label string) bool {
	return len(label) <= maxLabelLength && subdomainPattern.MatchString(label)
}

// normalizeDomain lower-cases domain and checks it has a registrable part.
func normalizeDomain(domain string) (string, error) {
	d := registrar.CanonicalName(domain)
	if d == "" || !hostnamePattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q is not a valid domain name", ErrInvalidInput, domain)
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
		return "", fmt.Errorf("%w: %q is a public suffix", ErrInvalidInput, domain)
	}
	return d, nil
}

// parseRecordTypes validates and de-duplicates a list of record kinds.
func parseRecordTypes(in []string) ([]registrar.RecordType, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one record type is required", ErrInvalidInput)
	}
	seen := make(map[registrar.RecordType]bool, len(in))
	out := make([]registrar.RecordType, 0, len(in))
	for _, s := range in {
		rt, err := registrar.ParseRecordType(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if !seen[rt] {
			seen[rt] = true
			out = append(out, rt)
		}
	}
	return out, nil
}

// validateRecordValue checks that value has the shape kind requires.
func validateRecordValue(kind registrar.RecordType, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: record value is required", ErrInvalidInput)
	}
	switch kind {
	case registrar.TypeA:
		if ip := net.ParseIP(value); ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidInput, value)
		}
	case registrar.TypeAAAA:
		if ip := net.ParseIP(value); ip == nil || ip.To4() != nil {
			return fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidInput, value)
		}
	case registrar.TypeCNAME, registrar.TypeNS, registrar.TypeMX:
		if !hostnamePattern.MatchString(value) {
			return fmt.Errorf("%w: %q is not a hostname", ErrInvalidInput, value)
		}
	case registrar.TypeTXT:
		if len(value) > maxTXTLength {
			return fmt.Errorf("%w: TXT value exceeds %d characters", ErrInvalidInput, maxTXTLength)
		}
	default:
		return fmt.Errorf("%w: unsupported record type %q", ErrInvalidInput, kind)
	}
	return nil
}
