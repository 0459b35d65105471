// Package dns issues domain ownership challenges and probes public DNS for
// the published challenge record.
package dns

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/jmerrifield20/sublease/internal/registrar"
)

// TokenBytes is the amount of randomness in a challenge token.
const TokenBytes = 32

// Challenge is the record an owner must publish to prove control of Domain.
type Challenge struct {
	Domain string `json:"domain"`
	Token  string `json:"token"`
}

// NewChallenge generates a challenge with a fresh token for domain.
func NewChallenge(domain string) (*Challenge, error) {
	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Challenge{Domain: registrar.CanonicalName(domain), Token: token}, nil
}

// NewToken returns TokenBytes random bytes rendered as lower-case hex.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// TXTHost returns the DNS hostname where the TXT record must be placed.
func (c *Challenge) TXTHost() string {
	return TXTHost(c.Domain)
}

// TXTHost returns the challenge hostname for domain.
func TXTHost(domain string) string {
	return registrar.VerificationHost(domain)
}

// Instructions tell an owner exactly which record to publish.
type Instructions struct {
	RecordType string `json:"record_type"`
	Host       string `json:"host"`
	Value      string `json:"value"`
	Note       string `json:"note"`
}

// Instructions renders the publishing instructions for c.
func (c *Challenge) Instructions() Instructions {
	return Instructions{
		RecordType: "TXT",
		Host:       c.TXTHost(),
		Value:      c.Token,
		Note:       "DNS changes can take from a few minutes up to 48 hours to propagate.",
	}
}
