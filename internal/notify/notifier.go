package notify

import (
	"context"
	"fmt"
	"strings"
)

// Failure describes a DNS mutation that did not happen.
type Failure struct {
	Op          string // create, delete, update
	RentalID    string
	ListingID   string
	Registrar   string
	FullDomain  string
	RecordType  string
	RecordValue string
	Error       string
}

// Mailer renders failures as operator mail.
type Mailer struct {
	sender Sender
	to     string
}

// NewMailer sends every notification to opsAddress through sender.
func NewMailer(sender Sender, opsAddress string) *Mailer {
	return &Mailer{sender: sender, to: opsAddress}
}

// ProvisioningFailed reports f to the operations address.
func (m *Mailer) ProvisioningFailed(ctx context.Context, f Failure) error {
	subject := fmt.Sprintf("[sublease] DNS %s failed for %s", f.Op, f.FullDomain)

	var b strings.Builder
	fmt.Fprintf(&b, "A DNS %s did not complete and needs manual reconciliation.\n\n", f.Op)
	fmt.Fprintf(&b, "Rental:    %s\n", f.RentalID)
	fmt.Fprintf(&b, "Listing:   %s\n", f.ListingID)
	fmt.Fprintf(&b, "Registrar: %s\n", f.Registrar)
	fmt.Fprintf(&b, "Record:    %s %s -> %s\n", f.RecordType, f.FullDomain, f.RecordValue)
	fmt.Fprintf(&b, "Error:     %s\n", f.Error)

	if err := m.sender.Send(ctx, m.to, subject, b.String()); err != nil {
		return fmt.Errorf("send provisioning failure notice: %w", err)
	}
	return nil
}
