// Package notify tells operators about DNS side effects that failed and need
// manual reconciliation.
package notify

import "context"

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
