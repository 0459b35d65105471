package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to zap instead of delivering them.
// Use in development or when SMTP is not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender backed by the given logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and returns nil.
func (n *LogSender) Send(_ context.Context, to, subject, body string) error {
	n.logger.Warn("notification (not sent, smtp not configured)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
