package email

import (
	"context"

	"github.com/mailstream/mailstream/internal/logger"
)

// LogSender logs emails instead of sending them.
// Useful for development and testing.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a new log-based email sender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("log_sender")}
}

// Send logs the email details.
func (s *LogSender) Send(_ context.Context, msg Message) Result {
	s.log.Info().
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Int("text_bytes", len(msg.Text)).
		Int("html_bytes", len(msg.HTML)).
		Int("attachments", len(msg.Attachments)).
		Msg("email (dev mode - not actually sent)")
	return Ok()
}
