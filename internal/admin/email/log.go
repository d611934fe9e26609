package email

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of sending them. Dev mode only:
// the body, and with it the code, ends up in the log.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	s.logger.WarnContext(ctx, "email delivery disabled, logging message",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return &SendResult{Accepted: true, Detail: "logged"}, nil
}

var _ Sender = (*LogSender)(nil)
