package events

import (
	"context"
	"log/slog"
)

// Publisher is the sink for call lifecycle events. Implementations may be
// no-op, logging, or NATS-backed for external consumers.
type Publisher interface {
	// Publish sends an event. Returns error only for transport failures.
	Publish(ctx context.Context, event CallEvent) error

	// Close releases transport resources.
	Close() error
}

// NoopPublisher discards all events. Used when no event sink is configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards events.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, event CallEvent) error {
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}

// LoggingPublisher logs events at debug level. Useful for development.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher creates a publisher that logs events.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event CallEvent) error {
	p.logger.Debug("[Events] Published",
		"subject", event.Subject(),
		"kind", event.Kind,
		"call_connection_id", event.CallConnectionID,
		"phase", event.Phase,
		"reason", event.Reason,
	)
	return nil
}

func (p *LoggingPublisher) Close() error {
	return nil
}

var (
	_ Publisher = (*NoopPublisher)(nil)
	_ Publisher = (*LoggingPublisher)(nil)
)
