package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sendsol/service/metrics"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the subject prefix outcome events are published under.
const SubjectPrefix = "payments"

// Publisher defines the interface for publishing payment outcome events to NATS.
type Publisher interface {
	// PublishOutcome publishes a single outcome event.
	// The event is published to the subject "payments.{from_address}".
	PublishOutcome(ctx context.Context, event *OutcomeEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// CorePublisher publishes outcome events with core NATS. Nothing is
// persisted; subscribers that are not listening miss the event.
type CorePublisher struct {
	nc      *nats.Conn
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to NATS. If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*CorePublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("sendsol-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL)

	return &CorePublisher{
		nc:      nc,
		metrics: m,
		logger:  logger,
	}, nil
}

// Subject returns the subject an event for the given sender is published to.
func Subject(fromAddress string) string {
	if fromAddress == "" {
		fromAddress = "unknown"
	}
	return fmt.Sprintf("%s.%s", SubjectPrefix, fromAddress)
}

// PublishOutcome publishes a single outcome event and flushes it to the server.
func (p *CorePublisher) PublishOutcome(ctx context.Context, event *OutcomeEvent) (err error) {
	subject := Subject(event.FromAddress)
	if p.metrics != nil {
		defer metrics.Timer(time.Now(), func(duration float64) {
			p.metrics.RecordNATSPublish(subject, publishStatus(err), duration)
		})()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	p.logger.DebugContext(ctx, "published outcome event",
		"subject", subject,
		"kind", event.Kind,
		"signature", event.Signature,
	)
	return nil
}

func publishStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Close drains and closes the connection to NATS.
func (p *CorePublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	p.logger.Info("NATS publisher closed")
	return nil
}
