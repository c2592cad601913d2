package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subscriber streams outcome events from core NATS.
type Subscriber struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewSubscriber connects to NATS.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("sendsol-subscriber"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Subscriber{nc: nc, logger: logger}, nil
}

// Stream calls fn for every event published for sender until ctx is done or
// fn returns an error. An empty sender streams every sender's events.
// Messages that are not outcome events are logged and skipped.
func (s *Subscriber) Stream(ctx context.Context, sender string, fn func(*OutcomeEvent) error) error {
	subject := SubjectPrefix + ".*"
	if sender != "" {
		subject = Subject(sender)
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	s.logger.InfoContext(ctx, "subscribed to outcome events", "subject", subject)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			var event OutcomeEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				s.logger.WarnContext(ctx, "skipping malformed outcome event",
					"subject", msg.Subject,
					"error", err,
				)
				continue
			}
			if err := fn(&event); err != nil {
				return err
			}
		}
	}
}

// Close closes the connection to NATS.
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
