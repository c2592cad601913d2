package nats

import (
	"context"

	"github.com/brojonat/sendsol/service/flow"
	"github.com/brojonat/sendsol/service/payment"
)

// Notifier publishes the flow's terminal outcomes.
type Notifier struct {
	publisher Publisher
	cluster   string
}

var _ flow.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier that publishes through p.
func NewNotifier(p Publisher, cluster string) *Notifier {
	return &Notifier{publisher: p, cluster: cluster}
}

// Notify implements flow.Notifier. Non-terminal outcomes are dropped.
func (n *Notifier) Notify(ctx context.Context, outcome payment.Outcome) error {
	if !outcome.Terminal() {
		return nil
	}
	return n.publisher.PublishOutcome(ctx, FromOutcome(outcome, n.cluster))
}
