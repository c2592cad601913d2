package nats

import (
	"time"

	"github.com/brojonat/sendsol/service/payment"
)

// OutcomeEvent represents a terminal payment outcome published to NATS.
// This is published to the subject "payments.{from_address}".
type OutcomeEvent struct {
	// Outcome
	Kind      string `json:"kind"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`

	// Parties
	FromAddress string `json:"from_address,omitempty"`
	ToAddress   string `json:"to_address"`

	// Transfer details
	Lamports uint64 `json:"lamports"`
	Amount   string `json:"amount_sol"`
	Cluster  string `json:"cluster"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts a pipeline outcome to an OutcomeEvent for publishing.
func FromOutcome(o payment.Outcome, cluster string) *OutcomeEvent {
	return &OutcomeEvent{
		Kind:        string(o.Kind),
		Signature:   o.Signature,
		Message:     o.Message,
		FromAddress: o.From,
		ToAddress:   o.To,
		Lamports:    o.Lamports,
		Amount:      payment.FormatSOL(o.Lamports),
		Cluster:     cluster,
		PublishedAt: time.Now().UTC(),
	}
}
