package payment

// OutcomeKind classifies how a submission ended.
type OutcomeKind string

const (
	// OutcomeSubmitted is reported to the submitted hook once the wallet has
	// broadcast the transaction. It is never a terminal outcome.
	OutcomeSubmitted OutcomeKind = "submitted"
	// OutcomeRejected means a precondition failed; nothing was signed or sent.
	OutcomeRejected OutcomeKind = "rejected-before-broadcast"
	// OutcomeBroadcastFailed means signing or broadcasting failed; nothing was sent.
	OutcomeBroadcastFailed OutcomeKind = "broadcast-failed"
	// OutcomeNotConfirmed means the transaction was sent but its fate is unknown.
	OutcomeNotConfirmed OutcomeKind = "broadcast-but-not-confirmed"
	// OutcomeConfirmed means the transfer landed at the requested commitment.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeConfirmationFailed means the transaction was sent and landed, but
	// its execution failed on chain.
	OutcomeConfirmationFailed OutcomeKind = "confirmation-failed"
)

// Outcome is the structured result of a submission.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Signature string      `json:"signature,omitempty"`
	Message   string      `json:"message,omitempty"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Lamports  uint64      `json:"lamports"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Terminal reports whether the outcome ends a submission.
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomeSubmitted && o.Kind != ""
}

// Succeeded reports whether the payment was confirmed.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeConfirmed
}

// Sent reports whether the transaction reached the network, i.e. whether
// funds may have moved.
func (o Outcome) Sent() bool {
	switch o.Kind {
	case OutcomeSubmitted, OutcomeNotConfirmed, OutcomeConfirmed, OutcomeConfirmationFailed:
		return true
	default:
		return false
	}
}
