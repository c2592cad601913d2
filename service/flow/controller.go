// Package flow drives a single user-initiated payment: it holds the amount
// input, gates submission on cached chain state and tracks the submission
// status from sending to a terminal outcome.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/sendsol/service/chainstate"
	"github.com/brojonat/sendsol/service/metrics"
	"github.com/brojonat/sendsol/service/payment"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/brojonat/sendsol/service/wallet"
	"github.com/gagliardetto/solana-go"
)

// ErrSubmissionInFlight is returned by Submit while another submission is running.
var ErrSubmissionInFlight = errors.New("a submission is already in flight")

// Status is the submission status shown to the user.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSending    Status = "sending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusIdle:       {StatusSending},
	StatusSending:    {StatusConfirming, StatusConfirmed, StatusFailed},
	StatusConfirming: {StatusConfirmed, StatusFailed},
	StatusConfirmed:  {StatusSending},
	StatusFailed:     {StatusSending},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MessageType classifies the status message.
type MessageType string

const (
	MessageNone    MessageType = ""
	MessageInfo    MessageType = "info"
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
)

// Button labels, in priority order.
const (
	LabelSending        = "Sending Transaction..."
	LabelLoadingBalance = "Loading Balance..."
	LabelLoadingNetwork = "Loading Network Data..."
	LabelSend           = "Send SOL"
)

const (
	msgSending         = "Sending transaction..."
	msgConfirmed       = "Transaction confirmed!"
	warnBalanceError   = "Unable to load balance."
	warnReferenceError = "Network connection issues."
	warnNotConnected   = "Connect your wallet to send SOL payments"
)

// ChainState is the cached chain data the controller reads.
type ChainState interface {
	Connect(ctx context.Context, owner solana.PublicKey)
	Disconnect()
	Balance() chainstate.Snapshot[uint64]
	Reference() chainstate.Snapshot[solanasvc.Reference]
}

// Submitter runs one submission to a terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, req payment.Request) payment.Outcome
}

// Notifier is told about every terminal outcome of the pipeline.
type Notifier interface {
	Notify(ctx context.Context, outcome payment.Outcome) error
}

// Config configures a Controller.
type Config struct {
	Recipient string
	Cluster   string
}

// State is an immutable snapshot of the flow.
type State struct {
	Status      Status
	Amount      string
	Message     string
	MessageType MessageType
	Signature   string
	ExplorerURL string

	Connected bool
	Sender    string
	Recipient string

	Balance   chainstate.Snapshot[uint64]
	Reference chainstate.Snapshot[solanasvc.Reference]

	CanSubmit   bool
	ButtonLabel string
	Warnings    []string
}

// Controller is the payment flow state machine. It is safe for concurrent use;
// at most one submission runs at a time.
type Controller struct {
	wallet    wallet.Wallet
	chain     ChainState
	submitter Submitter
	notifier  Notifier
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu          sync.Mutex
	status      Status
	amount      string
	message     string
	messageType MessageType
	signature   string
	inFlight    bool
}

// NewController creates a controller in the idle state.
func NewController(w wallet.Wallet, chain ChainState, submitter Submitter, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Controller {
	return &Controller{
		wallet:    w,
		chain:     chain,
		submitter: submitter,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With("component", "flow"),
		status:    StatusIdle,
	}
}

// WithNotifier sets the notifier for terminal outcomes.
func (c *Controller) WithNotifier(n Notifier) *Controller {
	c.notifier = n
	return c
}

// ConnectWallet starts balance polling for the wallet's address. It returns
// payment.ErrWalletNotConnected if the wallet has no address.
func (c *Controller) ConnectWallet(ctx context.Context) error {
	owner, ok := c.wallet.PublicKey()
	if !ok {
		return payment.ErrWalletNotConnected
	}
	c.chain.Connect(ctx, owner)
	return nil
}

// DisconnectWallet stops balance polling.
func (c *Controller) DisconnectWallet() {
	c.chain.Disconnect()
}

// SetAmount replaces the amount input. Input that is not a partial decimal
// number is ignored and false is returned.
func (c *Controller) SetAmount(s string) bool {
	if !payment.AcceptsInput(s) {
		return false
	}
	c.mu.Lock()
	c.amount = s
	c.mu.Unlock()
	return true
}

// Amount returns the current amount input.
func (c *Controller) Amount() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amount
}

// CanSubmit reports whether the send action is enabled.
func (c *Controller) CanSubmit() bool {
	return c.State().CanSubmit
}

// Submit sends the current amount to the recipient and blocks until the
// submission reaches a terminal outcome. When a guard fails the message is set,
// the status is left unchanged and a rejected outcome is returned without
// touching the pipeline.
func (c *Controller) Submit(ctx context.Context) (payment.Outcome, error) {
	balance := c.chain.Balance()
	ref := c.chain.Reference()

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return payment.Outcome{}, ErrSubmissionInFlight
	}

	lamports, err := c.guard(balance, ref)
	if err != nil {
		msg := payment.UserMessage(err)
		c.message = msg
		c.messageType = MessageError
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "submission blocked", "reason", err)
		return payment.Outcome{
			Kind:     payment.OutcomeRejected,
			Message:  msg,
			To:       c.cfg.Recipient,
			Lamports: lamports,
			Err:      err,
		}, nil
	}

	c.inFlight = true
	c.transitionLocked(StatusSending)
	c.message = msgSending
	c.messageType = MessageInfo
	c.signature = ""
	c.mu.Unlock()

	outcome := c.submitter.Submit(ctx, payment.Request{
		Recipient:    c.cfg.Recipient,
		Lamports:     lamports,
		Balance:      balance.Value,
		BalanceKnown: balance.Present,
		Reference:    ref.Value,
		OnSubmitted: func(o payment.Outcome) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.transitionLocked(StatusConfirming)
			c.signature = o.Signature
		},
	})

	c.mu.Lock()
	if outcome.Succeeded() {
		c.transitionLocked(StatusConfirmed)
		c.signature = outcome.Signature
		c.message = msgConfirmed
		c.messageType = MessageSuccess
		c.amount = ""
	} else {
		c.transitionLocked(StatusFailed)
		c.signature = outcome.Signature
		c.message = outcome.Message
		c.messageType = MessageError
	}
	c.inFlight = false
	c.mu.Unlock()

	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, outcome); err != nil {
			c.logger.WarnContext(ctx, "failed to notify outcome",
				"outcome", outcome.Kind,
				"signature", outcome.Signature,
				"error", err,
			)
		}
	}

	return outcome, nil
}

// guard checks what can be checked against the cached state before the
// pipeline runs. Callers hold c.mu.
func (c *Controller) guard(balance chainstate.Snapshot[uint64], ref chainstate.Snapshot[solanasvc.Reference]) (uint64, error) {
	if _, ok := c.wallet.PublicKey(); !ok {
		return 0, payment.ErrWalletNotConnected
	}
	lamports, err := payment.ParseLamports(c.amount)
	tooLarge := errors.Is(err, payment.ErrAmountTooLarge)
	if err != nil && !tooLarge {
		return 0, err
	}
	if !ref.Present {
		return lamports, payment.ErrReferenceMissing
	}
	available := balance.Value
	if !balance.Present {
		available = 0
	}
	if tooLarge {
		return 0, payment.InsufficientBalanceForInput(available, c.amount)
	}
	if lamports > available {
		return lamports, payment.InsufficientBalanceError(available, lamports)
	}
	return lamports, nil
}

// transitionLocked moves to next if the transition table allows it. Callers hold c.mu.
func (c *Controller) transitionLocked(next Status) {
	from := c.status
	if !from.CanTransitionTo(next) {
		c.logger.Warn("ignoring illegal status transition", "from", from, "to", next)
		return
	}
	c.status = next
	if c.metrics != nil {
		c.metrics.RecordTransition(string(from), string(next))
	}
	c.logger.Debug("status changed", "from", from, "to", next)
}

// State returns a snapshot of the flow and the cached chain state.
func (c *Controller) State() State {
	balance := c.chain.Balance()
	ref := c.chain.Reference()
	sender, connected := c.wallet.PublicKey()

	c.mu.Lock()
	s := State{
		Status:      c.status,
		Amount:      c.amount,
		Message:     c.message,
		MessageType: c.messageType,
		Signature:   c.signature,
		Connected:   connected,
		Recipient:   c.cfg.Recipient,
		Balance:     balance,
		Reference:   ref,
	}
	inFlight := c.inFlight
	c.mu.Unlock()

	if connected {
		s.Sender = sender.String()
	}
	if s.Signature != "" {
		s.ExplorerURL = ExplorerURL(s.Signature, c.cfg.Cluster)
	}

	lamports, amountErr := payment.ParseLamports(s.Amount)
	amountOK := amountErr == nil

	s.CanSubmit = connected &&
		amountOK &&
		!inFlight &&
		!balance.Loading &&
		!ref.Loading &&
		ref.Present &&
		balance.Present &&
		lamports <= balance.Value

	switch {
	case inFlight:
		s.ButtonLabel = LabelSending
	case balance.Loading:
		s.ButtonLabel = LabelLoadingBalance
	case ref.Loading:
		s.ButtonLabel = LabelLoadingNetwork
	default:
		s.ButtonLabel = LabelSend
	}

	if !connected {
		s.Warnings = append(s.Warnings, warnNotConnected)
		return s
	}
	if balance.Err != nil {
		s.Warnings = append(s.Warnings, warnBalanceError)
	}
	if ref.Err != nil {
		s.Warnings = append(s.Warnings, warnReferenceError)
	}
	exceeds := errors.Is(amountErr, payment.ErrAmountTooLarge) || (amountOK && lamports > balance.Value)
	if balance.Present && exceeds {
		s.Warnings = append(s.Warnings, payment.InsufficientBalanceForInput(balance.Value, s.Amount).Error())
	}
	return s
}

// ExplorerURL returns the Solana Explorer link for a transaction signature.
func ExplorerURL(signature, cluster string) string {
	url := fmt.Sprintf("https://explorer.solana.com/tx/%s", signature)
	switch cluster {
	case "", "mainnet", "mainnet-beta":
		return url
	default:
		return url + "?cluster=" + cluster
	}
}
