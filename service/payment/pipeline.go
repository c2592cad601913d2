package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sendsol/service/metrics"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/brojonat/sendsol/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const genericFailure = "Transaction failed"

// Chain is what the pipeline needs from the chain client: a connection the
// wallet can broadcast over, and confirmation polling.
type Chain interface {
	wallet.Connection

	ConfirmTransaction(
		ctx context.Context,
		sig solana.Signature,
		ref solanasvc.Reference,
		commitment rpc.CommitmentType,
	) (*solanasvc.Confirmation, error)
}

// Request is a snapshot of everything one submission needs. Balance and
// reference are captured by the caller and are not re-read mid-flight.
type Request struct {
	Recipient    string
	Lamports     uint64
	Balance      uint64
	BalanceKnown bool
	Reference    solanasvc.Reference

	// OnSubmitted, if set, is called once the wallet has broadcast the
	// transaction and before confirmation polling starts.
	OnSubmitted func(Outcome)
}

// Pipeline checks, builds, signs, broadcasts and confirms a single transfer.
type Pipeline struct {
	wallet     wallet.Wallet
	chain      Chain
	commitment rpc.CommitmentType
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline. If m is nil, no metrics are recorded.
func NewPipeline(w wallet.Wallet, chain Chain, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		wallet:     w,
		chain:      chain,
		commitment: rpc.CommitmentConfirmed,
		metrics:    m,
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// CheckPreconditions verifies that req can be submitted right now and returns
// the sender. It makes no network calls and has no side effects.
func (p *Pipeline) CheckPreconditions(req Request) (solana.PublicKey, error) {
	from, ok := p.wallet.PublicKey()
	if !ok || from.IsZero() {
		return solana.PublicKey{}, ErrWalletNotConnected
	}
	if req.Lamports == 0 {
		return solana.PublicKey{}, ErrInvalidAmount
	}
	if req.Reference.IsZero() {
		return solana.PublicKey{}, ErrReferenceMissing
	}
	if req.Reference.Expired(p.now()) {
		return solana.PublicKey{}, ErrReferenceExpired
	}
	balance := req.Balance
	if !req.BalanceKnown {
		balance = 0
	}
	if req.Lamports > balance {
		return solana.PublicKey{}, InsufficientBalanceError(balance, req.Lamports)
	}
	return from, nil
}

// Prepare runs the precondition check and builds the unsigned transfer.
// Repeated calls with the same request and unchanged state give the same
// error or an identical transfer.
func (p *Pipeline) Prepare(req Request) (*Transfer, error) {
	from, err := p.CheckPreconditions(req)
	if err != nil {
		return nil, err
	}
	return BuildTransfer(from, req.Recipient, req.Lamports, req.Reference)
}

// Submit runs the whole pipeline and returns exactly one terminal outcome.
// It never panics and never returns an error; every failure is an Outcome.
func (p *Pipeline) Submit(ctx context.Context, req Request) (outcome Outcome) {
	start := time.Now()
	broadcast := false

	if p.metrics != nil {
		p.metrics.SubmissionStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "submission panicked", "panic", r)
			kind := OutcomeBroadcastFailed
			msg := genericFailure
			if broadcast {
				kind = OutcomeNotConfirmed
				msg = "Transaction was sent but could not be confirmed"
			}
			outcome = Outcome{
				Kind:      kind,
				Signature: outcome.Signature,
				Message:   msg,
				From:      outcome.From,
				To:        outcome.To,
				Lamports:  req.Lamports,
				Err:       fmt.Errorf("panic: %v", r),
			}
		}
		if p.metrics != nil {
			p.metrics.SubmissionFinished()
			p.metrics.RecordSubmission(string(outcome.Kind), outcome.Lamports, time.Since(start).Seconds())
		}
		p.logger.InfoContext(ctx, "submission finished",
			"outcome", outcome.Kind,
			"signature", outcome.Signature,
			"lamports", outcome.Lamports,
			"duration", time.Since(start),
		)
	}()

	// Steps 1 and 2: everything local.
	transfer, err := p.Prepare(req)
	if err != nil {
		p.logger.InfoContext(ctx, "submission rejected before broadcast", "reason", err)
		return Outcome{
			Kind:     OutcomeRejected,
			Message:  UserMessage(err),
			To:       req.Recipient,
			Lamports: req.Lamports,
			Err:      err,
		}
	}

	outcome = Outcome{
		From:     transfer.From.String(),
		To:       transfer.To.String(),
		Lamports: transfer.Lamports,
	}

	// Step 3: the wallet signs and broadcasts.
	p.logger.InfoContext(ctx, "requesting wallet signature",
		"from", outcome.From,
		"to", outcome.To,
		"lamports", outcome.Lamports,
		"blockhash", transfer.Reference.Blockhash.String(),
	)
	sig, err := p.wallet.SignAndSend(ctx, transfer.Tx, p.chain)
	if err != nil {
		p.logger.WarnContext(ctx, "sign and send failed", "error", err)
		outcome.Kind = OutcomeBroadcastFailed
		outcome.Message = UserMessage(err)
		outcome.Err = err
		return outcome
	}
	broadcast = true
	outcome.Signature = sig.String()

	if req.OnSubmitted != nil {
		submitted := outcome
		submitted.Kind = OutcomeSubmitted
		req.OnSubmitted(submitted)
	}

	// Step 4: wait for the confirmed commitment against the same reference.
	conf, err := p.chain.ConfirmTransaction(ctx, sig, transfer.Reference, p.commitment)
	if err != nil {
		outcome.Kind = OutcomeNotConfirmed
		outcome.Message = fmt.Sprintf("Transaction was sent but could not be confirmed: %v", err)
		outcome.Err = err
		return outcome
	}

	switch conf.Status {
	case solanasvc.ConfirmationConfirmed:
		outcome.Kind = OutcomeConfirmed
		outcome.Message = "Transaction confirmed"
	case solanasvc.ConfirmationFailed:
		outcome.Kind = OutcomeConfirmationFailed
		outcome.Message = fmt.Sprintf("Transaction was sent but failed on-chain: %s", conf.Err)
		outcome.Err = fmt.Errorf("transaction failed: %s", conf.Err)
	default:
		outcome.Kind = OutcomeNotConfirmed
		outcome.Message = "Transaction was sent but was not confirmed before its blockhash expired"
	}
	return outcome
}
