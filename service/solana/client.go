package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sendsol/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultConfirmPollInterval is how often signature statuses are polled while
// waiting for confirmation.
const DefaultConfirmPollInterval = 500 * time.Millisecond

// ErrEmptyBlockhash is returned when the node answers getLatestBlockhash without a value.
var ErrEmptyBlockhash = errors.New("rpc returned no blockhash")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetBlockHeight(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (uint64, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client provides the chain reads and writes the payment flow needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	pollInterval time.Duration
	now          func() time.Time
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		pollInterval: DefaultConfirmPollInterval,
		now:          time.Now,
	}
}

// WithConfirmPollInterval overrides the signature status poll interval.
func (c *Client) WithConfirmPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// GetBalance returns the lamport balance owned by the given account.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	start := time.Now()
	result, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	c.recordCall("GetBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"owner", owner.String(),
			"error", err,
		)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if result == nil {
		return 0, fmt.Errorf("failed to get balance: empty response")
	}

	c.logger.DebugContext(ctx, "fetched balance",
		"owner", owner.String(),
		"lamports", result.Value,
	)
	return result.Value, nil
}

// GetLatestReference fetches the latest blockhash and the current block height
// so callers can judge how long the reference remains usable.
func (c *Client) GetLatestReference(ctx context.Context) (Reference, error) {
	start := time.Now()
	result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.recordCall("GetLatestBlockhash", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get latest blockhash", "error", err)
		return Reference{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if result == nil || result.Value == nil {
		return Reference{}, ErrEmptyBlockhash
	}

	height, err := c.GetBlockHeight(ctx)
	if err != nil {
		return Reference{}, err
	}

	ref := Reference{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		ObservedBlockHeight:  height,
		FetchedAt:            c.now(),
	}

	c.logger.DebugContext(ctx, "fetched latest reference",
		"blockhash", ref.Blockhash.String(),
		"last_valid_block_height", ref.LastValidBlockHeight,
		"block_height", ref.ObservedBlockHeight,
	)
	return ref, nil
}

// GetBlockHeight returns the current block height at the confirmed commitment.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	c.recordCall("GetBlockHeight", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get block height", "error", err)
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// SendTransaction broadcasts a signed transaction. Wallets receive the Client
// as their connection handle and call this after signing.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx)
	c.recordCall("SendTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send transaction", "error", err)
		return solana.Signature{}, err
	}

	c.logger.InfoContext(ctx, "transaction broadcast", "signature", sig.String())
	return sig, nil
}

// ConfirmTransaction polls the signature status until the transaction reaches
// the requested commitment, fails on chain, or the chain passes the reference's
// last valid block height. Transport errors are returned as errors; the chain's
// verdict is returned as a Confirmation.
func (c *Client) ConfirmTransaction(
	ctx context.Context,
	sig solana.Signature,
	ref Reference,
	commitment rpc.CommitmentType,
) (*Confirmation, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conf, err := c.signatureStatus(ctx, sig, commitment)
		if err != nil || conf != nil {
			return conf, err
		}

		height, err := c.GetBlockHeight(ctx)
		if err != nil {
			return nil, err
		}
		if height > ref.LastValidBlockHeight {
			// The transaction may have landed between the status poll and the height read.
			conf, err := c.signatureStatus(ctx, sig, commitment)
			if err != nil || conf != nil {
				return conf, err
			}
			c.logger.WarnContext(ctx, "blockhash expired before confirmation",
				"signature", sig.String(),
				"block_height", height,
				"last_valid_block_height", ref.LastValidBlockHeight,
			)
			return &Confirmation{Status: ConfirmationExpired}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// signatureStatus polls the status of sig once. It returns a nil Confirmation
// while the transaction is still pending.
func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (*Confirmation, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.recordCall("GetSignatureStatuses", start, err)
	if err != nil {
		c.recordPoll("error")
		c.logger.WarnContext(ctx, "failed to get signature status",
			"signature", sig.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		c.recordPoll("pending")
		return nil, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		c.recordPoll("failed")
		conf := &Confirmation{
			Status: ConfirmationFailed,
			Slot:   status.Slot,
			Err:    formatTransactionError(status.Err),
		}
		c.logger.WarnContext(ctx, "transaction failed on chain",
			"signature", sig.String(),
			"slot", status.Slot,
			"error", conf.Err,
		)
		return conf, nil
	}
	if !commitmentReached(status.ConfirmationStatus, commitment) {
		c.recordPoll("pending")
		return nil, nil
	}

	c.recordPoll("confirmed")
	c.logger.InfoContext(ctx, "transaction confirmed",
		"signature", sig.String(),
		"slot", status.Slot,
		"confirmation_status", status.ConfirmationStatus,
	)
	return &Confirmation{Status: ConfirmationConfirmed, Slot: status.Slot}, nil
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func (c *Client) recordPoll(result string) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationPoll(result)
	}
}

var commitmentRank = map[string]int{
	string(rpc.ConfirmationStatusProcessed): 1,
	string(rpc.ConfirmationStatusConfirmed): 2,
	string(rpc.ConfirmationStatusFinalized): 3,
}

// commitmentReached reports whether a status is at least as durable as the requested commitment.
func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	have, ok := commitmentRank[string(status)]
	if !ok {
		return false
	}
	need, ok := commitmentRank[string(want)]
	if !ok {
		need = commitmentRank[string(rpc.ConfirmationStatusConfirmed)]
	}
	return have >= need
}

// formatTransactionError renders the chain's error value, e.g. {"InstructionError":[0,{"Custom":1}]}.
func formatTransactionError(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
