package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/sendsol/service/chainstate"
	"github.com/brojonat/sendsol/service/flow"
	natssvc "github.com/brojonat/sendsol/service/nats"
	"github.com/brojonat/sendsol/service/payment"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

type sendResult struct {
	Status      flow.Status     `json:"status"`
	Message     string          `json:"message"`
	Outcome     payment.Outcome `json:"outcome"`
	Amount      string          `json:"amount_sol"`
	ExplorerURL string          `json:"explorer_url,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send SOL to the configured recipient and wait for confirmation",
		ArgsUsage: "AMOUNT_SOL",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Value: 30 * time.Second,
				Usage: "How long to wait for balance and network data before giving up",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("amount is required")
			}
			amount := c.Args().First()

			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			w, err := rt.wallet()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cache := chainstate.New(rt.client, chainstate.Config{
				BalanceInterval:   rt.cfg.BalanceRefreshInterval,
				ReferenceInterval: rt.cfg.ReferenceRefreshInterval,
			}, rt.metrics, rt.logger)
			cache.Start(ctx)
			defer cache.Close()

			pipeline := payment.NewPipeline(w, rt.client, rt.metrics, rt.logger)
			ctrl := flow.NewController(w, cache, pipeline, flow.Config{
				Recipient: rt.cfg.RecipientAddress,
				Cluster:   rt.cfg.SolanaCluster,
			}, rt.metrics, rt.logger)

			pub, err := rt.publisher()
			if err != nil {
				return err
			}
			if pub != nil {
				defer pub.Close()
				ctrl.WithNotifier(natssvc.NewNotifier(pub, rt.cfg.SolanaCluster))
			}

			if err := ctrl.ConnectWallet(ctx); err != nil {
				return err
			}
			defer ctrl.DisconnectWallet()
			if !ctrl.SetAmount(amount) {
				return fmt.Errorf("invalid amount %q", amount)
			}

			waitCtx, cancel := context.WithTimeout(ctx, c.Duration("wait"))
			defer cancel()
			if err := waitReady(waitCtx, ctrl); err != nil {
				return err
			}

			// Refresh so the transfer is signed against the newest blockhash.
			if !cache.RefreshReference(ctx) {
				rt.logger.DebugContext(ctx, "reference refresh already running")
			}

			outcome, err := ctrl.Submit(ctx)
			if err != nil {
				return err
			}

			state := ctrl.State()
			result := sendResult{
				Status:      state.Status,
				Message:     state.Message,
				Outcome:     outcome,
				Amount:      payment.FormatSOL(outcome.Lamports),
				ExplorerURL: state.ExplorerURL,
				Warnings:    state.Warnings,
			}
			if err := render(c.App.Writer, outputFrom(c), result, func(w io.Writer) {
				printSendResult(w, result)
			}); err != nil {
				return err
			}

			if !outcome.Succeeded() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// waitReady blocks until neither the balance nor the reference is loading.
func waitReady(ctx context.Context, ctrl *flow.Controller) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		s := ctrl.State()
		if !s.Balance.Loading && !s.Reference.Loading {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting: %s", s.ButtonLabel)
		case <-ticker.C:
		}
	}
}

func printSendResult(w io.Writer, r sendResult) {
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	fmt.Fprintf(w, "Message:   %s\n", r.Message)
	fmt.Fprintf(w, "Amount:    %s SOL\n", r.Amount)
	if r.Outcome.To != "" {
		fmt.Fprintf(w, "Recipient: %s\n", r.Outcome.To)
	}
	if r.Outcome.Signature != "" {
		fmt.Fprintf(w, "Signature: %s\n", r.Outcome.Signature)
	}
	if r.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:  %s\n", r.ExplorerURL)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "Warning:   %s\n", warning)
	}
}

type balanceResult struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the balance of an address (default: the keypair's address)",
		ArgsUsage: "[ADDRESS]",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			var owner solana.PublicKey
			if c.NArg() > 0 {
				owner, err = solana.PublicKeyFromBase58(c.Args().First())
				if err != nil {
					return fmt.Errorf("invalid address %q: %w", c.Args().First(), err)
				}
			} else {
				w, err := rt.wallet()
				if err != nil {
					return err
				}
				owner, _ = w.PublicKey()
			}

			lamports, err := rt.client.GetBalance(c.Context, owner)
			if err != nil {
				return err
			}

			result := balanceResult{
				Address:  owner.String(),
				Lamports: lamports,
				SOL:      payment.FormatSOL(lamports),
			}
			return render(c.App.Writer, outputFrom(c), result, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s SOL (%d lamports)\n", result.Address, result.SOL, result.Lamports)
			})
		},
	}
}

type referenceResult struct {
	Blockhash            string    `json:"blockhash"`
	LastValidBlockHeight uint64    `json:"last_valid_block_height"`
	BlockHeight          uint64    `json:"block_height"`
	RemainingBlocks      uint64    `json:"remaining_blocks"`
	ValidFor             string    `json:"valid_for"`
	FetchedAt            time.Time `json:"fetched_at"`
}

func newReferenceResult(ref solanasvc.Reference) referenceResult {
	var remaining uint64
	if ref.LastValidBlockHeight > ref.ObservedBlockHeight {
		remaining = ref.LastValidBlockHeight - ref.ObservedBlockHeight
	}
	return referenceResult{
		Blockhash:            ref.Blockhash.String(),
		LastValidBlockHeight: ref.LastValidBlockHeight,
		BlockHeight:          ref.ObservedBlockHeight,
		RemainingBlocks:      remaining,
		ValidFor:             (time.Duration(remaining) * solanasvc.SlotDuration).String(),
		FetchedAt:            ref.FetchedAt,
	}
}

func referenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "reference",
		Aliases: []string{"blockhash"},
		Usage:   "Show the latest blockhash and how long it stays valid",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			ref, err := rt.client.GetLatestReference(c.Context)
			if err != nil {
				return err
			}

			result := newReferenceResult(ref)
			return render(c.App.Writer, outputFrom(c), result, func(w io.Writer) {
				fmt.Fprintf(w, "Blockhash:               %s\n", result.Blockhash)
				fmt.Fprintf(w, "Block height:            %d\n", result.BlockHeight)
				fmt.Fprintf(w, "Last valid block height: %d\n", result.LastValidBlockHeight)
				fmt.Fprintf(w, "Valid for:               ~%s (%d blocks)\n", result.ValidFor, result.RemainingBlocks)
			})
		},
	}
}

type recipientResult struct {
	Address string `json:"address"`
	Cluster string `json:"cluster"`
}

func recipientCommand() *cli.Command {
	return &cli.Command{
		Name:  "recipient",
		Usage: "Show the address payments are sent to",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			result := recipientResult{
				Address: rt.cfg.RecipientAddress,
				Cluster: rt.cfg.SolanaCluster,
			}
			return render(c.App.Writer, outputFrom(c), result, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s)\n", result.Address, result.Cluster)
			})
		},
	}
}

type validateResult struct {
	Input    string `json:"input"`
	Valid    bool   `json:"valid"`
	Lamports uint64 `json:"lamports,omitempty"`
	SOL      string `json:"sol,omitempty"`
	Error    string `json:"error,omitempty"`
}

// validateAmount checks input the same way the send flow does. A nil balance
// skips the balance check.
func validateAmount(input string, balance *uint64) validateResult {
	result := validateResult{Input: input}

	var (
		lamports uint64
		err      error
	)
	switch {
	case !payment.AcceptsInput(input):
		err = payment.ErrInvalidAmount
	case balance != nil:
		lamports, err = payment.ValidateAmount(input, *balance, true)
	default:
		lamports, err = payment.ParseLamports(input)
	}
	if err != nil {
		result.Error = payment.UserMessage(err)
		return result
	}

	result.Valid = true
	result.Lamports = lamports
	result.SOL = payment.FormatSOL(lamports)
	return result
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check an amount and show it in lamports",
		ArgsUsage: "AMOUNT_SOL",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "balance",
				Usage: "Also check the amount against this balance in lamports",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("amount is required")
			}

			var balance *uint64
			if c.IsSet("balance") {
				b := c.Uint64("balance")
				balance = &b
			}

			result := validateAmount(c.Args().First(), balance)
			if err := render(c.App.Writer, outputFrom(c), result, func(w io.Writer) {
				if result.Valid {
					fmt.Fprintf(w, "%s SOL = %d lamports\n", result.SOL, result.Lamports)
				} else {
					fmt.Fprintf(w, "invalid: %s\n", result.Error)
				}
			}); err != nil {
				return err
			}

			if !result.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}
