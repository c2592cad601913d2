package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natssvc "github.com/brojonat/sendsol/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

var errWatchDone = errors.New("watch complete")

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream payment outcome events published to NATS",
		ArgsUsage: "[SENDER_ADDRESS]",
		Description: `Subscribe to outcome events published by send when NATS_URL is set.

Events are published to the subject: payments.{sender_address}
Without a sender address, events from every sender are shown.

Example:
  sendsol watch --must-jq '.kind == "confirmed"' --count 1 --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "nats-url",
				Usage:    "NATS server URL",
				EnvVars:  []string{"NATS_URL"},
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 streams until interrupted)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			filters := c.StringSlice("must-jq")
			codes := make([]*gojq.Code, len(filters))
			for i, filter := range filters {
				code, err := compileJQ(filter)
				if err != nil {
					return err
				}
				codes[i] = code
			}

			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			sub, err := natssvc.NewSubscriber(c.String("nats-url"), logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			opts := outputFrom(c)
			limit := c.Int("count")
			matched := 0

			err = sub.Stream(ctx, c.Args().First(), func(event *natssvc.OutcomeEvent) error {
				if !matchesAll(codes, event) {
					return nil
				}
				if err := render(c.App.Writer, opts, event, func(w io.Writer) {
					printOutcomeEvent(w, event)
				}); err != nil {
					return err
				}
				matched++
				if limit > 0 && matched >= limit {
					return errWatchDone
				}
				return nil
			})
			switch {
			case errors.Is(err, errWatchDone):
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return fmt.Errorf("timed out after %d matching events", matched)
			default:
				return err
			}
		},
	}
}

// matchesAll reports whether every filter evaluates to a truthy first result.
func matchesAll(codes []*gojq.Code, event *natssvc.OutcomeEvent) bool {
	for _, code := range codes {
		results, err := runJQ(code, event)
		if err != nil || len(results) == 0 || !isTruthy(results[0]) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printOutcomeEvent(w io.Writer, e *natssvc.OutcomeEvent) {
	fmt.Fprintf(w, "[%s] %s  %s SOL  %s -> %s\n",
		e.PublishedAt.Local().Format(time.DateTime),
		e.Kind,
		e.Amount,
		e.FromAddress,
		e.ToAddress,
	)
	if e.Signature != "" {
		fmt.Fprintf(w, "    signature: %s\n", e.Signature)
	}
	if e.Message != "" {
		fmt.Fprintf(w, "    %s\n", e.Message)
	}
}
