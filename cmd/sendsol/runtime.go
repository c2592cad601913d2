package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sendsol/service/config"
	"github.com/brojonat/sendsol/service/metrics"
	natssvc "github.com/brojonat/sendsol/service/nats"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/brojonat/sendsol/service/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// runtime holds the dependencies shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *solanasvc.Client
	exporter *metrics.Exporter
}

const configKey = "config"

// loadConfig runs before any command. Misconfiguration is fatal for every
// command, including those that never reach the RPC endpoint.
func loadConfig(c *cli.Context) error {
	switch c.Args().First() {
	case "", "help", "h":
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

// newRuntime builds the chain client from the loaded configuration.
func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if path := c.String("keypair"); path != "" {
		cfg.KeypairPath = path
	}

	logger := setupLogger(cfg.LogLevel)
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	rpcClient := solanasvc.NewRPCClient(cfg.SolanaRPCURL)
	client := solanasvc.NewClient(rpcClient, cfg.SolanaCluster, m, logger).
		WithConfirmPollInterval(cfg.ConfirmPollInterval)

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		client:   client,
	}

	if cfg.MetricsAddr != "" {
		rt.exporter = metrics.NewExporter(cfg.MetricsAddr, registry, logger)
		rt.exporter.Start()
	}

	logger.Debug("runtime initialized",
		"cluster", cfg.SolanaCluster,
		"recipient", cfg.RecipientAddress,
		"metrics_addr", cfg.MetricsAddr,
	)
	return rt, nil
}

// wallet loads the configured keypair.
func (rt *runtime) wallet() (*wallet.KeypairWallet, error) {
	if rt.cfg.KeypairPath == "" {
		return nil, fmt.Errorf("a keypair is required: set --keypair or SENDSOL_KEYPAIR_PATH")
	}
	return wallet.LoadKeypairFile(rt.cfg.KeypairPath)
}

// publisher connects to NATS when it is configured. It returns nil otherwise.
func (rt *runtime) publisher() (*natssvc.CorePublisher, error) {
	if rt.cfg.NATSURL == "" {
		return nil, nil
	}
	return natssvc.NewPublisher(rt.cfg.NATSURL, rt.metrics, rt.logger)
}

func (rt *runtime) Close() {
	if rt.exporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.exporter.Shutdown(ctx); err != nil {
		rt.logger.Warn("failed to stop metrics exporter", "error", err)
	}
}
