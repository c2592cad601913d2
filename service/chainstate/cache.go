package chainstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/sendsol/service/metrics"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/gagliardetto/solana-go"
)

const (
	// DefaultBalanceInterval is how often the connected wallet's balance is refreshed.
	DefaultBalanceInterval = 10 * time.Second
	// DefaultReferenceInterval is how often the latest blockhash is refreshed.
	// References expire much faster than balance changes matter.
	DefaultReferenceInterval = 5 * time.Second
)

// Source is the chain access the cache polls.
type Source interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetLatestReference(ctx context.Context) (solanasvc.Reference, error)
}

// Config holds the refresh intervals. Zero values fall back to the defaults.
type Config struct {
	BalanceInterval   time.Duration
	ReferenceInterval time.Duration
}

// Cache tracks the connected wallet's balance and the current blockhash
// reference. Each value is written only by its own poller.
type Cache struct {
	source  Source
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	reference *Value[solanasvc.Reference]

	mu          sync.Mutex
	balance     *Value[uint64] // nil while no wallet is connected
	owner       solana.PublicKey
	stopBalance context.CancelFunc
	stopAll     context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a cache. Call Start to begin polling the reference and Connect
// to begin polling a wallet's balance.
func New(source Source, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if cfg.BalanceInterval <= 0 {
		cfg.BalanceInterval = DefaultBalanceInterval
	}
	if cfg.ReferenceInterval <= 0 {
		cfg.ReferenceInterval = DefaultReferenceInterval
	}
	logger = logger.With("component", "chainstate")

	return &Cache{
		source:    source,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		reference: NewValue[solanasvc.Reference]("reference", cfg.ReferenceInterval, source.GetLatestReference, m, logger),
	}
}

// Start begins polling the reference until ctx is done or Close is called.
// Calling Start while polling is already running does nothing.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopAll != nil {
		return
	}
	ctx, c.stopAll = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reference.Run(ctx)
	}()

	c.logger.InfoContext(ctx, "chain state polling started",
		"reference_interval", c.cfg.ReferenceInterval,
	)
}

// Connect starts polling the balance of owner, replacing any previously
// connected wallet.
func (c *Cache) Connect(ctx context.Context, owner solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnectLocked()

	fetch := func(ctx context.Context) (uint64, error) {
		return c.source.GetBalance(ctx, owner)
	}
	balance := NewValue[uint64]("balance", c.cfg.BalanceInterval, fetch, c.metrics, c.logger)

	ctx, cancel := context.WithCancel(ctx)
	c.balance = balance
	c.owner = owner
	c.stopBalance = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		balance.Run(ctx)
	}()

	c.logger.InfoContext(ctx, "wallet connected, polling balance",
		"owner", owner.String(),
		"balance_interval", c.cfg.BalanceInterval,
	)
}

// Disconnect stops balance polling. The balance reads as undefined afterwards.
func (c *Cache) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Cache) disconnectLocked() {
	if c.stopBalance == nil {
		return
	}
	c.stopBalance()
	c.stopBalance = nil
	c.balance = nil
	c.logger.Info("wallet disconnected", "owner", c.owner.String())
	c.owner = solana.PublicKey{}
}

// Balance returns the connected wallet's balance. With no wallet connected the
// snapshot is neither present nor loading.
func (c *Cache) Balance() Snapshot[uint64] {
	c.mu.Lock()
	balance := c.balance
	c.mu.Unlock()

	if balance == nil {
		return Snapshot[uint64]{}
	}
	return balance.Snapshot()
}

// Reference returns the latest blockhash reference.
func (c *Cache) Reference() Snapshot[solanasvc.Reference] {
	return c.reference.Snapshot()
}

// RefreshReference fetches the reference now, outside the regular schedule.
func (c *Cache) RefreshReference(ctx context.Context) bool {
	return c.reference.Refresh(ctx)
}

// RefreshBalance fetches the balance now, outside the regular schedule. It
// returns false when no wallet is connected or a refresh is already running.
func (c *Cache) RefreshBalance(ctx context.Context) bool {
	c.mu.Lock()
	balance := c.balance
	c.mu.Unlock()

	if balance == nil {
		return false
	}
	return balance.Refresh(ctx)
}

// Close stops all polling and waits for the pollers to exit.
func (c *Cache) Close() {
	c.mu.Lock()
	c.disconnectLocked()
	if c.stopAll != nil {
		c.stopAll()
		c.stopAll = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
}
