package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/sendsol/service/chainstate"
	"github.com/brojonat/sendsol/service/payment"
	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/brojonat/sendsol/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipient = "4d5h8TgGHdoewTsarbDZkQJ1zccZtn3s7cGkQQMWnEcy"

// fakeSource serves the chain state the cache polls.
type fakeSource struct {
	mu         sync.Mutex
	balance    uint64
	balanceErr error
	refErr     error
}

func (f *fakeSource) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeSource) GetLatestReference(ctx context.Context) (solanasvc.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refErr != nil {
		return solanasvc.Reference{}, f.refErr
	}
	return solanasvc.Reference{
		Blockhash:            solana.Hash{4, 2},
		LastValidBlockHeight: 1150,
		ObservedBlockHeight:  1000,
		FetchedAt:            time.Now(),
	}, nil
}

// fakeChain broadcasts into a slice and confirms every transaction.
type fakeChain struct {
	mu        sync.Mutex
	sent      int
	onConfirm func()
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return tx.Signatures[0], nil
}

func (f *fakeChain) ConfirmTransaction(ctx context.Context, sig solana.Signature, ref solanasvc.Reference, commitment rpc.CommitmentType) (*solanasvc.Confirmation, error) {
	if f.onConfirm != nil {
		f.onConfirm()
	}
	return &solanasvc.Confirmation{Status: solanasvc.ConfirmationConfirmed, Slot: 1}, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// rejectingWallet is connected but refuses to sign.
type rejectingWallet struct {
	pub solana.PublicKey
	err error
}

func (w *rejectingWallet) PublicKey() (solana.PublicKey, bool) { return w.pub, true }

func (w *rejectingWallet) SignAndSend(ctx context.Context, tx *solana.Transaction, conn wallet.Connection) (solana.Signature, error) {
	return solana.Signature{}, w.err
}

// countingSubmitter fails the test if the pipeline is reached.
type countingSubmitter struct {
	calls int
}

func (s *countingSubmitter) Submit(ctx context.Context, req payment.Request) payment.Outcome {
	s.calls++
	return payment.Outcome{Kind: payment.OutcomeConfirmed}
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []payment.Outcome
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, o payment.Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
	return n.err
}

type harness struct {
	ctrl   *Controller
	cache  *chainstate.Cache
	source *fakeSource
	chain  *fakeChain
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKeypairWallet(t *testing.T) *wallet.KeypairWallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return wallet.NewKeypairWallet(key)
}

// newHarness wires a controller over a real cache and pipeline. When start is
// true the cache is started and the test waits for both values to load.
func newHarness(t *testing.T, w wallet.Wallet, source *fakeSource, start bool) *harness {
	t.Helper()
	logger := discardLogger()
	ctx, cancel := context.WithCancel(context.Background())

	cache := chainstate.New(source, chainstate.Config{
		BalanceInterval:   time.Hour,
		ReferenceInterval: time.Hour,
	}, nil, logger)
	chain := &fakeChain{}
	pipeline := payment.NewPipeline(w, chain, nil, logger)
	ctrl := NewController(w, cache, pipeline, Config{Recipient: testRecipient, Cluster: "devnet"}, nil, logger)

	t.Cleanup(func() {
		cancel()
		cache.Close()
	})

	require.NoError(t, ctrl.ConnectWallet(ctx))
	if start {
		cache.Start(ctx)
		require.Eventually(t, func() bool {
			s := ctrl.State()
			return !s.Balance.Loading && !s.Reference.Loading
		}, time.Second, 5*time.Millisecond)
	}

	return &harness{ctrl: ctrl, cache: cache, source: source, chain: chain}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusIdle.CanTransitionTo(StatusSending))
	assert.True(t, StatusSending.CanTransitionTo(StatusConfirming))
	assert.True(t, StatusSending.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusSending.CanTransitionTo(StatusFailed))
	assert.True(t, StatusConfirming.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusConfirming.CanTransitionTo(StatusFailed))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusSending))
	assert.True(t, StatusFailed.CanTransitionTo(StatusSending))

	assert.False(t, StatusIdle.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusIdle.CanTransitionTo(StatusFailed))
	assert.False(t, StatusConfirming.CanTransitionTo(StatusSending))
	assert.False(t, StatusConfirmed.CanTransitionTo(StatusIdle))
	assert.False(t, StatusFailed.CanTransitionTo(StatusConfirmed))
}

func TestSetAmount(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 1}, false)

	assert.True(t, h.ctrl.SetAmount("1.5"))
	assert.Equal(t, "1.5", h.ctrl.Amount())

	assert.False(t, h.ctrl.SetAmount("1.5a"))
	assert.False(t, h.ctrl.SetAmount("-2"))
	assert.Equal(t, "1.5", h.ctrl.Amount(), "rejected keystrokes leave the input alone")

	assert.True(t, h.ctrl.SetAmount(""))
	assert.Equal(t, "", h.ctrl.Amount())
}

// Scenario 1: a valid payment is confirmed and the amount field is reset.
func TestSubmit_Confirmed(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 500_000_000}, true)
	notifier := &recordingNotifier{}
	h.ctrl.WithNotifier(notifier)

	var during Status
	h.chain.onConfirm = func() { during = h.ctrl.State().Status }

	require.True(t, h.ctrl.SetAmount("0.3"))
	require.True(t, h.ctrl.CanSubmit())

	outcome, err := h.ctrl.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, payment.OutcomeConfirmed, outcome.Kind)
	assert.Equal(t, uint64(300_000_000), outcome.Lamports)
	assert.Equal(t, StatusConfirming, during)

	s := h.ctrl.State()
	assert.Equal(t, StatusConfirmed, s.Status)
	assert.Equal(t, "", s.Amount)
	assert.Equal(t, "Transaction confirmed!", s.Message)
	assert.Equal(t, MessageSuccess, s.MessageType)
	assert.Equal(t, outcome.Signature, s.Signature)
	assert.Equal(t, "https://explorer.solana.com/tx/"+outcome.Signature+"?cluster=devnet", s.ExplorerURL)
	assert.Equal(t, 1, h.chain.sentCount())

	require.Len(t, notifier.outcomes, 1)
	assert.Equal(t, payment.OutcomeConfirmed, notifier.outcomes[0].Kind)
}

// Scenario 2: an amount above the balance never reaches the network.
func TestSubmit_InsufficientBalance(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 100}, true)

	require.True(t, h.ctrl.SetAmount("1"))
	assert.False(t, h.ctrl.CanSubmit())

	outcome, err := h.ctrl.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRejected, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, payment.ErrInsufficientBalance)

	s := h.ctrl.State()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Contains(t, s.Message, "Insufficient balance")
	assert.Equal(t, MessageError, s.MessageType)
	assert.Equal(t, "1", s.Amount)
	assert.Contains(t, s.Warnings, "Insufficient balance. You have 0.000000 SOL but need 1.000000 SOL.")
	assert.Zero(t, h.chain.sentCount())
}

func TestSubmit_AmountBeyondLamportRange(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 500_000_000}, true)

	require.True(t, h.ctrl.SetAmount("20000000000"))
	want := "Insufficient balance. You have 0.500000 SOL but need 20000000000.000000 SOL."

	s := h.ctrl.State()
	assert.False(t, s.CanSubmit)
	assert.Equal(t, []string{want}, s.Warnings)

	outcome, err := h.ctrl.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRejected, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, payment.ErrInsufficientBalance)
	assert.Equal(t, want, h.ctrl.State().Message)
	assert.Zero(t, h.chain.sentCount())
}

func TestDisconnectWallet(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 500_000_000}, true)
	require.True(t, h.ctrl.State().Balance.Present)

	h.ctrl.DisconnectWallet()

	s := h.ctrl.State()
	assert.False(t, s.Balance.Present)
	assert.False(t, s.Balance.Loading)
	assert.False(t, s.CanSubmit)

	require.NoError(t, h.ctrl.ConnectWallet(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.State().Balance.Present }, time.Second, 5*time.Millisecond)
}

// Scenario 3: the wallet's rejection ends the flow with its text verbatim.
func TestSubmit_WalletRejects(t *testing.T) {
	w := &rejectingWallet{
		pub: solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
		err: errors.New("User rejected the request"),
	}
	h := newHarness(t, w, &fakeSource{balance: 500_000_000}, true)
	notifier := &recordingNotifier{err: errors.New("nats down")}
	h.ctrl.WithNotifier(notifier)

	require.True(t, h.ctrl.SetAmount("0.3"))
	outcome, err := h.ctrl.Submit(context.Background())
	require.NoError(t, err, "notifier errors are logged, not returned")

	assert.Equal(t, payment.OutcomeBroadcastFailed, outcome.Kind)

	s := h.ctrl.State()
	assert.Equal(t, StatusFailed, s.Status)
	assert.Contains(t, s.Message, "User rejected the request")
	assert.Equal(t, MessageError, s.MessageType)
	assert.Equal(t, "0.3", s.Amount, "amount is kept for a manual retry")
	assert.Empty(t, s.Signature)
	assert.Len(t, notifier.outcomes, 1)

	// failed -> sending is allowed on the next attempt
	assert.True(t, s.CanSubmit)
}

// Scenario 4: while the reference is still loading nothing can be sent.
func TestSubmit_ReferenceLoading(t *testing.T) {
	source := &fakeSource{balance: 500_000_000}
	logger := discardLogger()
	cache := chainstate.New(source, chainstate.Config{BalanceInterval: time.Hour, ReferenceInterval: time.Hour}, nil, logger)
	t.Cleanup(cache.Close)

	submitter := &countingSubmitter{}
	w := newKeypairWallet(t)
	ctrl := NewController(w, cache, submitter, Config{Recipient: testRecipient}, nil, logger)

	require.NoError(t, ctrl.ConnectWallet(context.Background()))
	require.Eventually(t, func() bool { return ctrl.State().Balance.Present }, time.Second, 5*time.Millisecond)

	require.True(t, ctrl.SetAmount("0.3"))
	s := ctrl.State()
	assert.True(t, s.Reference.Loading)
	assert.False(t, s.CanSubmit)
	assert.Equal(t, LabelLoadingNetwork, s.ButtonLabel)

	outcome, err := ctrl.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRejected, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, payment.ErrReferenceMissing)
	assert.Zero(t, submitter.calls)

	s = ctrl.State()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, "Unable to fetch latest blockhash. Please try again.", s.Message)
}

func TestSubmit_Guards(t *testing.T) {
	t.Run("wallet not connected", func(t *testing.T) {
		w := newKeypairWallet(t)
		h := newHarness(t, w, &fakeSource{balance: 500_000_000}, true)
		w.Disconnect()

		h.ctrl.SetAmount("0.3")
		s := h.ctrl.State()
		assert.False(t, s.CanSubmit)
		assert.Equal(t, []string{"Connect your wallet to send SOL payments"}, s.Warnings)

		outcome, err := h.ctrl.Submit(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, outcome.Err, payment.ErrWalletNotConnected)
		assert.Equal(t, "Please connect your wallet first", h.ctrl.State().Message)
	})

	t.Run("empty amount", func(t *testing.T) {
		h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 500_000_000}, true)

		outcome, err := h.ctrl.Submit(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, outcome.Err, payment.ErrInvalidAmount)
		assert.Equal(t, "Please enter a valid amount", h.ctrl.State().Message)
		assert.Equal(t, StatusIdle, h.ctrl.State().Status)
	})
}

func TestSubmit_RejectsReentry(t *testing.T) {
	h := newHarness(t, newKeypairWallet(t), &fakeSource{balance: 500_000_000}, true)

	release := make(chan struct{})
	entered := make(chan struct{})
	h.chain.onConfirm = func() {
		close(entered)
		<-release
	}

	require.True(t, h.ctrl.SetAmount("0.1"))

	done := make(chan payment.Outcome)
	go func() {
		outcome, _ := h.ctrl.Submit(context.Background())
		done <- outcome
	}()

	<-entered
	s := h.ctrl.State()
	assert.Equal(t, StatusConfirming, s.Status)
	assert.Equal(t, LabelSending, s.ButtonLabel)
	assert.False(t, s.CanSubmit)
	assert.NotEmpty(t, s.Signature)

	_, err := h.ctrl.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(release)
	outcome := <-done
	assert.Equal(t, payment.OutcomeConfirmed, outcome.Kind)
	assert.Equal(t, 1, h.chain.sentCount())
}

func TestState_Warnings(t *testing.T) {
	source := &fakeSource{
		balanceErr: errors.New("rpc down"),
		refErr:     errors.New("rpc down"),
	}
	h := newHarness(t, newKeypairWallet(t), source, true)

	s := h.ctrl.State()
	assert.Equal(t, []string{"Unable to load balance.", "Network connection issues."}, s.Warnings)
	assert.False(t, s.CanSubmit)
	assert.Equal(t, LabelSend, s.ButtonLabel)
}

func TestExplorerURL(t *testing.T) {
	sig := "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

	assert.Equal(t, "https://explorer.solana.com/tx/"+sig, ExplorerURL(sig, "mainnet"))
	assert.Equal(t, "https://explorer.solana.com/tx/"+sig, ExplorerURL(sig, "mainnet-beta"))
	assert.Equal(t, "https://explorer.solana.com/tx/"+sig+"?cluster=devnet", ExplorerURL(sig, "devnet"))
	assert.Equal(t, "https://explorer.solana.com/tx/"+sig+"?cluster=testnet", ExplorerURL(sig, "testnet"))
}
