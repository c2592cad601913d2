// Package wallet defines the signing capability the payment pipeline delegates
// to. The pipeline never touches private key material; it hands an unsigned
// transaction and a connection to a Wallet and gets a signature back.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ErrNotConnected is returned when a wallet is asked to sign while disconnected.
var ErrNotConnected = errors.New("wallet not connected")

// Connection broadcasts signed transactions. The chain client satisfies it.
type Connection interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Wallet is an external signer holding the sender's keys.
type Wallet interface {
	// PublicKey returns the connected address, or false when no wallet is connected.
	PublicKey() (solana.PublicKey, bool)

	// SignAndSend signs tx and broadcasts it over conn. Failures (user
	// rejection, locked wallet, network rejection) are returned as-is.
	SignAndSend(ctx context.Context, tx *solana.Transaction, conn Connection) (solana.Signature, error)
}

// KeypairWallet signs with a locally held ed25519 key, e.g. one loaded from a
// solana-keygen JSON file.
type KeypairWallet struct {
	mu        sync.RWMutex
	key       solana.PrivateKey
	connected bool
}

var _ Wallet = (*KeypairWallet)(nil)

// NewKeypairWallet creates a connected wallet for key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key, connected: true}
}

// LoadKeypairFile reads a solana-keygen keypair file.
func LoadKeypairFile(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairWallet(key), nil
}

// PublicKey implements Wallet.
func (w *KeypairWallet) PublicKey() (solana.PublicKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.connected {
		return solana.PublicKey{}, false
	}
	return w.key.PublicKey(), true
}

// Connect marks the wallet as connected.
func (w *KeypairWallet) Connect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
}

// Disconnect marks the wallet as disconnected. It can no longer sign.
func (w *KeypairWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

// SignAndSend implements Wallet.
func (w *KeypairWallet) SignAndSend(ctx context.Context, tx *solana.Transaction, conn Connection) (solana.Signature, error) {
	w.mu.RLock()
	connected := w.connected
	key := w.key
	w.mu.RUnlock()

	if !connected {
		return solana.Signature{}, ErrNotConnected
	}

	pub := key.PublicKey()
	_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &key
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return conn.SendTransaction(ctx, tx)
}
