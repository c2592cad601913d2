package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// SlotDuration is the nominal time between slots, used to estimate how far the
// chain has advanced since a reference was fetched.
const SlotDuration = 400 * time.Millisecond

// Reference is a recent blockhash together with the block height after which a
// transaction that uses it can no longer land.
type Reference struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	ObservedBlockHeight  uint64 // chain block height read alongside the blockhash
	FetchedAt            time.Time
}

// IsZero reports whether the reference was never populated.
func (r Reference) IsZero() bool {
	return r.Blockhash == solana.Hash{}
}

// EstimatedBlockHeight projects the observed block height forward to now.
func (r Reference) EstimatedBlockHeight(now time.Time) uint64 {
	elapsed := now.Sub(r.FetchedAt)
	if elapsed <= 0 {
		return r.ObservedBlockHeight
	}
	return r.ObservedBlockHeight + uint64(elapsed/SlotDuration)
}

// Expired reports whether the reference can no longer authorize a transaction at now.
func (r Reference) Expired(now time.Time) bool {
	if r.IsZero() {
		return true
	}
	return r.EstimatedBlockHeight(now) > r.LastValidBlockHeight
}

// ConfirmationStatus is the result of waiting for a submitted transaction.
type ConfirmationStatus string

const (
	// ConfirmationConfirmed means the transaction reached the requested commitment without error.
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	// ConfirmationFailed means the transaction landed but its execution failed.
	ConfirmationFailed ConfirmationStatus = "failed"
	// ConfirmationExpired means the chain passed the reference's last valid block
	// height before the transaction was seen at the requested commitment.
	ConfirmationExpired ConfirmationStatus = "expired"
)

// Confirmation describes how a submitted transaction resolved.
type Confirmation struct {
	Status ConfirmationStatus
	Slot   uint64
	Err    string // execution error reported by the chain, empty unless Status is failed
}
