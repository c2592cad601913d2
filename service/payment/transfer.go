package payment

import (
	"fmt"

	solanasvc "github.com/brojonat/sendsol/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Transfer is an unsigned native SOL transfer. It is valid for broadcast only
// while its reference has not expired.
type Transfer struct {
	From      solana.PublicKey
	To        solana.PublicKey
	Lamports  uint64
	Reference solanasvc.Reference
	Tx        *solana.Transaction
}

// ParseRecipient parses a base58 recipient address.
func ParseRecipient(recipient string) (solana.PublicKey, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return to, nil
}

// BuildTransfer constructs a transaction moving exactly lamports from sender
// to recipient, paid for by sender and bound to ref's blockhash. The recipient
// is parsed before anything else; the same inputs always produce the same
// message bytes.
func BuildTransfer(from solana.PublicKey, recipient string, lamports uint64, ref solanasvc.Reference) (*Transfer, error) {
	to, err := ParseRecipient(recipient)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		return nil, ErrWalletNotConnected
	}
	if lamports == 0 {
		return nil, ErrInvalidAmount
	}
	if ref.IsZero() {
		return nil, ErrReferenceMissing
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from, to).Build(),
		},
		ref.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer transaction: %w", err)
	}

	return &Transfer{
		From:      from,
		To:        to,
		Lamports:  lamports,
		Reference: ref,
		Tx:        tx,
	}, nil
}
