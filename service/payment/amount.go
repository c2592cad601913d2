package payment

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of decimal places between SOL and lamports.
const Decimals = 9

// amountInput matches what the amount field accepts while typing: an optional
// integer part, an optional single decimal point and optional fraction digits.
var amountInput = regexp.MustCompile(`^\d*\.?\d*$`)

// AcceptsInput reports whether s may be entered into the amount field. The
// empty string is accepted as an intermediate state.
func AcceptsInput(s string) bool {
	return amountInput.MatchString(s)
}

// ParseLamports converts a decimal SOL amount into lamports. Fractional
// lamports are discarded, never rounded up.
func ParseLamports(s string) (uint64, error) {
	lamports, err := parseLamports(s)
	if err != nil {
		return 0, err
	}
	n := lamports.BigInt()
	if !n.IsUint64() {
		return 0, ErrAmountTooLarge
	}
	return n.Uint64(), nil
}

// parseLamports returns the floored, positive lamport amount of s without
// bounding it.
func parseLamports(s string) (decimal.Decimal, error) {
	if s == "" || !AcceptsInput(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}

	lamports := d.Shift(Decimals).Floor()
	if !lamports.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return lamports, nil
}

// ValidateAmount parses input and checks it against the available balance. An
// unknown balance counts as zero. An amount too large to fit in lamports
// exceeds every balance. It has no side effects.
func ValidateAmount(input string, balance uint64, balanceKnown bool) (uint64, error) {
	if !balanceKnown {
		balance = 0
	}
	lamports, err := ParseLamports(input)
	if errors.Is(err, ErrAmountTooLarge) {
		return 0, InsufficientBalanceForInput(balance, input)
	}
	if err != nil {
		return 0, newValidationError(err, "%s", UserMessage(err))
	}
	if lamports > balance {
		return 0, InsufficientBalanceError(balance, lamports)
	}
	return lamports, nil
}

// InsufficientBalanceError builds the insufficient balance error shown to the user.
func InsufficientBalanceError(balance, lamports uint64) *ValidationError {
	return insufficientBalance(balance, decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0))
}

// InsufficientBalanceForInput is InsufficientBalanceError for a raw amount
// input, including amounts above the uint64 lamport range. Input that does not
// parse is reported as needing zero SOL.
func InsufficientBalanceForInput(balance uint64, input string) *ValidationError {
	lamports, _ := parseLamports(input)
	return insufficientBalance(balance, lamports)
}

func insufficientBalance(balance uint64, lamports decimal.Decimal) *ValidationError {
	return newValidationError(ErrInsufficientBalance,
		"Insufficient balance. You have %s SOL but need %s SOL.",
		FormatSOL(balance), lamports.Shift(-Decimals).StringFixed(6))
}

// FormatSOL renders lamports as SOL with six decimal places.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -Decimals).StringFixed(6)
}

