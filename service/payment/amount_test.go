package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptsInput(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"0", true},
		{"1", true},
		{"0.3", true},
		{".5", true},
		{"5.", true},
		{".", true},
		{"1.9999999995", true},
		{"-1", false},
		{"1.2.3", false},
		{"1e9", false},
		{"abc", false},
		{" 1", false},
		{"1,5", false},
		{"+1", false},
		{"١", false}, // non-ASCII digit
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, AcceptsInput(tt.input))
		})
	}
}

func TestParseLamports(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr error
	}{
		{name: "whole", input: "1", want: 1_000_000_000},
		{name: "fraction", input: "0.3", want: 300_000_000},
		{name: "leading point", input: ".5", want: 500_000_000},
		{name: "trailing point", input: "2.", want: 2_000_000_000},
		{name: "one lamport", input: "0.000000001", want: 1},
		{name: "floors instead of rounding", input: "1.9999999995", want: 1_999_999_999},
		{name: "floors long fraction", input: "0.0000000019", want: 1},
		{name: "empty", input: "", wantErr: ErrInvalidAmount},
		{name: "lone point", input: ".", wantErr: ErrInvalidAmount},
		{name: "zero", input: "0", wantErr: ErrInvalidAmount},
		{name: "zero fraction", input: "0.000", wantErr: ErrInvalidAmount},
		{name: "below one lamport", input: "0.0000000009", wantErr: ErrInvalidAmount},
		{name: "negative", input: "-1", wantErr: ErrInvalidAmount},
		{name: "garbage", input: "1.2.3", wantErr: ErrInvalidAmount},
		{name: "overflows uint64", input: "18446744074", wantErr: ErrAmountTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLamports(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAmount(t *testing.T) {
	t.Run("within balance", func(t *testing.T) {
		lamports, err := ValidateAmount("0.3", 500_000_000, true)
		require.NoError(t, err)
		assert.Equal(t, uint64(300_000_000), lamports)
	})

	t.Run("exactly the balance", func(t *testing.T) {
		lamports, err := ValidateAmount("0.5", 500_000_000, true)
		require.NoError(t, err)
		assert.Equal(t, uint64(500_000_000), lamports)
	})

	t.Run("exceeds balance", func(t *testing.T) {
		_, err := ValidateAmount("1", 100, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "Insufficient balance. You have 0.000000 SOL but need 1.000000 SOL.", err.Error())
	})

	t.Run("beyond the lamport range exceeds any balance", func(t *testing.T) {
		_, err := ValidateAmount("20000000000", 500_000_000, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "Insufficient balance. You have 0.500000 SOL but need 20000000000.000000 SOL.", err.Error())
	})

	t.Run("unknown balance counts as zero", func(t *testing.T) {
		_, err := ValidateAmount("0.1", 0, false)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("invalid and insufficient have distinct messages", func(t *testing.T) {
		_, invalid := ValidateAmount("0", 100, true)
		_, insufficient := ValidateAmount("1", 100, true)
		require.Error(t, invalid)
		require.Error(t, insufficient)
		assert.ErrorIs(t, invalid, ErrInvalidAmount)
		assert.Equal(t, "Please enter a valid amount", invalid.Error())
		assert.NotEqual(t, invalid.Error(), insufficient.Error())
	})
}

func TestFormatSOL(t *testing.T) {
	assert.Equal(t, "0.500000", FormatSOL(500_000_000))
	assert.Equal(t, "1.000000", FormatSOL(1_000_000_000))
	assert.Equal(t, "0.000000", FormatSOL(0))
	assert.Equal(t, "12.345679", FormatSOL(12_345_678_900))
}
