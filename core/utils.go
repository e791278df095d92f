package core

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// CodeHash calculates the SHA-256 hash of contract code
func CodeHash(code []byte) Hash {
	return Hash(sha256.Sum256(code))
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
	}
	return AmountFromBig(b)
}

// AmountFromBig converts a wire amount into the 256-bit balance type.
// nil is treated as zero.
func AmountFromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return new(uint256.Int), nil
	}
	if b.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrValueOverflow
	}
	return v, nil
}

// AmountOrZero never returns nil.
func AmountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
