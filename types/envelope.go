package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/govm-net/cvm/core"
)

// Envelope is a transaction as submitted by a client. Verified and Signers
// are set only by a signature verifier; the engine trusts them as given.
type Envelope struct {
	Contract     core.Address `json:"contract"`
	Method       string       `json:"method"`
	Args         []any        `json:"args"`
	Value        *big.Int     `json:"value,omitempty"`
	Fee          *big.Int     `json:"fee,omitempty"`
	Nonce        uint64       `json:"nonce"`
	Sender       core.Address `json:"sender"`
	Signature    []byte       `json:"signature,omitempty"`
	Cosignatures [][]byte     `json:"cosignatures,omitempty"`

	Verified bool           `json:"-"`
	Signers  []core.Address `json:"-"`
}

type signingPayload struct {
	Contract core.Address `json:"contract"`
	Method   string       `json:"method"`
	Args     []any        `json:"args"`
	Value    string       `json:"value"`
	Fee      string       `json:"fee"`
	Nonce    uint64       `json:"nonce"`
	Sender   core.Address `json:"sender"`
}

func (e *Envelope) payload() ([]byte, error) {
	args, err := core.Normalize(e.Args)
	if err != nil {
		return nil, fmt.Errorf("envelope args: %w", err)
	}
	list, _ := args.([]any)
	if list == nil {
		list = []any{}
	}
	return json.Marshal(signingPayload{
		Contract: e.Contract,
		Method:   e.Method,
		Args:     list,
		Value:    bigString(e.Value),
		Fee:      bigString(e.Fee),
		Nonce:    e.Nonce,
		Sender:   e.Sender,
	})
}

// SigningHash is the digest signed by the sender and every cosigner.
func (e *Envelope) SigningHash() (core.Hash, error) {
	data, err := e.payload()
	if err != nil {
		return core.ZeroHash, err
	}
	return core.Hash(crypto.Keccak256Hash(data)), nil
}

// Hash identifies the transaction, signatures included.
func (e *Envelope) Hash() (core.Hash, error) {
	data, err := e.payload()
	if err != nil {
		return core.ZeroHash, err
	}
	parts := [][]byte{data, e.Signature}
	parts = append(parts, e.Cosignatures...)
	return core.Hash(crypto.Keccak256Hash(parts...)), nil
}

func bigString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
