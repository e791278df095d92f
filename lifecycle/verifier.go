package lifecycle

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
)

// ErrInvalidSignature is returned for missing, malformed or mismatched
// signatures.
var ErrInvalidSignature = errors.New("invalid signature")

// Verifier authenticates an envelope and returns its signer set, sender
// first.
type Verifier interface {
	Verify(env *types.Envelope) ([]core.Address, error)
}

// SignatureVerifier checks secp256k1 recoverable signatures over the
// envelope signing hash.
type SignatureVerifier struct{}

var _ Verifier = SignatureVerifier{}

// Verify recovers the sender from the signature and each cosigner from the
// cosignatures.
func (SignatureVerifier) Verify(env *types.Envelope) ([]core.Address, error) {
	hash, err := env.SigningHash()
	if err != nil {
		return nil, err
	}
	sender, err := recoverAddress(hash, env.Signature)
	if err != nil {
		return nil, err
	}
	if sender != env.Sender {
		return nil, fmt.Errorf("%w: signed by %s, sender is %s", ErrInvalidSignature, sender, env.Sender)
	}

	signers := []core.Address{sender}
	seen := map[core.Address]bool{sender: true}
	for i, sig := range env.Cosignatures {
		addr, err := recoverAddress(hash, sig)
		if err != nil {
			return nil, fmt.Errorf("cosignature %d: %w", i, err)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		signers = append(signers, addr)
	}
	return signers, nil
}

func recoverAddress(hash core.Hash, sig []byte) (core.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return core.ZeroAddress, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return core.ZeroAddress, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return core.Address(crypto.PubkeyToAddress(*pub)), nil
}

// AddressOf returns the account address controlled by key.
func AddressOf(key *ecdsa.PrivateKey) core.Address {
	return core.Address(crypto.PubkeyToAddress(key.PublicKey))
}

// Sign sets the sender to the key's address and signs the envelope.
func Sign(env *types.Envelope, key *ecdsa.PrivateKey) error {
	env.Sender = AddressOf(key)
	hash, err := env.SigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return err
	}
	env.Signature = sig
	return nil
}

// Cosign appends a cosignature. The envelope must not change afterwards.
func Cosign(env *types.Envelope, key *ecdsa.PrivateKey) error {
	hash, err := env.SigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return err
	}
	env.Cosignatures = append(env.Cosignatures, sig)
	return nil
}
