// Package api provides the interfaces for the virtual machine that executes smart contracts.
// This package defines the API between the blockchain and the VM, but is not directly used by smart contracts.
package api

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/security"
	"github.com/govm-net/cvm/types"
)

// Runtime kinds understood by the engine.
const (
	RuntimeNative = "native"
	RuntimeJS     = "js"
	RuntimeWasm   = "wasm"
)

// VM represents the virtual machine that executes smart contracts
type VM interface {
	// Deploy classifies, validates and registers a new contract
	Deploy(ctx context.Context, req DeployRequest) (*abi.Descriptor, error)

	// Invoke runs a method and commits its effects on success
	Invoke(ctx context.Context, req Request) (*types.InvocationResult, error)

	// Query runs a pure or view method without committing anything
	Query(ctx context.Context, req Request) (*types.InvocationResult, error)
}

// Request is a single top-level call.
type Request struct {
	Contract core.Address
	Method   string
	Args     []any

	// Envelope is required for transaction and payable methods and must
	// have been verified upstream.
	Envelope *types.Envelope

	// Header is the block the call executes in.
	Header *core.Block

	// Caller is the claimed sender of view calls made without an envelope.
	Caller core.Address
}

// DeployRequest registers contract code.
type DeployRequest struct {
	Manifest *abi.Manifest
	Code     []byte
	Deployer core.Address

	// Address is used when non-zero, otherwise one is derived from
	// deployer, code hash and nonce.
	Address core.Address
	Nonce   uint64
	Height  uint64
}

// Runtime loads hosted contract code of one kind.
type Runtime interface {
	Kind() string

	// Load validates code against the classified descriptor. Validation
	// failures are *core.DeploymentError.
	Load(desc *abi.Descriptor, code []byte) (Program, error)
}

// Program is loaded contract code. Run executes one method; it must return
// when ctx is done. A *core.RevertError return is a deliberate revert, any
// other error is a fault.
type Program interface {
	Run(ctx context.Context, env core.Context, method string, args []any) (any, error)
}

// ContractConfig defines configuration for contract validation and execution
type ContractConfig struct {
	// MaxGas is the maximum amount of gas that can be used by a contract
	MaxGas uint64 `json:"max_gas"`

	// MaxCallDepth is the maximum depth of contract calls
	MaxCallDepth uint8 `json:"max_call_depth"`

	// MaxCodeSize is the maximum size of contract code in bytes
	MaxCodeSize uint64 `json:"max_code_size"`

	// MaxDuration bounds the wall clock time of one top-level call
	MaxDuration time.Duration `json:"max_duration"`
}

// DefaultContractConfig returns a default configuration for contracts
func DefaultContractConfig() ContractConfig {
	q := security.DefaultQuota()
	return ContractConfig{
		MaxGas:       q.MaxGas,
		MaxCallDepth: uint8(q.MaxCallDepth),
		MaxCodeSize:  1024 * 1024, // 1MB
		MaxDuration:  q.MaxDuration,
	}
}

// Quota converts the limits into a security quota.
func (c ContractConfig) Quota() security.Quota {
	return security.Quota{
		MaxGas:       c.MaxGas,
		MaxDuration:  c.MaxDuration,
		MaxCallDepth: int(c.MaxCallDepth),
	}
}

// ContractAddressGenerator derives the address of a new contract.
type ContractAddressGenerator func(deployer core.Address, codeHash core.Hash, nonce uint64) core.Address

// DefaultContractAddressGenerator takes the last 20 bytes of
// keccak256(deployer || codeHash || nonce).
var DefaultContractAddressGenerator ContractAddressGenerator = func(deployer core.Address, codeHash core.Hash, nonce uint64) core.Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	sum := crypto.Keccak256(deployer[:], codeHash[:], n[:])
	var addr core.Address
	copy(addr[:], sum[len(sum)-len(addr):])
	return addr
}
