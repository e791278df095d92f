// Package core provides the fundamental interfaces and types for contracts
// hosted by the execution runtime.
package core

import (
	"errors"
	"fmt"
)

// Common errors returned by the runtime. Every failure surfaced by the
// engine wraps one of these, so callers can rely on errors.Is.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrDeployment            = errors.New("deployment error")
	ErrContractNotFound      = errors.New("contract not found")
	ErrMethodNotFound        = errors.New("method not found")
	ErrNotExternallyCallable = errors.New("method is not externally callable")
	ErrUnauthorizedCall      = errors.New("unauthorized call")
	ErrUnauthorizedContext   = errors.New("unauthorized context")
	ErrInvalidArgumentType   = errors.New("invalid argument type")
	ErrNotPayable            = errors.New("method does not accept value")
	ErrNotReadOnly           = errors.New("method is not read-only")
	ErrNegativeValue         = errors.New("attached value is negative")
	ErrValueOverflow         = errors.New("value overflows 256 bits")
	ErrExecutionReverted     = errors.New("execution reverted")
	ErrExecutionFault        = errors.New("execution fault")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrQuotaExceeded         = errors.New("resource quota exceeded")
	ErrAccessDenied          = errors.New("access denied")
	ErrUnknownField          = errors.New("unknown field")
	ErrUnsupportedValue      = errors.New("unsupported value")
	ErrCyclicValue           = errors.New("cyclic value")
	ErrDeadlock              = errors.New("cross-contract lock cycle")
)

// DeploymentError reports why a contract was refused at deployment time.
type DeploymentError struct {
	Subject string // method or field name, empty for contract-level problems
	Reason  string
}

func (e *DeploymentError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("deployment error: %s", e.Reason)
	}
	return fmt.Sprintf("deployment error: %s: %s", e.Subject, e.Reason)
}

func (e *DeploymentError) Is(target error) bool {
	return target == ErrDeployment
}

// NewDeploymentError builds a DeploymentError with a formatted reason.
func NewDeploymentError(subject, format string, args ...any) *DeploymentError {
	return &DeploymentError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// RevertError is the deliberate, contract-initiated abort.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrExecutionReverted.Error()
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) Is(target error) bool {
	return target == ErrExecutionReverted
}

// Revert returns an error that aborts the current invocation and discards
// all of its staged effects.
func Revert(reason string) error {
	return &RevertError{Reason: reason}
}
