package repayment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlreadyProcessedError signals that an incoming payment's is_processed flag
// was already true. Callers treat it as a successful no-op and may read back
// the previously committed summary.
type AlreadyProcessedError struct {
	Reference string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("payment %s has already been processed", e.Reference)
}

// DataIntegrityError signals that applying an allocation would violate an
// installment invariant (paid component exceeding its due component). It is
// fatal to the transaction and never retried automatically.
type DataIntegrityError struct {
	InstallmentID uuid.UUID
	Component     Component
	Shortfall     decimal.Decimal
	Allocated     decimal.Decimal
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("over-allocation on installment %s: %s allocation %s exceeds shortfall %s",
		e.InstallmentID, e.Component, e.Allocated.StringFixed(2), e.Shortfall.StringFixed(2))
}

// LockTimeoutError signals that an exclusive row lock could not be acquired.
// Transient: the whole transaction is safe to retry.
type LockTimeoutError struct {
	Resource string
	Err      error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire exclusive lock on %s: %v", e.Resource, e.Err)
}

func (e *LockTimeoutError) Unwrap() error { return e.Err }

// ErrInsufficientWaiverLine marks a waiver request that lacks a line for an
// installment the waterfall reached. The allocator consumes it internally by
// stopping allocation for that component; it never aborts the transaction.
var ErrInsufficientWaiverLine = errors.New("waiver request has no line for installment")

// ErrPaymentNotFound is returned by stores when no payment matches the
// given external reference.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrTransactionNotFound is returned by stores when no ledger transaction
// matches the given source reference.
var ErrTransactionNotFound = errors.New("ledger transaction not found")
