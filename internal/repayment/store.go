package repayment

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary the orchestrator runs against. WithinTx
// opens one transaction; if fn returns an error nothing is committed.
// Implementations live in internal/store.
type Store interface {
	// WithinTx runs fn inside a single exclusive transaction and commits only
	// when fn returns nil. Lock-acquisition failures inside fn surface as
	// *LockTimeoutError.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	// CreatePayment registers an incoming payment. When a payment with the
	// same external reference already exists, the stored record is returned
	// and no new row is created.
	CreatePayment(ctx context.Context, p *IncomingPayment) (*IncomingPayment, error)

	// GetLedgerTransaction looks up a committed summary by source reference.
	// Returns ErrTransactionNotFound when absent.
	GetLedgerTransaction(ctx context.Context, sourceReference string) (*LedgerTransaction, error)

	Close() error
}

// Tx is the set of operations available inside one repayment transaction.
// All reads of rows that will be mutated take exclusive locks.
type Tx interface {
	// GetPaymentForUpdate locks the payment row itself: the lock plus the
	// is_processed check is the idempotency guard.
	GetPaymentForUpdate(ctx context.Context, externalReference string) (*IncomingPayment, error)

	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	SaveAccount(ctx context.Context, a *Account) error

	// ListOpenPeriodsForUpdate returns the account's not-yet-paid-off
	// periods, locked, ordered oldest due date first.
	ListOpenPeriodsForUpdate(ctx context.Context, accountID uuid.UUID) ([]*AccountPeriod, error)

	// ListPeriodInstallmentsForUpdate returns a period's member
	// installments, locked, ordered by loan id ascending. The ordering is
	// part of the waterfall contract.
	ListPeriodInstallmentsForUpdate(ctx context.Context, periodID uuid.UUID) ([]*Installment, error)

	SaveInstallment(ctx context.Context, inst *Installment) error
	SavePeriod(ctx context.Context, period *AccountPeriod) error

	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListLoanInstallments(ctx context.Context, loanID uuid.UUID) ([]*Installment, error)
	SaveLoan(ctx context.Context, loan *Loan) error

	SavePaymentEvent(ctx context.Context, ev *PaymentEvent) error
	SaveLedgerTransaction(ctx context.Context, lt *LedgerTransaction) error

	// MarkProcessed flips is_processed true for the payment.
	MarkProcessed(ctx context.Context, paymentID uuid.UUID) error
}
