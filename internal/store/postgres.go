package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

const (
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"

	maxTxRetries = 3
)

// PostgresStore is the production store. Exclusive row locks are taken with
// FOR UPDATE NOWAIT; a lock miss surfaces as LockTimeoutError so the whole
// repayment transaction can be retried.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

var _ repayment.Store = (*PostgresStore)(nil)

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, pgSchema)
	if err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	customer_ref TEXT NOT NULL DEFAULT '',
	cashback_scheme TEXT NOT NULL DEFAULT '',
	cashback_streak INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS loans (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	product_code TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS account_periods (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	due_date TIMESTAMPTZ NOT NULL,
	paid_amount NUMERIC(16,2) NOT NULL DEFAULT 0,
	due_amount NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_principal NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_interest NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_late_fee NUMERIC(16,2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	classification TEXT NOT NULL DEFAULT '',
	ptp_date TIMESTAMPTZ,
	ptp_fulfilled BOOLEAN NOT NULL DEFAULT FALSE,
	ptp_tracked_at TIMESTAMPTZ,
	refinancing_active BOOLEAN NOT NULL DEFAULT FALSE,
	waiver_active BOOLEAN NOT NULL DEFAULT FALSE,
	paid_during_refinancing BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS installments (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	account_period_id UUID NOT NULL REFERENCES account_periods(id),
	due_date TIMESTAMPTZ NOT NULL,
	principal_due NUMERIC(16,2) NOT NULL DEFAULT 0,
	interest_due NUMERIC(16,2) NOT NULL DEFAULT 0,
	late_fee_due NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_principal NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_interest NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_late_fee NUMERIC(16,2) NOT NULL DEFAULT 0,
	paid_amount NUMERIC(16,2) NOT NULL DEFAULT 0,
	due_amount NUMERIC(16,2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	paid_date TIMESTAMPTZ,
	cashback_earned NUMERIC(16,2) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	external_reference TEXT NOT NULL UNIQUE,
	account_id UUID NOT NULL REFERENCES accounts(id),
	amount NUMERIC(16,2) NOT NULL,
	settlement_date TIMESTAMPTZ NOT NULL,
	source_type TEXT NOT NULL,
	payment_channel TEXT NOT NULL DEFAULT '',
	is_processed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id UUID PRIMARY KEY,
	source_reference TEXT NOT NULL UNIQUE,
	transaction_type TEXT NOT NULL,
	towards_principal NUMERIC(16,2) NOT NULL DEFAULT 0,
	towards_interest NUMERIC(16,2) NOT NULL DEFAULT 0,
	towards_late_fee NUMERIC(16,2) NOT NULL DEFAULT 0,
	overpayment NUMERIC(16,2) NOT NULL DEFAULT 0,
	settlement_date TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS payment_events (
	id UUID PRIMARY KEY,
	installment_id UUID NOT NULL REFERENCES installments(id),
	ledger_transaction_id UUID NOT NULL REFERENCES ledger_transactions(id),
	amount NUMERIC(16,2) NOT NULL,
	towards_principal NUMERIC(16,2) NOT NULL DEFAULT 0,
	towards_interest NUMERIC(16,2) NOT NULL DEFAULT 0,
	towards_late_fee NUMERIC(16,2) NOT NULL DEFAULT 0,
	event_date TIMESTAMPTZ NOT NULL,
	source_type TEXT NOT NULL,
	can_reverse BOOLEAN NOT NULL DEFAULT TRUE,
	note TEXT NOT NULL DEFAULT ''
);
`

// WithinTx runs fn in one database transaction, retrying the whole unit on
// serialization failures the way every writer in this codebase does.
// LockTimeoutError is not retried here: the caller decides.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(repayment.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("transaction failed after %d retries due to serialization failure: %w", maxTxRetries, lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(repayment.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreatePayment registers a payment; a duplicate external reference returns
// the stored record unchanged.
func (s *PostgresStore) CreatePayment(ctx context.Context, p *repayment.IncomingPayment) (*repayment.IncomingPayment, error) {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payments (id, external_reference, account_id, amount, settlement_date, source_type, payment_channel, is_processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (external_reference) DO NOTHING`,
		p.ID, p.ExternalReference, p.AccountID, p.Amount.String(),
		p.SettlementDate, string(p.SourceType), p.PaymentChannel, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	row := s.Pool.QueryRow(ctx, pgPaymentQuery+` WHERE external_reference = $1`, p.ExternalReference)
	return scanPgPayment(row)
}

// GetLedgerTransaction looks up a committed summary by source reference.
func (s *PostgresStore) GetLedgerTransaction(ctx context.Context, sourceReference string) (*repayment.LedgerTransaction, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, source_reference, transaction_type, towards_principal::text, towards_interest::text,
			towards_late_fee::text, overpayment::text, settlement_date, created_at
		FROM ledger_transactions WHERE source_reference = $1`, sourceReference)

	var lt repayment.LedgerTransaction
	var txType string
	var principal, interest, lateFee, overpayment string
	err := row.Scan(&lt.ID, &lt.SourceReference, &txType, &principal, &interest, &lateFee, &overpayment,
		&lt.SettlementDate, &lt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repayment.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger transaction: %w", err)
	}
	if err := parseDecimals([]decField{
		{principal, &lt.TowardsPrincipal}, {interest, &lt.TowardsInterest},
		{lateFee, &lt.TowardsLateFee}, {overpayment, &lt.Overpayment},
	}); err != nil {
		return nil, err
	}
	lt.TransactionType = repayment.SourceType(txType)
	return &lt, nil
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const pgPaymentQuery = `
	SELECT id, external_reference, account_id, amount::text, settlement_date, source_type, payment_channel, is_processed, created_at
	FROM payments`

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, externalReference string) (*repayment.IncomingPayment, error) {
	row := t.tx.QueryRow(ctx, pgPaymentQuery+` WHERE external_reference = $1 FOR UPDATE NOWAIT`, externalReference)
	p, err := scanPgPayment(row)
	if err != nil {
		return nil, translatePgLock("payment "+externalReference, err)
	}
	return p, nil
}

func (t *pgTx) GetAccount(ctx context.Context, id uuid.UUID) (*repayment.Account, error) {
	var a repayment.Account
	err := t.tx.QueryRow(ctx, `
		SELECT id, customer_ref, cashback_scheme, cashback_streak FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.CustomerRef, &a.CashbackScheme, &a.CashbackStreak)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	return &a, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *repayment.Account) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET customer_ref = $1, cashback_scheme = $2, cashback_streak = $3 WHERE id = $4`,
		a.CustomerRef, a.CashbackScheme, a.CashbackStreak, a.ID)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

const pgPeriodColumns = `id, account_id, due_date, paid_amount::text, due_amount::text, paid_principal::text,
	paid_interest::text, paid_late_fee::text, status, classification, ptp_date, ptp_fulfilled, ptp_tracked_at,
	refinancing_active, waiver_active, paid_during_refinancing, updated_at`

func (t *pgTx) ListOpenPeriodsForUpdate(ctx context.Context, accountID uuid.UUID) ([]*repayment.AccountPeriod, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pgPeriodColumns+` FROM account_periods
		WHERE account_id = $1 AND status != $2
		ORDER BY due_date ASC
		FOR UPDATE NOWAIT`, accountID, string(repayment.AggregatePaidOff))
	if err != nil {
		return nil, translatePgLock("account periods of "+accountID.String(), err)
	}
	defer rows.Close()

	var periods []*repayment.AccountPeriod
	for rows.Next() {
		p, err := scanPgPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgLock("account periods of "+accountID.String(), err)
	}
	return periods, nil
}

const pgInstallmentColumns = `id, loan_id, account_period_id, due_date, principal_due::text, interest_due::text,
	late_fee_due::text, paid_principal::text, paid_interest::text, paid_late_fee::text, paid_amount::text,
	due_amount::text, status, paid_date, cashback_earned::text, updated_at`

func (t *pgTx) ListPeriodInstallmentsForUpdate(ctx context.Context, periodID uuid.UUID) ([]*repayment.Installment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pgInstallmentColumns+` FROM installments
		WHERE account_period_id = $1
		ORDER BY loan_id ASC, due_date ASC
		FOR UPDATE NOWAIT`, periodID)
	if err != nil {
		return nil, translatePgLock("installments of period "+periodID.String(), err)
	}
	return collectInstallments(rows, "period "+periodID.String())
}

func (t *pgTx) ListLoanInstallments(ctx context.Context, loanID uuid.UUID) ([]*repayment.Installment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pgInstallmentColumns+` FROM installments
		WHERE loan_id = $1
		ORDER BY due_date ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments of loan %s: %w", loanID, err)
	}
	return collectInstallments(rows, "loan "+loanID.String())
}

func collectInstallments(rows pgx.Rows, scope string) ([]*repayment.Installment, error) {
	defer rows.Close()

	var installments []*repayment.Installment
	for rows.Next() {
		inst, err := scanPgInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgLock("installments of "+scope, err)
	}
	return installments, nil
}

func (t *pgTx) SaveInstallment(ctx context.Context, inst *repayment.Installment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE installments SET
			principal_due = $1, interest_due = $2, late_fee_due = $3,
			paid_principal = $4, paid_interest = $5, paid_late_fee = $6,
			paid_amount = $7, due_amount = $8, status = $9, paid_date = $10, cashback_earned = $11, updated_at = $12
		WHERE id = $13`,
		inst.PrincipalDue.String(), inst.InterestDue.String(), inst.LateFeeDue.String(),
		inst.PaidPrincipal.String(), inst.PaidInterest.String(), inst.PaidLateFee.String(),
		inst.PaidAmount.String(), inst.DueAmount.String(), string(inst.Status),
		inst.PaidDate, inst.CashbackEarned.String(), inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("failed to save installment %s: %w", inst.ID, err)
	}
	return nil
}

func (t *pgTx) SavePeriod(ctx context.Context, p *repayment.AccountPeriod) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE account_periods SET
			paid_amount = $1, due_amount = $2, paid_principal = $3, paid_interest = $4, paid_late_fee = $5,
			status = $6, classification = $7, ptp_fulfilled = $8, ptp_tracked_at = $9,
			paid_during_refinancing = $10, updated_at = $11
		WHERE id = $12`,
		p.PaidAmount.String(), p.DueAmount.String(), p.PaidPrincipal.String(), p.PaidInterest.String(), p.PaidLateFee.String(),
		string(p.Status), string(p.Classification), p.PTPFulfilled, p.PTPTrackedAt,
		p.PaidDuringRefinancing, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to save period %s: %w", p.ID, err)
	}
	return nil
}

func (t *pgTx) GetLoan(ctx context.Context, id uuid.UUID) (*repayment.Loan, error) {
	var loan repayment.Loan
	var status string
	err := t.tx.QueryRow(ctx, `
		SELECT id, account_id, product_code, status, updated_at FROM loans WHERE id = $1`, id).
		Scan(&loan.ID, &loan.AccountID, &loan.ProductCode, &status, &loan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan %s: %w", id, err)
	}
	loan.Status = repayment.LoanStatus(status)
	return &loan, nil
}

func (t *pgTx) SaveLoan(ctx context.Context, loan *repayment.Loan) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE loans SET status = $1, updated_at = $2 WHERE id = $3`,
		string(loan.Status), loan.UpdatedAt, loan.ID)
	if err != nil {
		return fmt.Errorf("failed to save loan %s: %w", loan.ID, err)
	}
	return nil
}

func (t *pgTx) SavePaymentEvent(ctx context.Context, ev *repayment.PaymentEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_events (id, installment_id, ledger_transaction_id, amount, towards_principal, towards_interest, towards_late_fee, event_date, source_type, can_reverse, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, ev.InstallmentID, ev.LedgerTransactionID,
		ev.Amount.String(), ev.TowardsPrincipal.String(), ev.TowardsInterest.String(), ev.TowardsLateFee.String(),
		ev.EventDate, string(ev.SourceType), ev.CanReverse, ev.Note)
	if err != nil {
		return fmt.Errorf("failed to save payment event %s: %w", ev.ID, err)
	}
	return nil
}

func (t *pgTx) SaveLedgerTransaction(ctx context.Context, lt *repayment.LedgerTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_transactions (id, source_reference, transaction_type, towards_principal, towards_interest, towards_late_fee, overpayment, settlement_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lt.ID, lt.SourceReference, string(lt.TransactionType),
		lt.TowardsPrincipal.String(), lt.TowardsInterest.String(), lt.TowardsLateFee.String(),
		lt.Overpayment.String(), lt.SettlementDate, lt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save ledger transaction %s: %w", lt.ID, err)
	}
	return nil
}

func (t *pgTx) MarkProcessed(ctx context.Context, paymentID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE payments SET is_processed = TRUE WHERE id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("failed to mark payment %s processed: %w", paymentID, err)
	}
	return nil
}

func scanPgPayment(row pgx.Row) (*repayment.IncomingPayment, error) {
	var p repayment.IncomingPayment
	var rawAmount, source string
	err := row.Scan(&p.ID, &p.ExternalReference, &p.AccountID, &rawAmount,
		&p.SettlementDate, &source, &p.PaymentChannel, &p.IsProcessed, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repayment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(rawAmount); err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", rawAmount, err)
	}
	p.SourceType = repayment.SourceType(source)
	return &p, nil
}

func scanPgPeriod(row pgx.Row) (*repayment.AccountPeriod, error) {
	var p repayment.AccountPeriod
	var paid, due, principal, interest, lateFee string
	var status, classification string
	err := row.Scan(&p.ID, &p.AccountID, &p.DueDate, &paid, &due, &principal, &interest, &lateFee,
		&status, &classification, &p.PTPDate, &p.PTPFulfilled, &p.PTPTrackedAt,
		&p.RefinancingActive, &p.WaiverActive, &p.PaidDuringRefinancing, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan period: %w", err)
	}
	if err := parseDecimals([]decField{
		{paid, &p.PaidAmount}, {due, &p.DueAmount}, {principal, &p.PaidPrincipal},
		{interest, &p.PaidInterest}, {lateFee, &p.PaidLateFee},
	}); err != nil {
		return nil, err
	}
	p.Status = repayment.AggregateStatus(status)
	p.Classification = repayment.PaidClassification(classification)
	return &p, nil
}

func scanPgInstallment(row pgx.Row) (*repayment.Installment, error) {
	var inst repayment.Installment
	var status string
	var principalDue, interestDue, lateFeeDue, paidPrincipal, paidInterest, paidLateFee, paidAmount, dueAmount, cashback string
	err := row.Scan(&inst.ID, &inst.LoanID, &inst.AccountPeriodID, &inst.DueDate,
		&principalDue, &interestDue, &lateFeeDue,
		&paidPrincipal, &paidInterest, &paidLateFee,
		&paidAmount, &dueAmount, &status, &inst.PaidDate, &cashback, &inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan installment: %w", err)
	}
	if err := parseDecimals([]decField{
		{principalDue, &inst.PrincipalDue}, {interestDue, &inst.InterestDue}, {lateFeeDue, &inst.LateFeeDue},
		{paidPrincipal, &inst.PaidPrincipal}, {paidInterest, &inst.PaidInterest}, {paidLateFee, &inst.PaidLateFee},
		{paidAmount, &inst.PaidAmount}, {dueAmount, &inst.DueAmount}, {cashback, &inst.CashbackEarned},
	}); err != nil {
		return nil, err
	}
	inst.Status = repayment.InstallmentStatus(status)
	return &inst, nil
}

// translatePgLock maps a failed FOR UPDATE NOWAIT to LockTimeoutError.
func translatePgLock(resource string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return &repayment.LockTimeoutError{Resource: resource, Err: err}
	}
	return err
}
