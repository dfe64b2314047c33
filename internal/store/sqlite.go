package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

// SQLiteStore is the embedded store used for development and tests. SQLite
// serializes writers at the database level, so a busy timeout stands in for
// row locks; hitting it maps to the same LockTimeoutError as postgres.
type SQLiteStore struct {
	db *sql.DB
}

var _ repayment.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dataSourceName and
// initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't exist. Decimal fields are TEXT
// so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		customer_ref TEXT NOT NULL DEFAULT '',
		cashback_scheme TEXT NOT NULL DEFAULT '',
		cashback_streak INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		product_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS account_periods (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		due_date DATETIME NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		due_amount TEXT NOT NULL DEFAULT '0',
		paid_principal TEXT NOT NULL DEFAULT '0',
		paid_interest TEXT NOT NULL DEFAULT '0',
		paid_late_fee TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		classification TEXT NOT NULL DEFAULT '',
		ptp_date DATETIME,
		ptp_fulfilled INTEGER NOT NULL DEFAULT 0,
		ptp_tracked_at DATETIME,
		refinancing_active INTEGER NOT NULL DEFAULT 0,
		waiver_active INTEGER NOT NULL DEFAULT 0,
		paid_during_refinancing INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		account_period_id TEXT NOT NULL REFERENCES account_periods(id),
		due_date DATETIME NOT NULL,
		principal_due TEXT NOT NULL DEFAULT '0',
		interest_due TEXT NOT NULL DEFAULT '0',
		late_fee_due TEXT NOT NULL DEFAULT '0',
		paid_principal TEXT NOT NULL DEFAULT '0',
		paid_interest TEXT NOT NULL DEFAULT '0',
		paid_late_fee TEXT NOT NULL DEFAULT '0',
		paid_amount TEXT NOT NULL DEFAULT '0',
		due_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		paid_date DATETIME,
		cashback_earned TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		external_reference TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		settlement_date DATETIME NOT NULL,
		source_type TEXT NOT NULL,
		payment_channel TEXT NOT NULL DEFAULT '',
		is_processed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		source_reference TEXT NOT NULL UNIQUE,
		transaction_type TEXT NOT NULL,
		towards_principal TEXT NOT NULL DEFAULT '0',
		towards_interest TEXT NOT NULL DEFAULT '0',
		towards_late_fee TEXT NOT NULL DEFAULT '0',
		overpayment TEXT NOT NULL DEFAULT '0',
		settlement_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payment_events (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL REFERENCES installments(id),
		ledger_transaction_id TEXT NOT NULL REFERENCES ledger_transactions(id),
		amount TEXT NOT NULL,
		towards_principal TEXT NOT NULL DEFAULT '0',
		towards_interest TEXT NOT NULL DEFAULT '0',
		towards_late_fee TEXT NOT NULL DEFAULT '0',
		event_date DATETIME NOT NULL,
		source_type TEXT NOT NULL,
		can_reverse INTEGER NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithinTx runs fn inside one write transaction. SQLite write transactions
// are exclusive, which satisfies the account-scoped locking contract.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(repayment.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateSQLiteErr("transaction begin", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateSQLiteErr("transaction commit", err)
	}
	return nil
}

// CreatePayment registers a payment; a duplicate external reference returns
// the stored record unchanged.
func (s *SQLiteStore) CreatePayment(ctx context.Context, p *repayment.IncomingPayment) (*repayment.IncomingPayment, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, external_reference, account_id, amount, settlement_date, source_type, payment_channel, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(external_reference) DO NOTHING`,
		p.ID.String(), p.ExternalReference, p.AccountID.String(), p.Amount.String(),
		p.SettlementDate, string(p.SourceType), p.PaymentChannel, time.Now().UTC())
	if err != nil {
		return nil, translateSQLiteErr("payment insert", err)
	}

	return scanPayment(s.db.QueryRowContext(ctx, paymentQuery+` WHERE external_reference = ?`, p.ExternalReference))
}

// GetLedgerTransaction looks up a committed summary by source reference.
func (s *SQLiteStore) GetLedgerTransaction(ctx context.Context, sourceReference string) (*repayment.LedgerTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_reference, transaction_type, towards_principal, towards_interest, towards_late_fee, overpayment, settlement_date, created_at
		FROM ledger_transactions WHERE source_reference = ?`, sourceReference)
	return scanLedgerTransaction(row)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

const paymentQuery = `
	SELECT id, external_reference, account_id, amount, settlement_date, source_type, payment_channel, is_processed, created_at
	FROM payments`

func (t *sqliteTx) GetPaymentForUpdate(ctx context.Context, externalReference string) (*repayment.IncomingPayment, error) {
	// The write transaction already excludes concurrent writers; no
	// per-row lock exists in SQLite.
	return scanPayment(t.tx.QueryRowContext(ctx, paymentQuery+` WHERE external_reference = ?`, externalReference))
}

func (t *sqliteTx) GetAccount(ctx context.Context, id uuid.UUID) (*repayment.Account, error) {
	var a repayment.Account
	var rawID string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, customer_ref, cashback_scheme, cashback_streak FROM accounts WHERE id = ?`, id.String()).
		Scan(&rawID, &a.CustomerRef, &a.CashbackScheme, &a.CashbackStreak)
	if err != nil {
		return nil, translateSQLiteErr("account select", err)
	}
	a.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", rawID, err)
	}
	return &a, nil
}

func (t *sqliteTx) SaveAccount(ctx context.Context, a *repayment.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET customer_ref = ?, cashback_scheme = ?, cashback_streak = ? WHERE id = ?`,
		a.CustomerRef, a.CashbackScheme, a.CashbackStreak, a.ID.String())
	return translateSQLiteErr("account update", err)
}

const periodColumns = `id, account_id, due_date, paid_amount, due_amount, paid_principal, paid_interest, paid_late_fee,
	status, classification, ptp_date, ptp_fulfilled, ptp_tracked_at, refinancing_active, waiver_active, paid_during_refinancing, updated_at`

func (t *sqliteTx) ListOpenPeriodsForUpdate(ctx context.Context, accountID uuid.UUID) ([]*repayment.AccountPeriod, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+periodColumns+` FROM account_periods
		WHERE account_id = ? AND status != ?
		ORDER BY due_date ASC`, accountID.String(), string(repayment.AggregatePaidOff))
	if err != nil {
		return nil, translateSQLiteErr("period select", err)
	}
	defer rows.Close()

	var periods []*repayment.AccountPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (t *sqliteTx) ListPeriodInstallmentsForUpdate(ctx context.Context, periodID uuid.UUID) ([]*repayment.Installment, error) {
	return t.listInstallments(ctx, `WHERE account_period_id = ? ORDER BY loan_id ASC, due_date ASC`, periodID.String())
}

func (t *sqliteTx) ListLoanInstallments(ctx context.Context, loanID uuid.UUID) ([]*repayment.Installment, error) {
	return t.listInstallments(ctx, `WHERE loan_id = ? ORDER BY due_date ASC`, loanID.String())
}

const installmentColumns = `id, loan_id, account_period_id, due_date, principal_due, interest_due, late_fee_due,
	paid_principal, paid_interest, paid_late_fee, paid_amount, due_amount, status, paid_date, cashback_earned, updated_at`

func (t *sqliteTx) listInstallments(ctx context.Context, where string, arg any) ([]*repayment.Installment, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments `+where, arg)
	if err != nil {
		return nil, translateSQLiteErr("installment select", err)
	}
	defer rows.Close()

	var installments []*repayment.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func (t *sqliteTx) SaveInstallment(ctx context.Context, inst *repayment.Installment) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE installments SET
			principal_due = ?, interest_due = ?, late_fee_due = ?,
			paid_principal = ?, paid_interest = ?, paid_late_fee = ?,
			paid_amount = ?, due_amount = ?, status = ?, paid_date = ?, cashback_earned = ?, updated_at = ?
		WHERE id = ?`,
		inst.PrincipalDue.String(), inst.InterestDue.String(), inst.LateFeeDue.String(),
		inst.PaidPrincipal.String(), inst.PaidInterest.String(), inst.PaidLateFee.String(),
		inst.PaidAmount.String(), inst.DueAmount.String(), string(inst.Status),
		nullableTime(inst.PaidDate), inst.CashbackEarned.String(), inst.UpdatedAt, inst.ID.String())
	return translateSQLiteErr("installment update", err)
}

func (t *sqliteTx) SavePeriod(ctx context.Context, p *repayment.AccountPeriod) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE account_periods SET
			paid_amount = ?, due_amount = ?, paid_principal = ?, paid_interest = ?, paid_late_fee = ?,
			status = ?, classification = ?, ptp_fulfilled = ?, ptp_tracked_at = ?,
			paid_during_refinancing = ?, updated_at = ?
		WHERE id = ?`,
		p.PaidAmount.String(), p.DueAmount.String(), p.PaidPrincipal.String(), p.PaidInterest.String(), p.PaidLateFee.String(),
		string(p.Status), string(p.Classification), p.PTPFulfilled, nullableTime(p.PTPTrackedAt),
		p.PaidDuringRefinancing, p.UpdatedAt, p.ID.String())
	return translateSQLiteErr("period update", err)
}

func (t *sqliteTx) GetLoan(ctx context.Context, id uuid.UUID) (*repayment.Loan, error) {
	var loan repayment.Loan
	var rawID, rawAccount, status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, account_id, product_code, status, updated_at FROM loans WHERE id = ?`, id.String()).
		Scan(&rawID, &rawAccount, &loan.ProductCode, &status, &loan.UpdatedAt)
	if err != nil {
		return nil, translateSQLiteErr("loan select", err)
	}
	if loan.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", rawID, err)
	}
	if loan.AccountID, err = uuid.Parse(rawAccount); err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", rawAccount, err)
	}
	loan.Status = repayment.LoanStatus(status)
	return &loan, nil
}

func (t *sqliteTx) SaveLoan(ctx context.Context, loan *repayment.Loan) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`,
		string(loan.Status), loan.UpdatedAt, loan.ID.String())
	return translateSQLiteErr("loan update", err)
}

func (t *sqliteTx) SavePaymentEvent(ctx context.Context, ev *repayment.PaymentEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_events (id, installment_id, ledger_transaction_id, amount, towards_principal, towards_interest, towards_late_fee, event_date, source_type, can_reverse, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.InstallmentID.String(), ev.LedgerTransactionID.String(),
		ev.Amount.String(), ev.TowardsPrincipal.String(), ev.TowardsInterest.String(), ev.TowardsLateFee.String(),
		ev.EventDate, string(ev.SourceType), ev.CanReverse, ev.Note)
	return translateSQLiteErr("payment event insert", err)
}

func (t *sqliteTx) SaveLedgerTransaction(ctx context.Context, lt *repayment.LedgerTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, source_reference, transaction_type, towards_principal, towards_interest, towards_late_fee, overpayment, settlement_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lt.ID.String(), lt.SourceReference, string(lt.TransactionType),
		lt.TowardsPrincipal.String(), lt.TowardsInterest.String(), lt.TowardsLateFee.String(),
		lt.Overpayment.String(), lt.SettlementDate, lt.CreatedAt)
	return translateSQLiteErr("ledger transaction insert", err)
}

func (t *sqliteTx) MarkProcessed(ctx context.Context, paymentID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE payments SET is_processed = 1 WHERE id = ?`, paymentID.String())
	return translateSQLiteErr("payment update", err)
}

// rowScanner lets the scan helpers work for both Row and Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*repayment.IncomingPayment, error) {
	var p repayment.IncomingPayment
	var rawID, rawAccount, rawAmount, source string
	err := row.Scan(&rawID, &p.ExternalReference, &rawAccount, &rawAmount,
		&p.SettlementDate, &source, &p.PaymentChannel, &p.IsProcessed, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repayment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, translateSQLiteErr("payment scan", err)
	}
	if p.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid payment id %q: %w", rawID, err)
	}
	if p.AccountID, err = uuid.Parse(rawAccount); err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", rawAccount, err)
	}
	if p.Amount, err = decimal.NewFromString(rawAmount); err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", rawAmount, err)
	}
	p.SourceType = repayment.SourceType(source)
	return &p, nil
}

func scanPeriod(row rowScanner) (*repayment.AccountPeriod, error) {
	var p repayment.AccountPeriod
	var rawID, rawAccount string
	var paid, due, principal, interest, lateFee string
	var status, classification string
	var ptpDate, ptpTracked sql.NullTime
	err := row.Scan(&rawID, &rawAccount, &p.DueDate, &paid, &due, &principal, &interest, &lateFee,
		&status, &classification, &ptpDate, &p.PTPFulfilled, &ptpTracked,
		&p.RefinancingActive, &p.WaiverActive, &p.PaidDuringRefinancing, &p.UpdatedAt)
	if err != nil {
		return nil, translateSQLiteErr("period scan", err)
	}
	if p.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid period id %q: %w", rawID, err)
	}
	if p.AccountID, err = uuid.Parse(rawAccount); err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", rawAccount, err)
	}
	if err := parseDecimals([]decField{
		{paid, &p.PaidAmount}, {due, &p.DueAmount}, {principal, &p.PaidPrincipal},
		{interest, &p.PaidInterest}, {lateFee, &p.PaidLateFee},
	}); err != nil {
		return nil, err
	}
	p.Status = repayment.AggregateStatus(status)
	p.Classification = repayment.PaidClassification(classification)
	if ptpDate.Valid {
		v := ptpDate.Time
		p.PTPDate = &v
	}
	if ptpTracked.Valid {
		v := ptpTracked.Time
		p.PTPTrackedAt = &v
	}
	return &p, nil
}

func scanInstallment(row rowScanner) (*repayment.Installment, error) {
	var inst repayment.Installment
	var rawID, rawLoan, rawPeriod, status string
	var principalDue, interestDue, lateFeeDue, paidPrincipal, paidInterest, paidLateFee, paidAmount, dueAmount, cashback string
	var paidDate sql.NullTime
	err := row.Scan(&rawID, &rawLoan, &rawPeriod, &inst.DueDate,
		&principalDue, &interestDue, &lateFeeDue,
		&paidPrincipal, &paidInterest, &paidLateFee,
		&paidAmount, &dueAmount, &status, &paidDate, &cashback, &inst.UpdatedAt)
	if err != nil {
		return nil, translateSQLiteErr("installment scan", err)
	}
	if inst.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid installment id %q: %w", rawID, err)
	}
	if inst.LoanID, err = uuid.Parse(rawLoan); err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", rawLoan, err)
	}
	if inst.AccountPeriodID, err = uuid.Parse(rawPeriod); err != nil {
		return nil, fmt.Errorf("invalid period id %q: %w", rawPeriod, err)
	}
	if err := parseDecimals([]decField{
		{principalDue, &inst.PrincipalDue}, {interestDue, &inst.InterestDue}, {lateFeeDue, &inst.LateFeeDue},
		{paidPrincipal, &inst.PaidPrincipal}, {paidInterest, &inst.PaidInterest}, {paidLateFee, &inst.PaidLateFee},
		{paidAmount, &inst.PaidAmount}, {dueAmount, &inst.DueAmount}, {cashback, &inst.CashbackEarned},
	}); err != nil {
		return nil, err
	}
	inst.Status = repayment.InstallmentStatus(status)
	if paidDate.Valid {
		v := paidDate.Time
		inst.PaidDate = &v
	}
	return &inst, nil
}

func scanLedgerTransaction(row rowScanner) (*repayment.LedgerTransaction, error) {
	var lt repayment.LedgerTransaction
	var rawID, txType string
	var principal, interest, lateFee, overpayment string
	err := row.Scan(&rawID, &lt.SourceReference, &txType, &principal, &interest, &lateFee, &overpayment,
		&lt.SettlementDate, &lt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repayment.ErrTransactionNotFound
	}
	if err != nil {
		return nil, translateSQLiteErr("ledger transaction scan", err)
	}
	if lt.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", rawID, err)
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

type decField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields []decField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func translateSQLiteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "database table is locked") {
		return &repayment.LockTimeoutError{Resource: op, Err: err}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
