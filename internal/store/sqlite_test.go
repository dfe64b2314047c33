package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "repay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type seed struct {
	account uuid.UUID
	loan    uuid.UUID
	period  uuid.UUID
	inst    uuid.UUID
	dueDate time.Time
}

// seedSchedule inserts one account with one loan, one open period and one
// installment of 100k principal / 20k interest / 5k late fee.
func seedSchedule(t *testing.T, s *SQLiteStore) seed {
	t.Helper()
	sd := seed{
		account: uuid.New(),
		loan:    uuid.New(),
		period:  uuid.New(),
		inst:    uuid.New(),
		dueDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := s.db.Exec(`INSERT INTO accounts (id, customer_ref) VALUES (?, ?)`, sd.account.String(), "cust-1")
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO loans (id, account_id, status, updated_at) VALUES (?, ?, ?, ?)`,
		sd.loan.String(), sd.account.String(), string(repayment.LoanCurrent), sd.dueDate)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO account_periods (id, account_id, due_date, due_amount, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sd.period.String(), sd.account.String(), sd.dueDate, "125000", string(repayment.AggregateOpen), sd.dueDate)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO installments (id, loan_id, account_period_id, due_date, principal_due, interest_due, late_fee_due, due_amount, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sd.inst.String(), sd.loan.String(), sd.period.String(), sd.dueDate,
		"100000", "20000", "5000", "125000", string(repayment.InstallmentUnpaid), sd.dueDate)
	require.NoError(t, err)
	return sd
}

func seedPayment(t *testing.T, s *SQLiteStore, accountID uuid.UUID, ref string, amount string, settlement time.Time) {
	t.Helper()
	_, err := s.db.Exec(`
		INSERT INTO payments (id, external_reference, account_id, amount, settlement_date, source_type, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		uuid.New().String(), ref, accountID.String(), amount, settlement, string(repayment.SourceCash), settlement)
	require.NoError(t, err)
}

func TestSQLiteEndToEndRepayment(t *testing.T) {
	s := newTestStore(t)
	sd := seedSchedule(t, s)
	seedPayment(t, s, sd.account, "ref-1", "150000", sd.dueDate)

	o := repayment.NewOrchestrator(s, repayment.Config{GracePeriodDays: 3})
	res, err := o.Process(context.Background(), "ref-1", nil)
	require.NoError(t, err)

	assert.True(t, res.Transaction.TowardsPrincipal.Equal(decimal.NewFromInt(100000)))
	assert.True(t, res.Transaction.TowardsInterest.Equal(decimal.NewFromInt(20000)))
	assert.True(t, res.Transaction.TowardsLateFee.Equal(decimal.NewFromInt(5000)))
	assert.True(t, res.Transaction.Overpayment.Equal(decimal.NewFromInt(25000)))

	// The summary and its linkage persist.
	lt, err := s.GetLedgerTransaction(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, lt.ID)

	var eventCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM payment_events WHERE ledger_transaction_id = ?`, lt.ID.String()).Scan(&eventCount))
	assert.Equal(t, 1, eventCount)

	// Installment, period and loan all reached their terminal states.
	var instStatus, periodStatus, loanStatus, dueAmount string
	require.NoError(t, s.db.QueryRow(`SELECT status, due_amount FROM installments WHERE id = ?`, sd.inst.String()).Scan(&instStatus, &dueAmount))
	assert.Equal(t, string(repayment.InstallmentPaidOnTime), instStatus)
	assert.Equal(t, "0", dueAmount)
	require.NoError(t, s.db.QueryRow(`SELECT status FROM account_periods WHERE id = ?`, sd.period.String()).Scan(&periodStatus))
	assert.Equal(t, string(repayment.AggregatePaidOff), periodStatus)
	require.NoError(t, s.db.QueryRow(`SELECT status FROM loans WHERE id = ?`, sd.loan.String()).Scan(&loanStatus))
	assert.Equal(t, string(repayment.LoanPaidOff), loanStatus)

	var processed bool
	require.NoError(t, s.db.QueryRow(`SELECT is_processed FROM payments WHERE external_reference = ?`, "ref-1").Scan(&processed))
	assert.True(t, processed)
}

func TestSQLiteReplayIsRejected(t *testing.T) {
	s := newTestStore(t)
	sd := seedSchedule(t, s)
	seedPayment(t, s, sd.account, "ref-2", "50000", sd.dueDate)

	o := repayment.NewOrchestrator(s, repayment.Config{GracePeriodDays: 3})
	_, err := o.Process(context.Background(), "ref-2", nil)
	require.NoError(t, err)

	_, err = o.Process(context.Background(), "ref-2", nil)
	var already *repayment.AlreadyProcessedError
	require.ErrorAs(t, err, &already)

	var eventCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM payment_events`).Scan(&eventCount))
	assert.Equal(t, 1, eventCount, "replay creates no additional ledger entries")
}

func TestSQLiteAbortLeavesNoPartialState(t *testing.T) {
	s := newTestStore(t)
	sd := seedSchedule(t, s)
	seedPayment(t, s, sd.account, "ref-3", "50000", sd.dueDate)

	// Corrupt the installment so the aggregate recompute trips the
	// integrity check after some writes already happened.
	_, err := s.db.Exec(`UPDATE installments SET paid_principal = '130000', due_amount = '-5000' WHERE id = ?`, sd.inst.String())
	require.NoError(t, err)

	o := repayment.NewOrchestrator(s, repayment.Config{GracePeriodDays: 3})
	_, err = o.Process(context.Background(), "ref-3", nil)
	require.Error(t, err)

	var eventCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM payment_events`).Scan(&eventCount))
	assert.Zero(t, eventCount)

	var processed bool
	require.NoError(t, s.db.QueryRow(`SELECT is_processed FROM payments WHERE external_reference = ?`, "ref-3").Scan(&processed))
	assert.False(t, processed, "aborted transactions stay retryable")
}

func TestSQLiteCreatePaymentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sd := seedSchedule(t, s)

	p := &repayment.IncomingPayment{
		ID:                uuid.New(),
		ExternalReference: "ref-4",
		AccountID:         sd.account,
		Amount:            decimal.NewFromInt(10000),
		SettlementDate:    sd.dueDate,
		SourceType:        repayment.SourceWallet,
	}

	first, err := s.CreatePayment(context.Background(), p)
	require.NoError(t, err)

	dup := *p
	dup.ID = uuid.New()
	second, err := s.CreatePayment(context.Background(), &dup)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "duplicate reference returns the original row")

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM payments WHERE external_reference = ?`, "ref-4").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteGetLedgerTransactionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLedgerTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, repayment.ErrTransactionNotFound)
}
