package repayment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilePaidOff(t *testing.T) {
	r := &LoanStatusReconciler{}
	loan := &Loan{ID: uuid.New(), Status: LoanCurrent}

	inst := testInstallment(50_000, 0, 0)
	inst.LoanID = loan.ID
	inst.PaidPrincipal = money(50_000)
	inst.Recompute()

	intents := r.Reconcile([]*Loan{loan}, map[uuid.UUID][]*Installment{loan.ID: {inst}}, inst.DueDate)

	require.Len(t, intents, 1)
	assert.Equal(t, loan.ID, intents[0].LoanID)
	assert.Equal(t, LoanPaidOff, intents[0].NewStatus)
}

func TestReconcileDelinquencyBucketFromWorstInstallment(t *testing.T) {
	r := &LoanStatusReconciler{}
	loan := &Loan{ID: uuid.New(), Status: LoanCurrent}

	recent := testInstallment(50_000, 0, 0)
	recent.LoanID = loan.ID
	old := testInstallment(50_000, 0, 0)
	old.LoanID = loan.ID
	old.DueDate = recent.DueDate.AddDate(0, 0, -45)

	asOf := recent.DueDate.AddDate(0, 0, 5)
	intents := r.Reconcile([]*Loan{loan}, map[uuid.UUID][]*Installment{loan.ID: {recent, old}}, asOf)

	require.Len(t, intents, 1)
	assert.Equal(t, LoanDPD30, intents[0].NewStatus, "50 days past due lands in the 31-60 bucket")
}

func TestReconcileNoIntentWhenUnchanged(t *testing.T) {
	r := &LoanStatusReconciler{}
	loan := &Loan{ID: uuid.New(), Status: LoanCurrent}

	inst := testInstallment(50_000, 0, 0)
	inst.LoanID = loan.ID

	intents := r.Reconcile([]*Loan{loan}, map[uuid.UUID][]*Installment{loan.ID: {inst}}, inst.DueDate.AddDate(0, 0, -1))

	assert.Empty(t, intents)
}

func TestReconcileDedupesDuplicateLoanEntries(t *testing.T) {
	r := &LoanStatusReconciler{}
	loan := &Loan{ID: uuid.New(), Status: LoanDPD1}

	inst := testInstallment(50_000, 0, 0)
	inst.LoanID = loan.ID
	inst.PaidPrincipal = money(50_000)
	inst.Recompute()

	// The same loan appearing twice must still yield a single intent.
	intents := r.Reconcile([]*Loan{loan, loan}, map[uuid.UUID][]*Installment{loan.ID: {inst}}, inst.DueDate)

	require.Len(t, intents, 1)
	assert.Equal(t, LoanPaidOff, intents[0].NewStatus)
}

func TestDelinquencyBucketBoundaries(t *testing.T) {
	cases := []struct {
		days int
		want LoanStatus
	}{
		{-1, LoanCurrent},
		{0, LoanCurrent},
		{1, LoanDPD1},
		{30, LoanDPD1},
		{31, LoanDPD30},
		{60, LoanDPD30},
		{61, LoanDPD60},
		{90, LoanDPD60},
		{91, LoanDPD90},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, delinquencyBucket(tc.days), "days=%d", tc.days)
	}
}

func TestDaysPastDueIgnoresTimeOfDay(t *testing.T) {
	due := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	settlement := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, daysPastDue(due, settlement))
	assert.Equal(t, 0, daysPastDue(due, due.Add(-time.Hour)))
}
