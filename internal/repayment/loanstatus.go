package repayment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoanStatusReconciler recomputes loan lifecycle statuses after a repayment
// touched one or more of a loan's installments. It runs once at the end of
// the whole transaction so a loan paid across several periods settles on a
// single status change.
type LoanStatusReconciler struct{}

// Reconcile inspects every touched loan and produces at most one status
// intent per loan. A loan with no unpaid installments becomes PAID_OFF;
// otherwise its delinquency bucket is derived from the worst (oldest due)
// currently-unpaid installment. No intent is emitted when the computed
// status matches the stored one.
func (r *LoanStatusReconciler) Reconcile(loans []*Loan, installmentsByLoan map[uuid.UUID][]*Installment, asOf time.Time) []StatusIntent {
	intents := make(map[uuid.UUID]StatusIntent)

	for _, loan := range loans {
		computed, reason := computeLoanStatus(installmentsByLoan[loan.ID], asOf)
		if computed == loan.Status {
			continue
		}
		// A duplicate loan entry shares the same installment list, so the
		// recomputation is identical; the first intent stands.
		if _, ok := intents[loan.ID]; ok {
			continue
		}
		intents[loan.ID] = StatusIntent{LoanID: loan.ID, NewStatus: computed, Reason: reason}
	}

	out := make([]StatusIntent, 0, len(intents))
	for _, loan := range loans {
		if intent, ok := intents[loan.ID]; ok {
			out = append(out, intent)
			delete(intents, loan.ID)
		}
	}
	return out
}

func computeLoanStatus(installments []*Installment, asOf time.Time) (LoanStatus, string) {
	worst := -1 << 31
	unpaid := 0
	for _, inst := range installments {
		if inst.DueAmount.IsPositive() {
			unpaid++
			if late := daysPastDue(inst.DueDate, asOf); late > worst {
				worst = late
			}
		}
	}

	if unpaid == 0 {
		return LoanPaidOff, "all installments settled"
	}

	return delinquencyBucket(worst), fmt.Sprintf("%d unpaid installments, worst %d days past due", unpaid, worst)
}

func delinquencyBucket(daysLate int) LoanStatus {
	switch {
	case daysLate <= 0:
		return LoanCurrent
	case daysLate <= 30:
		return LoanDPD1
	case daysLate <= 60:
		return LoanDPD30
	case daysLate <= 90:
		return LoanDPD60
	default:
		return LoanDPD90
	}
}
