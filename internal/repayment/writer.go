package repayment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sajinavi2006/julomvp-sub039/pkg/audit"
)

// LedgerWriter applies waterfall allocations to individual installments and
// emits the ledger entry for each one touched.
type LedgerWriter struct {
	GracePeriodDays int
	Audit           *audit.ChainLogger
}

// NewLedgerWriter creates a writer with the given grace window.
func NewLedgerWriter(gracePeriodDays int, chain *audit.ChainLogger) *LedgerWriter {
	return &LedgerWriter{GracePeriodDays: gracePeriodDays, Audit: chain}
}

// WriteResult is the outcome of applying one allocation to one installment.
type WriteResult struct {
	Event          *PaymentEvent
	Cashback       decimal.Decimal
	StreakDelta    int
	FullyPaid      bool
	Classification PaidClassification
}

// Apply mutates the installment with the allocation and produces exactly one
// PaymentEvent carrying the net new amounts. A zero-total allocation is a
// no-op: nothing is mutated and no event is created, which keeps replays of
// the waterfall over settled installments idempotent.
//
// The cashback calculator may be nil when the account has no active scheme;
// streak is the account's current on-time counter.
func (w *LedgerWriter) Apply(inst *Installment, alloc Allocation, settlement time.Time, source SourceType, cashback CashbackSchemeCalculator, streak int) (*WriteResult, error) {
	total := alloc.Total()
	if !total.IsPositive() {
		return nil, nil
	}

	// Over-allocation is a data fault, never clamped silently.
	for _, check := range []struct {
		c      Component
		amount decimal.Decimal
	}{
		{ComponentPrincipal, alloc.Principal},
		{ComponentInterest, alloc.Interest},
		{ComponentLateFee, alloc.LateFee},
	} {
		if check.amount.IsNegative() {
			return nil, &DataIntegrityError{InstallmentID: inst.ID, Component: check.c, Shortfall: inst.Shortfall(check.c), Allocated: check.amount}
		}
		if check.amount.GreaterThan(inst.Shortfall(check.c)) {
			return nil, &DataIntegrityError{InstallmentID: inst.ID, Component: check.c, Shortfall: inst.Shortfall(check.c), Allocated: check.amount}
		}
	}

	inst.PaidPrincipal = inst.PaidPrincipal.Add(alloc.Principal)
	inst.PaidInterest = inst.PaidInterest.Add(alloc.Interest)
	inst.PaidLateFee = inst.PaidLateFee.Add(alloc.LateFee)
	inst.Recompute()
	inst.UpdatedAt = settlement

	res := &WriteResult{
		Event: &PaymentEvent{
			ID:               uuid.New(),
			InstallmentID:    inst.ID,
			Amount:           total,
			TowardsPrincipal: alloc.Principal,
			TowardsInterest:  alloc.Interest,
			TowardsLateFee:   alloc.LateFee,
			EventDate:        settlement,
			SourceType:       source,
			CanReverse:       source != SourceReversal,
		},
	}

	if inst.DueAmount.IsZero() {
		late := daysPastDue(inst.DueDate, settlement)
		res.FullyPaid = true
		res.Classification = classifyLateness(late, w.GracePeriodDays)
		inst.Status = installmentStatusFor(res.Classification)
		paid := settlement
		inst.PaidDate = &paid

		if late <= 0 && cashback != nil {
			amount, delta := cashback.Calculate(inst, streak)
			inst.CashbackEarned = inst.CashbackEarned.Add(amount)
			res.Cashback = amount
			res.StreakDelta = delta
		}
	} else {
		inst.Status = InstallmentPartiallyPaid
	}

	res.Event.Note = fmt.Sprintf("applied %s (principal %s, interest %s, late fee %s), due remaining %s",
		total.StringFixed(2), alloc.Principal.StringFixed(2), alloc.Interest.StringFixed(2),
		alloc.LateFee.StringFixed(2), inst.DueAmount.StringFixed(2))

	if w.Audit != nil {
		w.Audit.Append(inst.ID.String(), res.Event.Note)
	}

	return res, nil
}

func classifyLateness(daysLate, graceDays int) PaidClassification {
	switch {
	case daysLate <= 0:
		return PaidOnTime
	case daysLate <= graceDays:
		return PaidWithinGrace
	default:
		return PaidLate
	}
}

func installmentStatusFor(c PaidClassification) InstallmentStatus {
	switch c {
	case PaidOnTime:
		return InstallmentPaidOnTime
	case PaidWithinGrace:
		return InstallmentPaidWithinGrace
	default:
		return InstallmentPaidLate
	}
}
