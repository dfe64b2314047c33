package repayment

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateUpdater rolls installment-level changes up to the account-period
// aggregate and performs its paid-off transition.
type AggregateUpdater struct {
	GracePeriodDays int
}

// Update recomputes the aggregate from its member installments (summing, not
// incrementing, so the rollup can never drift) and applies the paid-off
// transition when due_amount reaches zero. Returned commands are post-commit
// instructions for external collaborators.
func (u *AggregateUpdater) Update(period *AccountPeriod, members []*Installment, settlement time.Time) ([]Command, error) {
	paid := decimal.Zero
	due := decimal.Zero
	principal := decimal.Zero
	interest := decimal.Zero
	lateFee := decimal.Zero
	for _, inst := range members {
		paid = paid.Add(inst.PaidAmount)
		due = due.Add(inst.DueAmount)
		principal = principal.Add(inst.PaidPrincipal)
		interest = interest.Add(inst.PaidInterest)
		lateFee = lateFee.Add(inst.PaidLateFee)
	}

	if due.IsNegative() {
		return nil, &DataIntegrityError{InstallmentID: period.ID, Component: ComponentPrincipal, Shortfall: decimal.Zero, Allocated: due.Neg()}
	}

	period.PaidAmount = paid
	period.DueAmount = due
	period.PaidPrincipal = principal
	period.PaidInterest = interest
	period.PaidLateFee = lateFee
	period.UpdatedAt = settlement

	var commands []Command

	switch {
	case due.IsZero():
		if period.Status != AggregatePaidOff {
			period.Status = AggregatePaidOff
			period.Classification = classifyLateness(daysPastDue(period.DueDate, settlement), u.GracePeriodDays)

			// Fully settled periods leave active collections followup.
			commands = append(commands, Command{
				Kind:      CmdEvictCollections,
				AccountID: period.AccountID,
				PeriodID:  period.ID,
			})

			if period.RefinancingActive || period.WaiverActive {
				period.PaidDuringRefinancing = true
			}
		}
		if period.PTPDate != nil && !period.PTPFulfilled {
			period.PTPFulfilled = true
		}
	case paid.IsPositive():
		if period.Status == AggregateOpen {
			period.Status = AggregatePartiallyPaid
		}
		if period.PTPDate != nil && !period.PTPFulfilled {
			// Partial payment keeps the promise open but refreshes tracking.
			tracked := settlement
			period.PTPTrackedAt = &tracked
		}
	}

	return commands, nil
}
