package repayment

import (
	"time"

	"github.com/shopspring/decimal"
)

// LateFeeVoidRule decides, before allocation, whether a period's outstanding
// late fees should be voided for this payment. The decision belongs to an
// external policy collaborator; this interface is its seam.
type LateFeeVoidRule interface {
	ShouldVoid(period *AccountPeriod, installments []*Installment, incoming decimal.Decimal, settlement time.Time) bool
}

// GraceLateFeeVoid voids late fees when the payment fully covers everything
// except the late fee and arrives within the grace window after the due
// date.
type GraceLateFeeVoid struct {
	GraceDays int
}

func (r GraceLateFeeVoid) ShouldVoid(period *AccountPeriod, installments []*Installment, incoming decimal.Decimal, settlement time.Time) bool {
	late := daysPastDue(period.DueDate, settlement)
	if late <= 0 || late > r.GraceDays {
		return false
	}

	nonFee := decimal.Zero
	fee := decimal.Zero
	for _, inst := range installments {
		nonFee = nonFee.Add(inst.Shortfall(ComponentPrincipal)).Add(inst.Shortfall(ComponentInterest))
		fee = fee.Add(inst.Shortfall(ComponentLateFee))
	}

	return fee.IsPositive() && incoming.GreaterThanOrEqual(nonFee) && incoming.LessThan(nonFee.Add(fee))
}
