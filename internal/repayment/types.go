package repayment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Component identifies one slice of an installment obligation. The waterfall
// always settles components in declaration order.
type Component int

const (
	ComponentPrincipal Component = iota
	ComponentInterest
	ComponentLateFee
)

func (c Component) String() string {
	switch c {
	case ComponentPrincipal:
		return "principal"
	case ComponentInterest:
		return "interest"
	case ComponentLateFee:
		return "late_fee"
	}
	return "unknown"
}

// SourceType classifies where an incoming payment came from.
type SourceType string

const (
	SourceCash     SourceType = "cash"
	SourceWallet   SourceType = "wallet"
	SourceReversal SourceType = "reversal"
)

// InstallmentStatus is the payment lifecycle of a single installment.
type InstallmentStatus string

const (
	InstallmentUnpaid          InstallmentStatus = "UNPAID"
	InstallmentPartiallyPaid   InstallmentStatus = "PARTIALLY_PAID"
	InstallmentPaidOnTime      InstallmentStatus = "PAID_ON_TIME"
	InstallmentPaidWithinGrace InstallmentStatus = "PAID_WITHIN_GRACE"
	InstallmentPaidLate        InstallmentStatus = "PAID_LATE"
)

// Paid reports whether the installment has reached a terminal paid status.
func (s InstallmentStatus) Paid() bool {
	switch s {
	case InstallmentPaidOnTime, InstallmentPaidWithinGrace, InstallmentPaidLate:
		return true
	}
	return false
}

// AggregateStatus is the lifecycle of an account-period aggregate.
// OPEN -> PARTIALLY_PAID -> PAID_OFF is the only forward path; reversal is
// handled by a separate collaborator and never by this engine.
type AggregateStatus string

const (
	AggregateOpen          AggregateStatus = "OPEN"
	AggregatePartiallyPaid AggregateStatus = "PARTIALLY_PAID"
	AggregatePaidOff       AggregateStatus = "PAID_OFF"
)

// PaidClassification records how timely a full payoff was.
type PaidClassification string

const (
	PaidOnTime      PaidClassification = "ON_TIME"
	PaidWithinGrace PaidClassification = "WITHIN_GRACE"
	PaidLate        PaidClassification = "LATE"
)

// LoanStatus is the delinquency / lifecycle lattice of a loan.
type LoanStatus string

const (
	LoanCurrent  LoanStatus = "CURRENT"
	LoanDPD1     LoanStatus = "DPD_1_30"
	LoanDPD30    LoanStatus = "DPD_31_60"
	LoanDPD60    LoanStatus = "DPD_61_90"
	LoanDPD90    LoanStatus = "DPD_90_PLUS"
	LoanPaidOff  LoanStatus = "PAID_OFF"
	LoanWriteOff LoanStatus = "WRITTEN_OFF"
)

// Account is the borrower account owning loans and account-periods.
type Account struct {
	ID             uuid.UUID
	CustomerRef    string
	CashbackScheme string
	CashbackStreak int
}

// Loan is one disbursed credit contract under an account.
type Loan struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	ProductCode string
	Status      LoanStatus
	UpdatedAt   time.Time
}

// Installment is one scheduled repayment unit of a loan, split into
// principal / interest / late-fee components.
type Installment struct {
	ID              uuid.UUID
	LoanID          uuid.UUID
	AccountPeriodID uuid.UUID
	DueDate         time.Time

	PrincipalDue decimal.Decimal
	InterestDue  decimal.Decimal
	LateFeeDue   decimal.Decimal

	PaidPrincipal decimal.Decimal
	PaidInterest  decimal.Decimal
	PaidLateFee   decimal.Decimal

	PaidAmount decimal.Decimal
	DueAmount  decimal.Decimal

	Status         InstallmentStatus
	PaidDate       *time.Time
	CashbackEarned decimal.Decimal
	UpdatedAt      time.Time
}

// Shortfall returns the unpaid remainder of one component. The result is
// never negative for a consistent installment.
func (i *Installment) Shortfall(c Component) decimal.Decimal {
	switch c {
	case ComponentPrincipal:
		return i.PrincipalDue.Sub(i.PaidPrincipal)
	case ComponentInterest:
		return i.InterestDue.Sub(i.PaidInterest)
	case ComponentLateFee:
		return i.LateFeeDue.Sub(i.PaidLateFee)
	}
	return decimal.Zero
}

// Recompute refreshes the derived paid_amount and due_amount fields from the
// component columns. due_amount = total due - paid_amount.
func (i *Installment) Recompute() {
	i.PaidAmount = i.PaidPrincipal.Add(i.PaidInterest).Add(i.PaidLateFee)
	total := i.PrincipalDue.Add(i.InterestDue).Add(i.LateFeeDue)
	i.DueAmount = total.Sub(i.PaidAmount)
}

// AccountPeriod is the customer-facing rollup of all installments due in one
// billing period for an account.
type AccountPeriod struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	DueDate   time.Time

	PaidAmount    decimal.Decimal
	DueAmount     decimal.Decimal
	PaidPrincipal decimal.Decimal
	PaidInterest  decimal.Decimal
	PaidLateFee   decimal.Decimal

	Status         AggregateStatus
	Classification PaidClassification

	// Promise-to-pay tracking. PTPDate set means an open promise exists.
	PTPDate      *time.Time
	PTPFulfilled bool
	PTPTrackedAt *time.Time

	RefinancingActive     bool
	WaiverActive          bool
	PaidDuringRefinancing bool

	UpdatedAt time.Time
}

// IncomingPayment is one repayment transaction submitted for processing.
// IsProcessed flips false -> true exactly once.
type IncomingPayment struct {
	ID                uuid.UUID
	ExternalReference string
	AccountID         uuid.UUID
	Amount            decimal.Decimal
	SettlementDate    time.Time
	SourceType        SourceType
	PaymentChannel    string
	IsProcessed       bool
	CreatedAt         time.Time
}

// PaymentEvent is the immutable ledger entry recording money applied to one
// installment. Created exactly once per non-zero allocation, never mutated.
type PaymentEvent struct {
	ID                  uuid.UUID
	InstallmentID       uuid.UUID
	LedgerTransactionID uuid.UUID
	Amount              decimal.Decimal
	TowardsPrincipal    decimal.Decimal
	TowardsInterest     decimal.Decimal
	TowardsLateFee      decimal.Decimal
	EventDate           time.Time
	SourceType          SourceType
	CanReverse          bool
	Note                string
}

// LedgerTransaction summarizes one processed incoming payment: component
// totals plus any overpayment remainder routed off-ledger.
type LedgerTransaction struct {
	ID               uuid.UUID
	SourceReference  string
	TransactionType  SourceType
	TowardsPrincipal decimal.Decimal
	TowardsInterest  decimal.Decimal
	TowardsLateFee   decimal.Decimal
	Overpayment      decimal.Decimal
	SettlementDate   time.Time
	CreatedAt        time.Time
}

// StatusIntent is a loan status change produced by the reconciler.
type StatusIntent struct {
	LoanID    uuid.UUID
	NewStatus LoanStatus
	Reason    string
}

// WaiverLine carries the pre-approved override amounts for one installment.
// Approved* pointers are nil when no approval record exists, in which case
// the requested amounts apply.
type WaiverLine struct {
	RequestedPrincipal decimal.Decimal
	RequestedInterest  decimal.Decimal
	RequestedLateFee   decimal.Decimal

	ApprovedPrincipal *decimal.Decimal
	ApprovedInterest  *decimal.Decimal
	ApprovedLateFee   *decimal.Decimal
}

// Amount resolves the effective override for one component: the approved
// amount when an approval record exists, the requested amount otherwise.
func (l WaiverLine) Amount(c Component) decimal.Decimal {
	switch c {
	case ComponentPrincipal:
		if l.ApprovedPrincipal != nil {
			return *l.ApprovedPrincipal
		}
		return l.RequestedPrincipal
	case ComponentInterest:
		if l.ApprovedInterest != nil {
			return *l.ApprovedInterest
		}
		return l.RequestedInterest
	case ComponentLateFee:
		if l.ApprovedLateFee != nil {
			return *l.ApprovedLateFee
		}
		return l.RequestedLateFee
	}
	return decimal.Zero
}

// WaiverRequest overrides the proportional waterfall with explicit
// per-installment amounts, capped by a shared budget.
type WaiverRequest struct {
	Lines  map[uuid.UUID]WaiverLine
	Budget decimal.Decimal
}

// daysPastDue counts whole calendar days between the due date and the
// settlement date, negative when settled early.
func daysPastDue(due, settlement time.Time) int {
	d := atMidnightUTC(settlement).Sub(atMidnightUTC(due))
	return int(d.Hours() / 24)
}

func atMidnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
