package repayment

import "github.com/shopspring/decimal"

// Account-level scheme flags.
const (
	SchemeNone       = ""
	SchemeLegacy     = "legacy_percentage"
	SchemeCounter    = "counter"
	counterThreshold = 3
)

// CashbackSchemeCalculator computes the cashback earned by an installment
// that was fully paid with zero lateness, plus the delta to apply to the
// account's on-time streak counter.
type CashbackSchemeCalculator interface {
	Calculate(inst *Installment, streak int) (decimal.Decimal, int)
}

// LegacyPercentageScheme pays a flat percentage of the installment principal
// on every on-time payoff. It does not use the streak counter.
type LegacyPercentageScheme struct {
	Rate decimal.Decimal
}

func (s LegacyPercentageScheme) Calculate(inst *Installment, _ int) (decimal.Decimal, int) {
	return inst.PrincipalDue.Mul(s.Rate).Round(2), 0
}

// CounterScheme increments an on-time streak and pays out only when the
// streak reaches the threshold, then resets it.
type CounterScheme struct {
	Rate      decimal.Decimal
	Threshold int
}

func (s CounterScheme) Calculate(inst *Installment, streak int) (decimal.Decimal, int) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = counterThreshold
	}
	if streak+1 >= threshold {
		// Payout resets the streak to zero.
		return inst.PrincipalDue.Mul(s.Rate).Round(2), -streak
	}
	return decimal.Zero, 1
}

// CashbackSchemeFor resolves the calculator for an account-level scheme
// flag. Unknown flags disable cashback.
func CashbackSchemeFor(flag string, rate decimal.Decimal) CashbackSchemeCalculator {
	switch flag {
	case SchemeLegacy:
		return LegacyPercentageScheme{Rate: rate}
	case SchemeCounter:
		return CounterScheme{Rate: rate, Threshold: counterThreshold}
	}
	return nil
}
