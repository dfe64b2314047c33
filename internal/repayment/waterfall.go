package repayment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationLine is the amount the waterfall assigned to one installment for
// one component.
type AllocationLine struct {
	InstallmentID uuid.UUID
	Amount        decimal.Decimal
}

// AllocationResult is the outcome of one Allocate pass. Remaining and
// WaiverBudget are the updated running totals; callers thread them into the
// next pass rather than mutating shared accumulators.
type AllocationResult struct {
	Lines          []AllocationLine
	Remaining      decimal.Decimal
	WaiverBudget   decimal.Decimal
	TotalAllocated decimal.Decimal

	// Halted carries ErrInsufficientWaiverLine when a waiver request lacked
	// a line for an installment the pass reached. Informational only.
	Halted error
}

// Allocate distributes a pool across the installments' shortfall for exactly
// one component, in the caller-supplied order. The order is part of the
// contract: callers pass installments sorted by loan id ascending.
//
// Without a waiver, each installment takes min(pool, shortfall). With a
// waiver, the per-installment override amount applies instead, capped by the
// shortfall, the waiver budget and the pool; a waiver that has no line for an
// installment stops allocation of this component at that installment.
//
// Allocate never mutates the installments and never produces a negative or
// over-shortfall line.
func Allocate(c Component, installments []*Installment, pool, waiverBudget decimal.Decimal, waiver *WaiverRequest) AllocationResult {
	res := AllocationResult{
		Remaining:      pool,
		WaiverBudget:   waiverBudget,
		TotalAllocated: decimal.Zero,
	}

	for _, inst := range installments {
		if !res.Remaining.IsPositive() {
			break
		}

		shortfall := inst.Shortfall(c)
		if !shortfall.IsPositive() {
			continue
		}

		var amount decimal.Decimal
		if waiver == nil {
			amount = decimal.Min(res.Remaining, shortfall)
		} else {
			line, ok := waiver.Lines[inst.ID]
			if !ok {
				// No explicit line means "do not touch": stop the
				// component here rather than fall through to the
				// proportional path.
				res.Halted = ErrInsufficientWaiverLine
				break
			}
			amount = decimal.Min(line.Amount(c), shortfall, res.WaiverBudget, res.Remaining)
			if !amount.IsPositive() {
				continue
			}
			res.WaiverBudget = res.WaiverBudget.Sub(amount)
		}

		if !amount.IsPositive() {
			continue
		}

		res.Lines = append(res.Lines, AllocationLine{InstallmentID: inst.ID, Amount: amount})
		res.Remaining = res.Remaining.Sub(amount)
		res.TotalAllocated = res.TotalAllocated.Add(amount)
	}

	return res
}

// Allocation is the combined per-installment outcome of the three component
// passes, in waterfall order.
type Allocation struct {
	Principal decimal.Decimal
	Interest  decimal.Decimal
	LateFee   decimal.Decimal
}

// Total sums the three components.
func (a Allocation) Total() decimal.Decimal {
	return a.Principal.Add(a.Interest).Add(a.LateFee)
}

func (a Allocation) set(c Component, amount decimal.Decimal) Allocation {
	switch c {
	case ComponentPrincipal:
		a.Principal = amount
	case ComponentInterest:
		a.Interest = amount
	case ComponentLateFee:
		a.LateFee = amount
	}
	return a
}

// RunWaterfall executes the full principal -> interest -> late-fee waterfall
// over one ordered installment list and merges the component lines into
// per-installment allocations. A later component is only attempted while
// money remains after the earlier one.
func RunWaterfall(installments []*Installment, pool, waiverBudget decimal.Decimal, waiver *WaiverRequest) (map[uuid.UUID]Allocation, AllocationResult) {
	merged := make(map[uuid.UUID]Allocation)
	last := AllocationResult{Remaining: pool, WaiverBudget: waiverBudget}

	for _, c := range []Component{ComponentPrincipal, ComponentInterest, ComponentLateFee} {
		if !last.Remaining.IsPositive() {
			break
		}
		res := Allocate(c, installments, last.Remaining, last.WaiverBudget, waiver)
		for _, line := range res.Lines {
			merged[line.InstallmentID] = merged[line.InstallmentID].set(c, line.Amount)
		}
		last.Remaining = res.Remaining
		last.WaiverBudget = res.WaiverBudget
		if res.Halted != nil {
			last.Halted = res.Halted
		}
	}

	return merged, last
}
