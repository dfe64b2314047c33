package repayment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func testInstallment(principal, interest, lateFee int64) *Installment {
	inst := &Installment{
		ID:           uuid.New(),
		LoanID:       uuid.New(),
		DueDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PrincipalDue: money(principal),
		InterestDue:  money(interest),
		LateFeeDue:   money(lateFee),
		Status:       InstallmentUnpaid,
	}
	inst.Recompute()
	return inst
}

func TestAllocatePartialPool(t *testing.T) {
	inst := testInstallment(100_000, 20_000, 0)

	res := Allocate(ComponentPrincipal, []*Installment{inst}, money(60_000), decimal.Zero, nil)

	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(money(60_000)))
	assert.True(t, res.Remaining.IsZero())
	assert.True(t, res.TotalAllocated.Equal(money(60_000)))
}

func TestAllocateOrderIsCallerSupplied(t *testing.T) {
	first := testInstallment(50_000, 0, 0)
	second := testInstallment(50_000, 0, 0)

	res := Allocate(ComponentPrincipal, []*Installment{first, second}, money(60_000), decimal.Zero, nil)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, first.ID, res.Lines[0].InstallmentID)
	assert.True(t, res.Lines[0].Amount.Equal(money(50_000)))
	assert.Equal(t, second.ID, res.Lines[1].InstallmentID)
	assert.True(t, res.Lines[1].Amount.Equal(money(10_000)))
	assert.True(t, res.Remaining.IsZero())
}

func TestAllocateSkipsSettledComponent(t *testing.T) {
	settled := testInstallment(50_000, 0, 0)
	settled.PaidPrincipal = money(50_000)
	settled.Recompute()
	open := testInstallment(30_000, 0, 0)

	res := Allocate(ComponentPrincipal, []*Installment{settled, open}, money(40_000), decimal.Zero, nil)

	require.Len(t, res.Lines, 1)
	assert.Equal(t, open.ID, res.Lines[0].InstallmentID)
	assert.True(t, res.Lines[0].Amount.Equal(money(30_000)))
	assert.True(t, res.Remaining.Equal(money(10_000)))
}

func TestAllocateNeverExceedsShortfall(t *testing.T) {
	inst := testInstallment(10_000, 0, 0)

	res := Allocate(ComponentPrincipal, []*Installment{inst}, money(999_999), decimal.Zero, nil)

	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(money(10_000)))
	assert.True(t, res.Remaining.Equal(money(989_999)))
}

func TestAllocateWaiverApprovedOverride(t *testing.T) {
	inst := testInstallment(100_000, 0, 0)
	approved := money(30_000)
	waiver := &WaiverRequest{
		Lines: map[uuid.UUID]WaiverLine{
			inst.ID: {RequestedPrincipal: money(80_000), ApprovedPrincipal: &approved},
		},
		Budget: money(100_000),
	}

	res := Allocate(ComponentPrincipal, []*Installment{inst}, money(40_000), waiver.Budget, waiver)

	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(money(30_000)), "approved amount wins over requested")
	assert.True(t, res.Remaining.Equal(money(10_000)))
	assert.True(t, res.WaiverBudget.Equal(money(70_000)))
}

func TestAllocateWaiverFallsBackToRequested(t *testing.T) {
	inst := testInstallment(100_000, 0, 0)
	waiver := &WaiverRequest{
		Lines:  map[uuid.UUID]WaiverLine{inst.ID: {RequestedPrincipal: money(25_000)}},
		Budget: money(100_000),
	}

	res := Allocate(ComponentPrincipal, []*Installment{inst}, money(40_000), waiver.Budget, waiver)

	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(money(25_000)))
}

func TestAllocateWaiverBudgetCapsOverride(t *testing.T) {
	inst := testInstallment(100_000, 0, 0)
	waiver := &WaiverRequest{
		Lines:  map[uuid.UUID]WaiverLine{inst.ID: {RequestedPrincipal: money(50_000)}},
		Budget: money(15_000),
	}

	res := Allocate(ComponentPrincipal, []*Installment{inst}, money(40_000), waiver.Budget, waiver)

	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(money(15_000)))
	assert.True(t, res.WaiverBudget.IsZero())
}

func TestAllocateWaiverMissingLineStops(t *testing.T) {
	covered := testInstallment(20_000, 0, 0)
	uncovered := testInstallment(20_000, 0, 0)
	waiver := &WaiverRequest{
		Lines:  map[uuid.UUID]WaiverLine{covered.ID: {RequestedPrincipal: money(20_000)}},
		Budget: money(100_000),
	}

	res := Allocate(ComponentPrincipal, []*Installment{covered, uncovered}, money(40_000), waiver.Budget, waiver)

	require.Len(t, res.Lines, 1)
	assert.Equal(t, covered.ID, res.Lines[0].InstallmentID)
	assert.True(t, res.Remaining.Equal(money(20_000)), "missing line stops the component, money is not re-routed")
	assert.ErrorIs(t, res.Halted, ErrInsufficientWaiverLine)
}

func TestRunWaterfallComponentPriority(t *testing.T) {
	inst := testInstallment(100_000, 20_000, 5_000)

	allocations, pass := RunWaterfall([]*Installment{inst}, money(110_000), decimal.Zero, nil)

	alloc := allocations[inst.ID]
	assert.True(t, alloc.Principal.Equal(money(100_000)), "principal settles first")
	assert.True(t, alloc.Interest.Equal(money(10_000)), "interest only gets what remains")
	assert.True(t, alloc.LateFee.IsZero(), "late fee untouched until interest settles")
	assert.True(t, pass.Remaining.IsZero())
}

func TestRunWaterfallRemainderAfterFullSettlement(t *testing.T) {
	inst := testInstallment(100_000, 20_000, 0)

	allocations, pass := RunWaterfall([]*Installment{inst}, money(150_000), decimal.Zero, nil)

	alloc := allocations[inst.ID]
	assert.True(t, alloc.Principal.Equal(money(100_000)))
	assert.True(t, alloc.Interest.Equal(money(20_000)))
	assert.True(t, pass.Remaining.Equal(money(30_000)))
}

func TestRunWaterfallWaiverLeftoverFlowsToNextComponent(t *testing.T) {
	inst := testInstallment(100_000, 15_000, 0)
	approved := money(30_000)
	interestLine := money(15_000)
	waiver := &WaiverRequest{
		Lines: map[uuid.UUID]WaiverLine{
			inst.ID: {
				ApprovedPrincipal: &approved,
				ApprovedInterest:  &interestLine,
			},
		},
		Budget: money(45_000),
	}

	allocations, pass := RunWaterfall([]*Installment{inst}, money(40_000), waiver.Budget, waiver)

	alloc := allocations[inst.ID]
	assert.True(t, alloc.Principal.Equal(money(30_000)), "waiver caps principal below the pool")
	assert.True(t, alloc.Interest.Equal(money(10_000)), "leftover moves to interest, not back to principal")
	assert.True(t, pass.Remaining.IsZero())
}

func TestRunWaterfallIsDeterministic(t *testing.T) {
	build := func() []*Installment {
		a := testInstallment(40_000, 5_000, 1_000)
		b := testInstallment(40_000, 5_000, 1_000)
		// Fixed ids so both runs see identical input.
		a.ID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
		b.ID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
		return []*Installment{a, b}
	}

	first, _ := RunWaterfall(build(), money(55_000), decimal.Zero, nil)
	second, _ := RunWaterfall(build(), money(55_000), decimal.Zero, nil)

	require.Equal(t, len(first), len(second))
	for id, alloc := range first {
		other := second[id]
		assert.True(t, alloc.Principal.Equal(other.Principal))
		assert.True(t, alloc.Interest.Equal(other.Interest))
		assert.True(t, alloc.LateFee.Equal(other.LateFee))
	}
}
