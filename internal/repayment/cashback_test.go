package repayment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLegacyPercentageScheme(t *testing.T) {
	s := LegacyPercentageScheme{Rate: decimal.NewFromFloat(0.02)}
	inst := testInstallment(250_000, 10_000, 0)

	amount, delta := s.Calculate(inst, 7)

	assert.True(t, amount.Equal(money(5_000)))
	assert.Equal(t, 0, delta, "legacy scheme ignores the streak counter")
}

func TestCounterSchemeAccumulates(t *testing.T) {
	s := CounterScheme{Rate: decimal.NewFromFloat(0.01), Threshold: 3}
	inst := testInstallment(100_000, 0, 0)

	amount, delta := s.Calculate(inst, 0)
	assert.True(t, amount.IsZero())
	assert.Equal(t, 1, delta)

	amount, delta = s.Calculate(inst, 1)
	assert.True(t, amount.IsZero())
	assert.Equal(t, 1, delta)
}

func TestCounterSchemePaysOutAtThresholdAndResets(t *testing.T) {
	s := CounterScheme{Rate: decimal.NewFromFloat(0.01), Threshold: 3}
	inst := testInstallment(100_000, 0, 0)

	amount, delta := s.Calculate(inst, 2)

	assert.True(t, amount.Equal(money(1_000)))
	assert.Equal(t, -2, delta, "streak resets to zero on payout")
}

func TestCashbackSchemeFor(t *testing.T) {
	rate := decimal.NewFromFloat(0.01)

	assert.IsType(t, LegacyPercentageScheme{}, CashbackSchemeFor(SchemeLegacy, rate))
	assert.IsType(t, CounterScheme{}, CashbackSchemeFor(SchemeCounter, rate))
	assert.Nil(t, CashbackSchemeFor(SchemeNone, rate))
	assert.Nil(t, CashbackSchemeFor("unknown", rate))
}
