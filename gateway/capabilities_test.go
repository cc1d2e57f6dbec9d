package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeSchedule_FeeFor_Flat(t *testing.T) {
	// 1.4% + 0.20 fixed
	schedule := FeeSchedule{
		Percent: decimal.NewFromFloat(1.4),
		Fixed:   decimal.NewFromFloat(0.20),
	}

	fee := schedule.FeeFor(decimal.NewFromInt(25), decimal.Zero)
	assert.Equal(t, "0.55", fee.StringFixed(2))

	fee = schedule.FeeFor(decimal.NewFromInt(100), decimal.Zero)
	assert.Equal(t, "1.60", fee.StringFixed(2))
}

func TestFeeSchedule_FeeFor_PercentOnly(t *testing.T) {
	schedule := FeeSchedule{Percent: decimal.NewFromFloat(1.69)}

	fee := schedule.FeeFor(decimal.NewFromInt(25), decimal.Zero)
	assert.Equal(t, "0.4225", fee.String())
}

func TestFeeSchedule_FeeFor_Tiered(t *testing.T) {
	// 2.5% standard; 0.99% + 19.99/month once volume reaches 2714
	schedule := FeeSchedule{
		Percent:           decimal.NewFromFloat(2.5),
		MonthlyFee:        decimal.NewFromFloat(19.99),
		DiscountThreshold: decimal.NewFromInt(2714),
		DiscountPercent:   decimal.NewFromFloat(0.99),
	}

	amount := decimal.NewFromInt(100)

	t.Run("below threshold uses standard rate", func(t *testing.T) {
		fee := schedule.FeeFor(amount, decimal.NewFromInt(1000))
		assert.Equal(t, "2.50", fee.StringFixed(2))
	})

	t.Run("at threshold uses discount rate plus amortized monthly fee", func(t *testing.T) {
		volume := decimal.NewFromInt(2714)
		fee := schedule.FeeFor(amount, volume)

		// 100*0.99% + 19.99*100/2714
		expected := decimal.NewFromFloat(0.99).Add(
			decimal.NewFromFloat(19.99).Mul(amount).Div(volume))
		assert.True(t, fee.Equal(expected), "got %s want %s", fee, expected)
	})

	t.Run("higher volume shrinks the amortized share", func(t *testing.T) {
		feeAtThreshold := schedule.FeeFor(amount, decimal.NewFromInt(2714))
		feeAtHighVolume := schedule.FeeFor(amount, decimal.NewFromInt(50000))
		assert.True(t, feeAtHighVolume.LessThan(feeAtThreshold))
	})

	t.Run("zero volume stays on standard rate", func(t *testing.T) {
		fee := schedule.FeeFor(amount, decimal.Zero)
		assert.Equal(t, "2.50", fee.StringFixed(2))
	})
}

// Fees must never decrease as the amount grows, whatever the schedule shape.
func TestFeeSchedule_FeeFor_MonotonicInAmount(t *testing.T) {
	schedules := map[string]FeeSchedule{
		"flat percent": {Percent: decimal.NewFromFloat(1.69)},
		"percent plus fixed": {
			Percent: decimal.NewFromFloat(1.4),
			Fixed:   decimal.NewFromFloat(0.20),
		},
		"tiered below threshold": {
			Percent:           decimal.NewFromFloat(2.5),
			MonthlyFee:        decimal.NewFromFloat(19.99),
			DiscountThreshold: decimal.NewFromInt(2714),
			DiscountPercent:   decimal.NewFromFloat(0.99),
		},
		"free": {},
	}

	volumes := []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromInt(1000),
		decimal.NewFromInt(2714),
		decimal.NewFromInt(100000),
	}

	amounts := []decimal.Decimal{
		decimal.NewFromFloat(0.50),
		decimal.NewFromInt(1),
		decimal.NewFromInt(25),
		decimal.NewFromInt(100),
		decimal.NewFromInt(999),
		decimal.NewFromInt(5000),
	}

	for name, schedule := range schedules {
		t.Run(name, func(t *testing.T) {
			for _, volume := range volumes {
				prev := decimal.NewFromInt(-1)
				for _, amount := range amounts {
					fee := schedule.FeeFor(amount, volume)
					assert.True(t, fee.GreaterThanOrEqual(prev),
						"fee %s for amount %s dropped below %s at volume %s",
						fee, amount, prev, volume)
					prev = fee
				}
			}
		})
	}
}

func TestFeeSchedule_TieredAndFree(t *testing.T) {
	assert.False(t, FeeSchedule{}.Tiered())
	assert.True(t, FeeSchedule{DiscountThreshold: decimal.NewFromInt(1000)}.Tiered())

	assert.True(t, FeeSchedule{}.Free())
	assert.False(t, FeeSchedule{Percent: decimal.NewFromFloat(1.0)}.Free())
	assert.False(t, FeeSchedule{MonthlyFee: decimal.NewFromFloat(9.99)}.Free())
}

func TestCapabilities_Supports(t *testing.T) {
	caps := Capabilities{
		Currencies: []string{"GBP", "EUR"},
		Methods:    []string{MethodCard, MethodWallet},
		Regions:    []string{"UK", "EU"},
	}

	assert.True(t, caps.SupportsCurrency("GBP"))
	assert.False(t, caps.SupportsCurrency("JPY"))

	assert.True(t, caps.SupportsMethod(MethodCard))
	assert.False(t, caps.SupportsMethod(MethodCash))

	assert.True(t, caps.CoversRegion("UK"))
	assert.False(t, caps.CoversRegion("US"))
}

func TestCapabilities_CoversRegion_Defaults(t *testing.T) {
	regional := Capabilities{Regions: []string{"UK"}}
	everywhere := Capabilities{}

	// Empty query region always counts as covered
	assert.True(t, regional.CoversRegion(""))

	// A gateway without declared regions operates everywhere
	assert.True(t, everywhere.CoversRegion("US"))
	assert.True(t, everywhere.CoversRegion(""))
}

func TestCapabilities_InAmountRange(t *testing.T) {
	min, err := NewMoney("1.00", "GBP")
	require.NoError(t, err)
	max, err := NewMoney("50000.00", "GBP")
	require.NoError(t, err)

	caps := Capabilities{MinAmount: min, MaxAmount: max}

	inRange, _ := NewMoney("25.00", "GBP")
	tooSmall, _ := NewMoney("0.50", "GBP")
	tooBig, _ := NewMoney("50000.01", "GBP")
	atMin, _ := NewMoney("1.00", "GBP")
	atMax, _ := NewMoney("50000.00", "GBP")

	assert.True(t, caps.InAmountRange(inRange))
	assert.False(t, caps.InAmountRange(tooSmall))
	assert.False(t, caps.InAmountRange(tooBig))
	assert.True(t, caps.InAmountRange(atMin))
	assert.True(t, caps.InAmountRange(atMax))
}

func TestCapabilities_InAmountRange_NoCap(t *testing.T) {
	caps := Capabilities{}

	huge, _ := NewMoney("9999999.00", "GBP")
	assert.True(t, caps.InAmountRange(huge))
}
