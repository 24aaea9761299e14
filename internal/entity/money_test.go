package entity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoneyPercentRoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		amount Money
		pct    int64
		want   Money
	}{
		{10000, 10, 1000},
		{999, 15, 150}, // 149.85
		{1, 50, 1},     // 0.5
		{333, 10, 33},  // 33.3
		{0, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.amount.Percent(decimal.NewFromInt(tt.pct)), "%d%% of %d", tt.pct, tt.amount)
	}
}

func TestMoneyScale(t *testing.T) {
	assert.Equal(t, Money(1200), Money(1500).Scale(decimal.RequireFromString("0.8")))
	assert.Equal(t, Money(3000), Money(1500).Scale(decimal.NewFromInt(2)))
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "12.34", Money(1234).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "-1.50", Money(-150).String())
}

func TestMoneyMulAndMin(t *testing.T) {
	assert.Equal(t, Money(2997), Money(999).Mul(3))
	assert.Equal(t, Money(10), Money(10).Min(20))
	assert.Equal(t, Money(20), Money(30).Min(20))
}
