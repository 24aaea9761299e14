package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCouponInWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	c := &Coupon{ValidFrom: &from, ValidUntil: &until}

	assert.False(t, c.InWindow(from.Add(-time.Second)))
	assert.True(t, c.InWindow(from))
	assert.True(t, c.InWindow(until))
	assert.False(t, c.InWindow(until.Add(time.Second)))
	assert.True(t, (&Coupon{}).InWindow(until))
}

func TestCouponExhausted(t *testing.T) {
	assert.False(t, (&Coupon{MaxTotalUses: 0, CurrentUses: 100}).Exhausted())
	assert.False(t, (&Coupon{MaxTotalUses: 2, CurrentUses: 1}).Exhausted())
	assert.True(t, (&Coupon{MaxTotalUses: 2, CurrentUses: 2}).Exhausted())
}

func TestCouponUserLists(t *testing.T) {
	open := &Coupon{ExcludedUserIDs: []string{"banned"}}
	assert.True(t, open.IsValidForUser("anyone"))
	assert.False(t, open.IsValidForUser("banned"))

	closed := &Coupon{UserIDs: []string{"vip"}}
	assert.True(t, closed.IsValidForUser("vip"))
	assert.False(t, closed.IsValidForUser("anyone"))
}

func TestCouponProductScope(t *testing.T) {
	c := &Coupon{
		ProductIDs:          []string{"p1"},
		CategoryIDs:         []string{"drinks"},
		ExcludedProductIDs:  []string{"p9"},
		ExcludedCategoryIDs: []string{"alcohol"},
	}
	assert.True(t, c.IsValidForProduct("p1", "food"))
	assert.True(t, c.IsValidForProduct("p2", "drinks"))
	assert.False(t, c.IsValidForProduct("p3", "food"))
	assert.False(t, c.IsValidForProduct("p9", "drinks"))
	assert.False(t, c.IsValidForProduct("p1", "alcohol"))

	assert.True(t, (&Coupon{}).IsValidForProduct("p3", "food"))
}
