package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/entity"
)

func TestAddItemMergesAndRestampsPrice(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.product(t, 1000, 5)

	line, err := e.carts.AddItem(ctx, "u1", p.ID, 2, "no sugar")
	require.NoError(t, err)
	assert.Equal(t, entity.Money(1000), line.CapturedUnitPrice)

	_, err = e.db.Exec(`UPDATE products SET promotional_price = 800 WHERE id = ?`, p.ID)
	require.NoError(t, err)

	line, err = e.carts.AddItem(ctx, "u1", p.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)
	assert.Equal(t, entity.Money(800), line.CapturedUnitPrice)
	assert.Equal(t, "no sugar", line.Customization)

	lines, err := e.carts.Lines(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestAddItemRejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.product(t, 1000, 2)
	hidden := e.product(t, 1000, 2, func(p *entity.Product) { p.AvailableForSale = false })

	_, err := e.carts.AddItem(ctx, "u1", p.ID, 0, "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.carts.AddItem(ctx, "u1", "missing", 1, "")
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = e.carts.AddItem(ctx, "u1", hidden.ID, 1, "")
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = e.carts.AddItem(ctx, "u1", p.ID, 2, "")
	require.NoError(t, err)
	_, err = e.carts.AddItem(ctx, "u1", p.ID, 1, "")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, KindAvailability, KindOf(err))
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.product(t, 1000, 5)
	e.addToCart(t, "u1", p, 1)

	line, err := e.carts.UpdateQuantity(ctx, "u1", p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, line.Quantity)

	_, err = e.carts.UpdateQuantity(ctx, "u1", p.ID, 6)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	line, err = e.carts.UpdateQuantity(ctx, "u1", p.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, line)

	err = e.carts.RemoveItem(ctx, "u1", p.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestTotalsUseCapturedPrices(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.product(t, 1000, 5)
	b := e.product(t, 250, 5, func(p *entity.Product) { p.WeightGrams = 100 })
	e.addToCart(t, "u1", a, 2)
	e.addToCart(t, "u1", b, 3)

	_, err := e.db.Exec(`UPDATE products SET price = 9999 WHERE id = ?`, a.ID)
	require.NoError(t, err)

	totals, err := e.carts.Totals(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.CartTotals{Lines: 2, Items: 5, Subtotal: 2750, WeightGrams: 1300}, totals)

	require.NoError(t, e.carts.Clear(ctx, "u1"))
	totals, err = e.carts.Totals(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, totals.Items)
}

func TestValidateAndFixCart(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	fine := e.product(t, 1000, 10)
	repriced := e.product(t, 1000, 10)
	short := e.product(t, 1000, 10)
	gone := e.product(t, 1000, 10)
	e.addToCart(t, "u1", fine, 1)
	e.addToCart(t, "u1", repriced, 1)
	e.addToCart(t, "u1", short, 5)
	e.addToCart(t, "u1", gone, 1)

	_, err := e.db.Exec(`UPDATE products SET price = 1200 WHERE id = ?`, repriced.ID)
	require.NoError(t, err)
	_, err = e.db.Exec(`UPDATE products SET stock = 3 WHERE id = ?`, short.ID)
	require.NoError(t, err)
	_, err = e.db.Exec(`UPDATE products SET active = ? WHERE id = ?`, false, gone.ID)
	require.NoError(t, err)

	issues, err := e.carts.Validate(ctx, "u1")
	require.NoError(t, err)
	actions := map[string]entity.CartIssueAction{}
	for _, is := range issues {
		actions[is.ProductID] = is.Action
	}
	assert.Equal(t, map[string]entity.CartIssueAction{
		repriced.ID: entity.CartIssueUpdatePrice,
		short.ID:    entity.CartIssueAdjustQuantity,
		gone.ID:     entity.CartIssueRemove,
	}, actions)

	// Validate changes nothing
	lines, err := e.carts.Lines(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	applied, err := e.carts.Fix(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, applied, 3)

	lines, err = e.carts.Lines(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	byProduct := map[string]*entity.CartLine{}
	for _, l := range lines {
		byProduct[l.ProductID] = l
	}
	assert.Equal(t, entity.Money(1200), byProduct[repriced.ID].CapturedUnitPrice)
	assert.Equal(t, 3, byProduct[short.ID].Quantity)

	again, err := e.carts.Fix(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again)
}
