package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"checkout-service/internal/config"
	"checkout-service/internal/entity"
)

var modeFactors = map[entity.DeliveryMode]decimal.Decimal{
	entity.DeliveryStandard:  decimal.NewFromInt(1),
	entity.DeliveryExpedited: decimal.NewFromInt(2),
	entity.DeliveryScheduled: decimal.RequireFromString("0.8"),
}

type ShippingQuote struct {
	Address       entity.Address
	WeightGrams   int
	Mode          entity.DeliveryMode
	ProductsValue entity.Money
}

// ShippingCalculator prices delivery. It has no side effects and is safe to
// use outside a transaction.
type ShippingCalculator struct {
	cfg config.ShippingConfig
}

func NewShippingCalculator(cfg config.ShippingConfig) *ShippingCalculator {
	return &ShippingCalculator{cfg: cfg}
}

func (c *ShippingCalculator) Calculate(q ShippingQuote) (entity.Money, error) {
	if strings.TrimSpace(q.Address.PostalCode) == "" {
		return 0, validationError("address.postal_code", "is required")
	}
	if strings.TrimSpace(q.Address.City) == "" {
		return 0, validationError("address.city", "is required")
	}
	factor, ok := modeFactors[q.Mode]
	if !ok {
		return 0, validationError("delivery_mode", "is not supported")
	}
	if q.WeightGrams < 0 {
		return 0, validationError("weight", "must not be negative")
	}
	if c.cfg.FreeShippingThreshold > 0 && q.ProductsValue >= c.cfg.FreeShippingThreshold {
		return 0, nil
	}

	fee := c.cfg.BaseFee
	if extra := q.WeightGrams - c.cfg.WeightThresholdGrams; extra > 0 {
		// every started kilogram above the threshold is charged in full
		kgs := (extra + 999) / 1000
		fee += c.cfg.FeePerKg.Mul(kgs)
	}
	return fee.Scale(factor), nil
}
