package service

import (
	"context"

	"checkout-service/internal/repository"
)

// StockLedger reserves and releases product stock. Implementations must run
// on the caller's transaction; the checkout is the only caller of Reserve.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

// LedgerFactory binds a StockLedger to the repositories of one transaction.
type LedgerFactory func(r *repository.Repos) StockLedger

// DefaultLedger is the database backed ledger on the products table.
func DefaultLedger(r *repository.Repos) StockLedger {
	return r.Products
}
