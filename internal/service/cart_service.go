package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

// CartService manages the per-user carts. Carts of different users never
// touch each other, so no cross-user coordination is needed.
type CartService struct {
	store *repository.Store
	now   func() time.Time
}

func NewCartService(store *repository.Store, now func() time.Time) *CartService {
	if now == nil {
		now = time.Now
	}
	return &CartService{store: store, now: now}
}

// AddItem puts quantity units of a product in the cart. An existing line for
// the same product is merged and re-stamped with the current effective price.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int, customization string) (*entity.CartLine, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("user_id", "is required")
	}
	if strings.TrimSpace(productID) == "" {
		return nil, validationError("product_id", "is required")
	}
	if quantity < 1 {
		return nil, validationError("quantity", "must be at least 1")
	}

	var line *entity.CartLine
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		product, err := s.sellableProduct(ctx, r, productID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		existing, err := r.Carts.Get(ctx, userID, productID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Error().Err(err).Msgf("Error getting cart line of product %s", productID)
			return err
		}

		wanted := quantity
		if existing != nil {
			wanted += existing.Quantity
		}
		if wanted > product.Stock {
			return availabilityError(ErrInsufficientStock, productID, fmt.Sprintf("requested %d, available %d", wanted, product.Stock))
		}

		if existing == nil {
			line = &entity.CartLine{
				ID:                uuid.NewString(),
				UserID:            userID,
				ProductID:         productID,
				Quantity:          wanted,
				CapturedUnitPrice: product.EffectivePrice(),
				Customization:     customization,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			err = r.Carts.Insert(ctx, line)
			if errors.Is(err, repository.ErrDuplicate) {
				return consistencyError(ErrConcurrentUpdate, "cart line was added concurrently, retry")
			}
			return err
		}

		line = existing
		line.Quantity = wanted
		line.CapturedUnitPrice = product.EffectivePrice()
		if customization != "" {
			line.Customization = customization
		}
		line.UpdatedAt = now
		return r.Carts.Update(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateQuantity sets the quantity of a line. Zero removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*entity.CartLine, error) {
	if quantity < 0 {
		return nil, validationError("quantity", "must not be negative")
	}
	if quantity == 0 {
		return nil, s.RemoveItem(ctx, userID, productID)
	}

	var line *entity.CartLine
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		line, err = r.Carts.Get(ctx, userID, productID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("cart line for product", productID)
		}
		if err != nil {
			return err
		}

		product, err := s.sellableProduct(ctx, r, productID)
		if err != nil {
			return err
		}
		if quantity > product.Stock {
			return availabilityError(ErrInsufficientStock, productID, fmt.Sprintf("requested %d, available %d", quantity, product.Stock))
		}

		line.Quantity = quantity
		line.UpdatedAt = s.now().UTC()
		return r.Carts.Update(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) error {
	err := s.store.Repos().Carts.Delete(ctx, userID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("cart line for product", productID)
	}
	return err
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	_, err := s.store.Repos().Carts.Clear(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error clearing cart of user %s", userID)
	}
	return err
}

func (s *CartService) Lines(ctx context.Context, userID string) ([]*entity.CartLine, error) {
	return s.store.Repos().Carts.ListByUser(ctx, userID)
}

// Totals sums the cart at its captured prices.
func (s *CartService) Totals(ctx context.Context, userID string) (entity.CartTotals, error) {
	r := s.store.Repos()
	lines, err := r.Carts.ListByUser(ctx, userID)
	if err != nil {
		return entity.CartTotals{}, err
	}
	products, err := r.Products.GetByIDs(ctx, productIDs(lines))
	if err != nil {
		return entity.CartTotals{}, err
	}

	totals := entity.CartTotals{Lines: len(lines)}
	for _, l := range lines {
		totals.Items += l.Quantity
		totals.Subtotal += l.Subtotal()
		if p, ok := products[l.ProductID]; ok {
			totals.WeightGrams += p.WeightGrams * l.Quantity
		}
	}
	return totals, nil
}

// Validate reports every line that drifted from the catalog without changing anything.
func (s *CartService) Validate(ctx context.Context, userID string) ([]entity.CartIssue, error) {
	r := s.store.Repos()
	lines, err := r.Carts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := r.Products.GetByIDs(ctx, productIDs(lines))
	if err != nil {
		return nil, err
	}
	return inspectCart(lines, products), nil
}

// Fix applies the corrections Validate would report, in one transaction.
// Running it again right away finds nothing left to correct.
func (s *CartService) Fix(ctx context.Context, userID string) ([]entity.CartIssue, error) {
	var applied []entity.CartIssue
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		lines, err := r.Carts.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		products, err := r.Products.GetByIDs(ctx, productIDs(lines))
		if err != nil {
			return err
		}

		issues := inspectCart(lines, products)
		byLine := make(map[string]*entity.CartLine, len(lines))
		for _, l := range lines {
			byLine[l.ID] = l
		}

		changed := make(map[string]bool)
		for _, issue := range issues {
			line := byLine[issue.LineID]
			switch issue.Action {
			case entity.CartIssueRemove:
				if err := r.Carts.DeleteByID(ctx, line.ID); err != nil {
					return err
				}
				delete(changed, line.ID)
			case entity.CartIssueAdjustQuantity:
				line.Quantity = issue.AvailableQuantity
				changed[line.ID] = true
			case entity.CartIssueUpdatePrice:
				line.CapturedUnitPrice = issue.CurrentPrice
				changed[line.ID] = true
			}
		}

		now := s.now().UTC()
		for _, l := range lines {
			if !changed[l.ID] {
				continue
			}
			l.UpdatedAt = now
			if err := r.Carts.Update(ctx, l); err != nil {
				return err
			}
		}
		applied = issues
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error fixing cart of user %s", userID)
		return nil, err
	}
	return applied, nil
}

func (s *CartService) sellableProduct(ctx context.Context, r *repository.Repos, productID string) (*entity.Product, error) {
	product, err := r.Products.GetByID(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, availabilityError(ErrProductUnavailable, productID, "product does not exist")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting product by ID %s", productID)
		return nil, err
	}
	if !product.IsSellable() {
		return nil, availabilityError(ErrProductUnavailable, productID, "product is not for sale")
	}
	return product, nil
}

// inspectCart compares each line with the current product state. A removed
// line gets no further issues; quantity and price issues can both apply.
func inspectCart(lines []*entity.CartLine, products map[string]*entity.Product) []entity.CartIssue {
	var issues []entity.CartIssue
	for _, l := range lines {
		p, ok := products[l.ProductID]
		remove := func(reason string) {
			issues = append(issues, entity.CartIssue{LineID: l.ID, ProductID: l.ProductID, Action: entity.CartIssueRemove, Reason: reason, Quantity: l.Quantity})
		}
		switch {
		case !ok:
			remove("product no longer exists")
			continue
		case !p.Active:
			remove("product is inactive")
			continue
		case !p.AvailableForSale:
			remove("product is not available for sale")
			continue
		case p.Stock <= 0:
			remove("product is out of stock")
			continue
		}

		if l.Quantity > p.Stock {
			issues = append(issues, entity.CartIssue{
				LineID:            l.ID,
				ProductID:         l.ProductID,
				Action:            entity.CartIssueAdjustQuantity,
				Reason:            "requested quantity exceeds stock",
				Quantity:          l.Quantity,
				AvailableQuantity: p.Stock,
			})
		}
		if price := p.EffectivePrice(); l.CapturedUnitPrice != price {
			issues = append(issues, entity.CartIssue{
				LineID:        l.ID,
				ProductID:     l.ProductID,
				Action:        entity.CartIssueUpdatePrice,
				Reason:        "price changed",
				CapturedPrice: l.CapturedUnitPrice,
				CurrentPrice:  price,
			})
		}
	}
	return issues
}

func productIDs(lines []*entity.CartLine) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}
