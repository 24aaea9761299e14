package entity

// Product is the catalog read model the checkout works against. Only the
// stock ledger writes Stock and Sold.
type Product struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CategoryID       string `json:"category_id"`
	Price            Money  `json:"price"`
	PromotionalPrice *Money `json:"promotional_price,omitempty"`
	Stock            int    `json:"stock"`
	StockMinimum     int    `json:"stock_minimum"`
	WeightGrams      int    `json:"weight_grams"`
	Sold             int    `json:"sold"`
	Active           bool   `json:"active"`
	AvailableForSale bool   `json:"available_for_sale"`
}

// EffectivePrice is the promotional price when set and lower than the list price.
func (p *Product) EffectivePrice() Money {
	if p.PromotionalPrice != nil && *p.PromotionalPrice > 0 && *p.PromotionalPrice < p.Price {
		return *p.PromotionalPrice
	}
	return p.Price
}

func (p *Product) IsSellable() bool {
	return p.Active && p.AvailableForSale
}

func (p *Product) IsLowStock() bool {
	return p.Stock <= p.StockMinimum
}

/*
Schema:
CREATE TABLE products (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	category_id VARCHAR(36) NOT NULL,
	price BIGINT NOT NULL,
	promotional_price BIGINT NULL,
	stock INT NOT NULL,
	stock_minimum INT NOT NULL,
	weight_grams INT NOT NULL,
	sold INT NOT NULL,
	active BOOLEAN NOT NULL,
	available_for_sale BOOLEAN NOT NULL,
	CHECK (stock >= 0)
);
*/
