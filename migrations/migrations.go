package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// The DDL below sticks to the subset MySQL 8 and SQLite both accept, so the
// same statements back production and the embedded/test database.
var statements = []struct {
	name  string
	query string
}{
	{"products", `
		CREATE TABLE IF NOT EXISTS products (
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
			CHECK (stock >= 0),
			CHECK (sold >= 0)
		)`},
	{"cart_lines", `
		CREATE TABLE IF NOT EXISTS cart_lines (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(36) NOT NULL,
			quantity INT NOT NULL,
			captured_unit_price BIGINT NOT NULL,
			customization TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (user_id, product_id),
			CHECK (quantity >= 1)
		)`},
	{"coupons", `
		CREATE TABLE IF NOT EXISTS coupons (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			code VARCHAR(64) NOT NULL UNIQUE,
			kind VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL,
			min_order_value BIGINT NOT NULL,
			max_discount_cap BIGINT NOT NULL,
			max_total_uses INT NOT NULL,
			current_uses INT NOT NULL,
			max_uses_per_user INT NOT NULL,
			valid_from DATETIME NULL,
			valid_until DATETIME NULL,
			enabled BOOLEAN NOT NULL,
			product_ids TEXT NOT NULL,
			excluded_product_ids TEXT NOT NULL,
			category_ids TEXT NOT NULL,
			excluded_category_ids TEXT NOT NULL,
			user_ids TEXT NOT NULL,
			excluded_user_ids TEXT NOT NULL,
			first_purchase_only BOOLEAN NOT NULL,
			stackable BOOLEAN NOT NULL,
			priority INT NOT NULL
		)`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			order_number VARCHAR(32) NOT NULL UNIQUE,
			user_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL,
			products_value BIGINT NOT NULL,
			shipping_value BIGINT NOT NULL,
			discount_value BIGINT NOT NULL,
			surcharge BIGINT NOT NULL,
			total BIGINT NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			payment_status VARCHAR(20) NOT NULL,
			delivery_address TEXT NOT NULL,
			delivery_mode VARCHAR(20) NOT NULL,
			scheduled_for DATETIME NULL,
			coupon_id VARCHAR(36) NULL,
			notes TEXT NOT NULL,
			cancel_reason TEXT NOT NULL,
			delivery_confirmed BOOLEAN NOT NULL,
			rating INT NULL,
			feedback TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			confirmed_at DATETIME NULL,
			preparing_at DATETIME NULL,
			shipped_at DATETIME NULL,
			delivered_at DATETIME NULL,
			cancelled_at DATETIME NULL,
			CHECK (discount_value <= products_value),
			CHECK (total > 0)
		)`},
	{"order_items", `
		CREATE TABLE IF NOT EXISTS order_items (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			order_id VARCHAR(36) NOT NULL,
			product_id VARCHAR(36) NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price BIGINT NOT NULL,
			subtotal BIGINT NOT NULL,
			customization TEXT NOT NULL,
			UNIQUE (order_id, product_id),
			FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		)`},
	{"coupon_redemptions", `
		CREATE TABLE IF NOT EXISTS coupon_redemptions (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			coupon_id VARCHAR(36) NOT NULL,
			order_id VARCHAR(36) NOT NULL,
			discount_value BIGINT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (user_id, coupon_id, order_id),
			FOREIGN KEY (order_id) REFERENCES orders(id)
		)`},
	{"order_sequences", `
		CREATE TABLE IF NOT EXISTS order_sequences (
			order_year INT NOT NULL PRIMARY KEY,
			last_value INT NOT NULL
		)`},
}

// AutoMigrate creates every table the checkout needs if it does not exist,
// retrying each statement while the database is still coming up.
func AutoMigrate(ctx context.Context, db *sql.DB, retries int) error {
	for _, st := range statements {
		_, err := db.ExecContext(ctx, st.query)
		for i := 0; err != nil && i < retries; i++ {
			time.Sleep(1 * time.Second)
			_, err = db.ExecContext(ctx, st.query)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", st.name, err)
		}
	}
	return nil
}
