package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/migrations"
	"github.com/noah-isme/storefront-checkout/internal/obs"
)

// seedNamespace derives stable ids so reseeding is idempotent.
var seedNamespace = uuid.MustParse("6f1c1d8e-5b7a-4d0e-9f43-2a1e7c9b8d10")

func id(kind, name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(kind+":"+name))
}

type product struct {
	SKU, Name, Brand, Category string
	Price, CompareAt           int64
}

func main() {
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if *migrate {
		if err := migrations.Up(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := seedUsers(ctx, tx); err != nil {
			return fmt.Errorf("users: %w", err)
		}
		if err := seedCatalog(ctx, tx); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		if err := seedCoupons(ctx, tx); err != nil {
			return fmt.Errorf("coupons: %w", err)
		}
		return seedCart(ctx, tx)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logSummary(logger)
}

func seedUsers(ctx context.Context, tx pgx.Tx) error {
	users := []struct{ Name, Email, Phone string }{
		{"Asha Rao", "asha@example.com", "+91 98450 11111"},
		{"Vikram Shah", "vikram@example.com", "+91 98450 22222"},
		{"Meera Iyer", "meera@example.com", ""},
	}
	for _, u := range users {
		uid := id("user", u.Email)
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, name, email, phone) VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT (id) DO NOTHING`, uid, u.Name, u.Email, u.Phone); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO addresses (id, user_id, line1, city, postcode) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, id("address", u.Email), uid, "12 MG Road", "Bengaluru", "560001"); err != nil {
			return err
		}
	}
	return nil
}

var products = []product{
	{"SHOE-RUN-01", "Road Runner", "stride", "footwear", 349_900, 449_900},
	{"SHOE-TRL-02", "Trail Blazer", "stride", "footwear", 529_900, 0},
	{"TEE-CTN-01", "Cotton Tee", "loom", "apparel", 79_900, 99_900},
	{"SOCK-3PK", "Ankle Socks 3-pack", "loom", "accessories", 29_900, 0},
	{"BOTTLE-750", "Steel Bottle 750ml", "hydra", "accessories", 24_900, 29_900},
}

func seedCatalog(ctx context.Context, tx pgx.Tx) error {
	for _, p := range products {
		var compare any
		if p.CompareAt > 0 {
			compare = p.CompareAt
		}
		if _, err := tx.Exec(ctx, `INSERT INTO products (id, sku, name, brand_id, category_id, price, compare_at_price)
VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, compare_at_price = EXCLUDED.compare_at_price`,
			id("product", p.SKU), p.SKU, p.Name, id("brand", p.Brand), id("category", p.Category), p.Price, compare); err != nil {
			return err
		}
	}
	// Sized variant priced above the base product.
	_, err := tx.Exec(ctx, `INSERT INTO product_variants (id, product_id, sku, price) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, id("variant", "SHOE-RUN-01-XL"), id("product", "SHOE-RUN-01"), "SHOE-RUN-01-XL", 369_900)
	return err
}

func seedCoupons(ctx context.Context, tx pgx.Tx) error {
	footwear := id("category", "footwear").String()
	coupons := []struct {
		Code, Description, Type string
		Value                   int64
		MaxDiscount             any
		MinOrder                int64
		CategoryID              any
	}{
		{"WELCOME10", "10% off your order", "percentage", 10, int64(50_000), 99_900, nil},
		{"FLAT200", "₹200 off orders above ₹1,499", "fixed", 20_000, nil, 149_900, nil},
		{"RUN15", "15% off footwear", "percentage", 15, nil, 0, footwear},
	}
	for _, c := range coupons {
		if _, err := tx.Exec(ctx, `INSERT INTO coupons (id, code, description, discount_type, value, max_discount, min_order, category_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (code) DO NOTHING`,
			id("coupon", c.Code), c.Code, c.Description, c.Type, c.Value, c.MaxDiscount, c.MinOrder, c.CategoryID); err != nil {
			return err
		}
	}
	return nil
}

// seedCart fills a two-brand cart for the first user.
func seedCart(ctx context.Context, tx pgx.Tx) error {
	userID := id("user", "asha@example.com").String()
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, line := range []struct {
		SKU string
		Qty int
	}{{"SHOE-RUN-01", 1}, {"TEE-CTN-01", 2}} {
		if _, err := tx.Exec(ctx, `INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)`,
			userID, id("product", line.SKU), line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func logSummary(logger zerolog.Logger) {
	logger.Info().
		Int("products", len(products)).
		Str("demo_user", id("user", "asha@example.com").String()).
		Str("demo_address", id("address", "asha@example.com").String()).
		Msg("seeding completed")
}
