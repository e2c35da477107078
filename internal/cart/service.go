package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// ErrNotFound indicates the requested product or variant could not be located.
var ErrNotFound = errors.New("product not found")

// ErrInvalidInput is returned when a line request is malformed.
var ErrInvalidInput = errors.New("invalid input")

// Line is an immutable snapshot of a cart item at pricing time.
type Line struct {
	ProductID      string        `json:"productId"`
	VariantID      *string       `json:"variantId,omitempty"`
	SKU            string        `json:"sku"`
	BrandID        string        `json:"brandId"`
	CategoryID     string        `json:"categoryId"`
	SubCategoryID  string        `json:"subCategoryId"`
	ProductTypeID  string        `json:"productTypeId"`
	UnitPrice      pricing.Money `json:"unitPrice"`
	CompareAtPrice pricing.Money `json:"compareAtPrice"`
	Quantity       int           `json:"quantity"`
}

// Amount returns unit price times quantity.
func (l Line) Amount() pricing.Money {
	return l.UnitPrice * pricing.Money(l.Quantity)
}

// Meta returns the attributes coupon scopes are matched against.
func (l Line) Meta() pricing.LineMeta {
	return pricing.LineMeta{CategoryID: l.CategoryID, SubCategoryID: l.SubCategoryID, ProductTypeID: l.ProductTypeID}
}

// Savings returns the MRP discount baked into the unit price.
func (l Line) Savings() pricing.Money {
	if l.CompareAtPrice <= l.UnitPrice {
		return 0
	}
	return (l.CompareAtPrice - l.UnitPrice) * pricing.Money(l.Quantity)
}

// Amounts splits lines into the parallel slices the price calculator expects.
func Amounts(lines []Line) ([]pricing.Money, []pricing.LineMeta) {
	amounts := make([]pricing.Money, len(lines))
	metas := make([]pricing.LineMeta, len(lines))
	for i, l := range lines {
		amounts[i] = l.Amount()
		metas[i] = l.Meta()
	}
	return amounts, metas
}

// Savings sums the MRP savings across lines.
func Savings(lines []Line) pricing.Money {
	var total pricing.Money
	for _, l := range lines {
		total += l.Savings()
	}
	return total
}

const lineColumns = `p.id::text, v.id::text, COALESCE(v.sku, p.sku), p.brand_id::text, p.category_id::text,
COALESCE(p.sub_category_id::text, ''), COALESCE(p.product_type_id::text, ''),
COALESCE(v.price, p.price), COALESCE(v.compare_at_price, p.compare_at_price, 0)`

// PGStore loads cart lines from Postgres. Prices come from the catalog at read time.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Lines returns the user's cart lines in insertion order.
func (s PGStore) Lines(ctx context.Context, userID string) ([]Line, error) {
	if s.Pool == nil {
		return nil, errors.New("cart: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+lineColumns+`, ci.quantity
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
LEFT JOIN product_variants v ON v.id = ci.variant_id
WHERE ci.user_id = $1 AND ci.quantity > 0
ORDER BY ci.created_at, ci.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.VariantID, &l.SKU, &l.BrandID, &l.CategoryID, &l.SubCategoryID,
			&l.ProductTypeID, &l.UnitPrice, &l.CompareAtPrice, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Product builds a single buy-now line for the given product and optional variant.
func (s PGStore) Product(ctx context.Context, productID string, variantID *string, quantity int) (Line, error) {
	if s.Pool == nil {
		return Line{}, errors.New("cart: pool not configured")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity < 1 {
		return Line{}, ErrInvalidInput
	}
	var variant any
	if variantID != nil && strings.TrimSpace(*variantID) != "" {
		variant = strings.TrimSpace(*variantID)
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+lineColumns+`
FROM products p
LEFT JOIN product_variants v ON v.product_id = p.id AND v.id::text = $2
WHERE p.id::text = $1 AND ($2::text IS NULL OR v.id IS NOT NULL)`, productID, variant)
	l := Line{Quantity: quantity}
	err := row.Scan(&l.ProductID, &l.VariantID, &l.SKU, &l.BrandID, &l.CategoryID, &l.SubCategoryID,
		&l.ProductTypeID, &l.UnitPrice, &l.CompareAtPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrNotFound
	}
	if err != nil {
		return Line{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	return l, nil
}
