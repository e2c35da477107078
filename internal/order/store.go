package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// StatusPlaced is the status of a freshly created, already paid order.
const StatusPlaced = "placed"

// Line is one product row on an order.
type Line struct {
	ProductID  string  `json:"productId"`
	VariantID  *string `json:"variantId,omitempty"`
	SKU        string  `json:"sku"`
	Price      int64   `json:"price"`
	Quantity   int     `json:"quantity"`
	BrandID    string  `json:"brandId"`
	CategoryID string  `json:"categoryId"`
}

// Draft is an order waiting to be persisted.
type Draft struct {
	BrandID         string    `json:"brandId"`
	UserID          string    `json:"userId"`
	AddressID       string    `json:"addressId"`
	PaymentMethod   string    `json:"paymentMethod"`
	GatewayOrderID  string    `json:"gatewayOrderId"`
	IntentID        uuid.UUID `json:"intentId"`
	TotalAmount     int64     `json:"totalAmount"`
	DiscountAmount  int64     `json:"discountAmount"`
	DeliveryAmount  int64     `json:"deliveryAmount"`
	ShipmentOrderID *string   `json:"shipmentOrderId"`
	ShipmentID      *string   `json:"shipmentId"`
	Items           []Line    `json:"items"`
}

// Order is a persisted brand order.
type Order struct {
	ID uuid.UUID `json:"id"`
	Draft
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// PGStore writes orders to Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// CreateBatch persists all drafts in one transaction. When the orders for the
// gateway order already exist the stored orders are returned instead, so a
// retried batch never duplicates orders.
func (s PGStore) CreateBatch(ctx context.Context, drafts []Draft) ([]Order, error) {
	if s.Pool == nil {
		return nil, errors.New("order: pool not configured")
	}
	if len(drafts) == 0 {
		return nil, errors.New("order: no drafts")
	}
	out, err := s.insertAll(ctx, drafts)
	if err == nil {
		return out, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		existing, lerr := s.ListByGatewayOrder(ctx, drafts[0].GatewayOrderID)
		if lerr != nil {
			return nil, lerr
		}
		if len(existing) == len(drafts) {
			return existing, nil
		}
	}
	return nil, err
}

func (s PGStore) insertAll(ctx context.Context, drafts []Draft) ([]Order, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	out := make([]Order, 0, len(drafts))
	for _, d := range drafts {
		o := Order{ID: uuid.New(), Draft: d, Status: StatusPlaced}
		err := tx.QueryRow(ctx, `INSERT INTO orders (id, brand_id, user_id, address_id, payment_method, gateway_order_id,
intent_id, total_amount, discount_amount, delivery_amount, status, shipment_order_id, shipment_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING created_at`,
			o.ID, d.BrandID, d.UserID, d.AddressID, d.PaymentMethod, d.GatewayOrderID, d.IntentID,
			d.TotalAmount, d.DiscountAmount, d.DeliveryAmount, o.Status, d.ShipmentOrderID, d.ShipmentID).Scan(&o.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert order for brand %s: %w", d.BrandID, err)
		}
		batch := &pgx.Batch{}
		for _, it := range d.Items {
			batch.Queue(`INSERT INTO order_items (order_id, product_id, variant_id, sku, price, quantity, brand_id, category_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, o.ID, it.ProductID, it.VariantID, it.SKU, it.Price, it.Quantity, it.BrandID, it.CategoryID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("insert order items for brand %s: %w", d.BrandID, err)
		}
		out = append(out, o)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByGatewayOrder returns the orders created for a gateway order in insertion order.
func (s PGStore) ListByGatewayOrder(ctx context.Context, gatewayOrderID string) ([]Order, error) {
	if s.Pool == nil {
		return nil, errors.New("order: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, brand_id, user_id, address_id, payment_method, gateway_order_id, intent_id,
total_amount, discount_amount, delivery_amount, status, shipment_order_id, shipment_id, created_at
FROM orders WHERE gateway_order_id = $1 ORDER BY seq`, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.BrandID, &o.UserID, &o.AddressID, &o.PaymentMethod, &o.GatewayOrderID, &o.IntentID,
			&o.TotalAmount, &o.DiscountAmount, &o.DeliveryAmount, &o.Status, &o.ShipmentOrderID, &o.ShipmentID, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
