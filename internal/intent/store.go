package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotLinkable is returned when an intent is already linked or missing.
var ErrNotLinkable = errors.New("intent cannot be linked")

// Status is the intent lifecycle: created, then linked or abandoned.
type Status string

const (
	StatusCreated   Status = "created"
	StatusLinked    Status = "linked"
	StatusAbandoned Status = "abandoned"
)

// LinkableStatuses are the statuses Link accepts. An abandoned intent can
// still be linked when a late payment completes its checkout.
var LinkableStatuses = []string{string(StatusCreated), string(StatusAbandoned)}

// InFlightSessionStates are checkout session states whose payment has been
// verified but whose orders are not linked yet. MarkAbandoned skips intents
// with a session in one of these states.
var InFlightSessionStates = []string{"PAYMENT_CALLBACK_RECEIVED", "ORDERS_CREATING"}

const linkSQL = `UPDATE order_intents SET status = $2, order_ids = $3, linked_at = now()
WHERE id = $1 AND status = ANY($4)`

const markAbandonedSQL = `UPDATE order_intents SET status = $1
WHERE status = $2 AND created_at < $3
  AND NOT EXISTS (
    SELECT 1 FROM checkout_sessions cs
    WHERE cs.intent_id = order_intents.id AND cs.state = ANY($4)
  )`

// Product is one snapshotted purchase line.
type Product struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     int64   `json:"price"`
	SKU       string  `json:"sku"`
}

// Intent is a pre-payment record of what the user is about to buy.
type Intent struct {
	ID          uuid.UUID   `json:"id"`
	UserID      string      `json:"userId"`
	Products    []Product   `json:"products"`
	TotalAmount int64       `json:"totalAmount"`
	Status      Status      `json:"status"`
	OrderIDs    []uuid.UUID `json:"orderIds,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	LinkedAt    *time.Time  `json:"linkedAt,omitempty"`
}

// PGStore persists intents in the order_intents table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Create inserts a new intent in the created state.
func (s PGStore) Create(ctx context.Context, in Intent) (Intent, error) {
	if s.Pool == nil {
		return Intent{}, errors.New("intent: pool not configured")
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	products, err := json.Marshal(in.Products)
	if err != nil {
		return Intent{}, fmt.Errorf("encode products: %w", err)
	}
	in.Status = StatusCreated
	err = s.Pool.QueryRow(ctx, `INSERT INTO order_intents (id, user_id, products, total_amount, status)
VALUES ($1, $2, $3, $4, $5) RETURNING created_at`, in.ID, in.UserID, products, in.TotalAmount, string(in.Status)).
		Scan(&in.CreatedAt)
	if err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Link attaches created order ids to a created or abandoned intent.
func (s PGStore) Link(ctx context.Context, id uuid.UUID, orderIDs []uuid.UUID) error {
	if s.Pool == nil {
		return errors.New("intent: pool not configured")
	}
	tag, err := s.Pool.Exec(ctx, linkSQL, id, string(StatusLinked), orderIDs, LinkableStatuses)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotLinkable
	}
	return nil
}

// MarkAbandoned moves unlinked intents created before the cutoff to abandoned,
// skipping those whose checkout is between payment verification and linkage.
// Rows are never deleted.
func (s PGStore) MarkAbandoned(ctx context.Context, before time.Time) (int64, error) {
	if s.Pool == nil {
		return 0, errors.New("intent: pool not configured")
	}
	tag, err := s.Pool.Exec(ctx, markAbandonedSQL, string(StatusAbandoned), string(StatusCreated), before, InFlightSessionStates)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
