package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/user"
)

// Record is the persisted checkout session, keyed by gateway order id.
type Record struct {
	GatewayOrderID string            `json:"gatewayOrderId"`
	Provider       string            `json:"provider"`
	IntentID       uuid.UUID         `json:"intentId"`
	UserID         string            `json:"userId"`
	AddressID      string            `json:"addressId"`
	CouponCode     string            `json:"couponCode,omitempty"`
	Currency       string            `json:"currency"`
	State          State             `json:"-"`
	Items          []CartLine        `json:"items"`
	Breakdown      pricing.Breakdown `json:"breakdown"`
	Customer       user.Customer     `json:"customer"`
	OrderIDs       []uuid.UUID       `json:"orderIds,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type snapshot struct {
	Items     []CartLine        `json:"items"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	Customer  user.Customer     `json:"customer"`
}

// PGStore persists checkout sessions in the checkout_sessions table. State
// changes are compare-and-set on the current state.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Create inserts a new session.
func (s PGStore) Create(ctx context.Context, rec Record) error {
	if s.Pool == nil {
		return errors.New("checkout: pool not configured")
	}
	snap, err := json.Marshal(snapshot{Items: rec.Items, Breakdown: rec.Breakdown, Customer: rec.Customer})
	if err != nil {
		return fmt.Errorf("checkout: encode snapshot: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO checkout_sessions
  (gateway_order_id, provider, intent_id, user_id, address_id, coupon_code, currency, state, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.GatewayOrderID, rec.Provider, rec.IntentID, rec.UserID, rec.AddressID,
		rec.CouponCode, rec.Currency, rec.State.String(), snap)
	return err
}

// Get loads a session by gateway order id.
func (s PGStore) Get(ctx context.Context, gatewayOrderID string) (Record, error) {
	if s.Pool == nil {
		return Record{}, errors.New("checkout: pool not configured")
	}
	var (
		rec   Record
		state string
		snap  []byte
	)
	err := s.Pool.QueryRow(ctx, `SELECT gateway_order_id, provider, intent_id, user_id, address_id,
  coupon_code, currency, state, snapshot, order_ids, created_at, updated_at
FROM checkout_sessions WHERE gateway_order_id = $1`, gatewayOrderID).Scan(
		&rec.GatewayOrderID, &rec.Provider, &rec.IntentID, &rec.UserID, &rec.AddressID,
		&rec.CouponCode, &rec.Currency, &state, &snap, &rec.OrderIDs, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if rec.State, err = ParseState(state); err != nil {
		return Record{}, err
	}
	var sn snapshot
	if err := json.Unmarshal(snap, &sn); err != nil {
		return Record{}, fmt.Errorf("checkout: decode snapshot: %w", err)
	}
	rec.Items, rec.Breakdown, rec.Customer = sn.Items, sn.Breakdown, sn.Customer
	return rec, nil
}

// SetState moves a session from one state to another.
func (s PGStore) SetState(ctx context.Context, gatewayOrderID string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if s.Pool == nil {
		return errors.New("checkout: pool not configured")
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE checkout_sessions SET state = $3, updated_at = now()
WHERE gateway_order_id = $1 AND state = $2`, gatewayOrderID, from.String(), to.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// MarkLinked records the created orders and moves the session to LINKED.
func (s PGStore) MarkLinked(ctx context.Context, gatewayOrderID string, orderIDs []uuid.UUID) error {
	if s.Pool == nil {
		return errors.New("checkout: pool not configured")
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE checkout_sessions SET state = $3, order_ids = $4, updated_at = now()
WHERE gateway_order_id = $1 AND state = $2`, gatewayOrderID, StateOrdersCreating.String(), StateLinked.String(), orderIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, StateOrdersCreating, StateLinked)
	}
	return nil
}
