package user

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the user record does not exist.
var ErrNotFound = errors.New("user not found")

// Customer is the subset of the user record checkout needs.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// PGStore reads users and their addresses from Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Get loads a customer by id.
func (s PGStore) Get(ctx context.Context, id string) (Customer, error) {
	if s.Pool == nil {
		return Customer{}, errors.New("user: pool not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Customer{}, ErrNotFound
	}
	var c Customer
	err := s.Pool.QueryRow(ctx, `SELECT id::text, name, email, COALESCE(phone, '') FROM users WHERE id::text = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

// HasAddress reports whether the address exists and belongs to the user.
func (s PGStore) HasAddress(ctx context.Context, userID, addressID string) (bool, error) {
	if s.Pool == nil {
		return false, errors.New("user: pool not configured")
	}
	var ok bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM addresses WHERE id::text = $1 AND user_id::text = $2)`,
		strings.TrimSpace(addressID), strings.TrimSpace(userID)).Scan(&ok)
	return ok, err
}
