package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrNoAddress   = errors.New("a shipping address must be selected")
	ErrEmptyCart   = errors.New("cart is empty")
	ErrUserMissing = errors.New("user record not loaded")
	ErrZeroTotal   = errors.New("order total must be greater than zero")

	// ErrSessionNotFound is returned when a callback references an unknown gateway order.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrInvalidTransition guards the state machine.
	ErrInvalidTransition = errors.New("invalid checkout state transition")
)

// PreconditionError is raised before any side effect when checkout cannot start.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return "checkout precondition failed: " + e.Err.Error()
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// GatewayError covers session creation failures and rejected payment proofs.
// Gateway errors are never retried.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// OrderCreationError reports exhausted order creation retries. The message is
// the underlying error's message, unchanged.
type OrderCreationError struct {
	Attempts int
	Err      error
}

func (e *OrderCreationError) Error() string { return e.Err.Error() }

func (e *OrderCreationError) Unwrap() error { return e.Err }
