package checkout

import (
	"github.com/noah-isme/storefront-checkout/internal/user"
)

// Session is everything a checkout needs, gathered up front so the service
// never reads request-scoped state of its own.
type Session struct {
	UserID    string
	User      *user.Customer
	AddressID string
	Items     []CartLine
	// BuyNow replaces the cart with a single line when set.
	BuyNow     *CartLine
	CouponCode string
}

// Lines returns the lines being purchased.
func (s Session) Lines() []CartLine {
	if s.BuyNow != nil {
		return []CartLine{*s.BuyNow}
	}
	return s.Items
}

// Validate checks the preconditions for starting a payment.
func (s Session) Validate() error {
	if s.AddressID == "" {
		return &PreconditionError{Err: ErrNoAddress}
	}
	if len(s.Lines()) == 0 {
		return &PreconditionError{Err: ErrEmptyCart}
	}
	if s.User == nil {
		return &PreconditionError{Err: ErrUserMissing}
	}
	return nil
}

// SessionRequest is the client's description of a checkout.
type SessionRequest struct {
	AddressID  string         `json:"addressId" validate:"omitempty,max=64"`
	CouponCode string         `json:"couponCode" validate:"omitempty,max=64"`
	BuyNow     *BuyNowRequest `json:"buyNow" validate:"omitempty"`
}

// BuyNowRequest purchases one product directly, bypassing the cart.
type BuyNowRequest struct {
	ProductID string  `json:"productId" validate:"required,max=64"`
	VariantID *string `json:"variantId" validate:"omitempty,max=64"`
	Quantity  int     `json:"quantity" validate:"required,min=1,max=99"`
}
