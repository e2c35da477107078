package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

var (
	// ErrNotFound is returned when no active coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrNotApplicable indicates no cart item falls inside the coupon scope.
	ErrNotApplicable = errors.New("coupon not applicable to cart")
	// ErrMinimumSpendUnmet indicates the cart total did not meet the coupon requirement.
	ErrMinimumSpendUnmet = errors.New("coupon minimum spend not met")
	// ErrCouponExpired is returned when the coupon expiry has passed.
	ErrCouponExpired = errors.New("coupon expired")
)

// Coupon is a read-only promotional record.
type Coupon struct {
	ID          uuid.UUID           `json:"id"`
	Description string              `json:"description"`
	Rules       pricing.CouponRules `json:"rules"`
}

// Code returns the canonical coupon code.
func (c Coupon) Code() string { return c.Rules.Code }

// Normalize canonicalises a user-entered coupon code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsApplicable reports whether the coupon scope matches at least one cart item.
// An unscoped coupon applies to any cart.
func IsApplicable(rules pricing.CouponRules, items []pricing.LineMeta) bool {
	if rules.Scope.Unscoped() {
		return true
	}
	for _, item := range items {
		if rules.Scope.Matches(item) {
			return true
		}
	}
	return false
}

// Validate checks the spend threshold and expiry at the provided instant.
func Validate(rules pricing.CouponRules, now time.Time, cartTotal pricing.Money) error {
	if cartTotal < rules.MinOrder {
		return ErrMinimumSpendUnmet
	}
	if rules.ExpiresAt != nil && rules.ExpiresAt.Before(now) {
		return ErrCouponExpired
	}
	return nil
}
