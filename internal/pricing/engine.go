package pricing

import (
	"fmt"
	"strings"
	"time"
)

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// DiscountType enumerates how a coupon value is interpreted.
type DiscountType int

const (
	// DiscountPercentage treats the coupon value as percentage points of the eligible base.
	DiscountPercentage DiscountType = iota + 1
	// DiscountFixed treats the coupon value as an absolute amount in minor units.
	DiscountFixed
)

func (t DiscountType) String() string {
	switch t {
	case DiscountPercentage:
		return "percentage"
	case DiscountFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// ParseDiscountType converts a stored discount type label into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "percentage", "percent":
		return DiscountPercentage, nil
	case "fixed", "flat":
		return DiscountFixed, nil
	default:
		return 0, fmt.Errorf("pricing: unknown discount type %q", value)
	}
}

// Scope restricts which line items a coupon discount applies to. Nil fields are wildcards.
type Scope struct {
	CategoryID    *string `json:"categoryId,omitempty"`
	SubCategoryID *string `json:"subCategoryId,omitempty"`
	ProductTypeID *string `json:"productTypeId,omitempty"`
}

// Unscoped reports whether every scope field is a wildcard.
func (s Scope) Unscoped() bool {
	return s.CategoryID == nil && s.SubCategoryID == nil && s.ProductTypeID == nil
}

// Matches reports whether the item satisfies every non-nil scope field.
func (s Scope) Matches(item LineMeta) bool {
	if s.CategoryID != nil && *s.CategoryID != item.CategoryID {
		return false
	}
	if s.SubCategoryID != nil && *s.SubCategoryID != item.SubCategoryID {
		return false
	}
	if s.ProductTypeID != nil && *s.ProductTypeID != item.ProductTypeID {
		return false
	}
	return true
}

// CouponRules captures the parts of a coupon needed for price calculation.
type CouponRules struct {
	Code        string       `json:"code"`
	Type        DiscountType `json:"type"`
	Value       int64        `json:"value"`
	MaxDiscount *Money       `json:"maxDiscount,omitempty"`
	MinOrder    Money        `json:"minOrder"`
	Scope       Scope        `json:"scope"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
}

// LineMeta carries the catalogue attributes a coupon scope is matched against.
type LineMeta struct {
	CategoryID    string `json:"categoryId"`
	SubCategoryID string `json:"subCategoryId"`
	ProductTypeID string `json:"productTypeId"`
}

// Breakdown aggregates computed pricing components for a cart.
type Breakdown struct {
	Items    Money `json:"items"`
	Discount Money `json:"discount"`
	Coupon   Money `json:"coupon"`
	Delivery Money `json:"delivery"`
	Total    Money `json:"total"`
}

// WithMRPDiscount records savings already baked into unit prices. Total is unaffected.
func (b Breakdown) WithMRPDiscount(savings Money) Breakdown {
	if savings < 0 {
		savings = 0
	}
	b.Discount = savings
	return b
}

// Policy holds the delivery fee schedule.
type Policy struct {
	FreeDeliveryThreshold Money
	DeliveryFee           Money
}

// DefaultPolicy charges ₹49 delivery below ₹499.
var DefaultPolicy = Policy{FreeDeliveryThreshold: 49_900, DeliveryFee: 4_900}

// CalculateTotalPriceWithCoupon prices a cart using DefaultPolicy.
func CalculateTotalPriceWithCoupon(lineAmounts []Money, coupon *CouponRules, items []LineMeta) Breakdown {
	return DefaultPolicy.CalculateTotalPriceWithCoupon(lineAmounts, coupon, items)
}

// CalculateTotalPriceWithCoupon computes subtotal, coupon discount, delivery and grand total.
// lineAmounts[i] is unitPrice*quantity of item i and items[i] carries its scope attributes.
func (p Policy) CalculateTotalPriceWithCoupon(lineAmounts []Money, coupon *CouponRules, items []LineMeta) Breakdown {
	var subtotal Money
	for _, amount := range lineAmounts {
		subtotal += amount
	}
	discount := CouponDiscount(lineAmounts, coupon, items)
	if discount > subtotal {
		discount = subtotal
	}
	delivery := p.Delivery(subtotal)
	total := subtotal - discount + delivery
	if total < 0 {
		total = 0
	}
	return Breakdown{
		Items:    subtotal,
		Coupon:   discount,
		Delivery: delivery,
		Total:    total,
	}
}

// Delivery returns the delivery fee owed for the given pre-coupon subtotal.
func (p Policy) Delivery(subtotal Money) Money {
	if subtotal >= p.FreeDeliveryThreshold {
		return 0
	}
	return p.DeliveryFee
}

// DiscountBase sums the line amounts whose items match the coupon scope.
func DiscountBase(lineAmounts []Money, scope Scope, items []LineMeta) Money {
	var base Money
	for i, amount := range lineAmounts {
		var meta LineMeta
		if i < len(items) {
			meta = items[i]
		} else if !scope.Unscoped() {
			continue
		}
		if scope.Matches(meta) {
			base += amount
		}
	}
	return base
}

// CouponDiscount evaluates the coupon against the eligible base. A coupon matching
// no line yields zero rather than an error.
func CouponDiscount(lineAmounts []Money, coupon *CouponRules, items []LineMeta) Money {
	if coupon == nil {
		return 0
	}
	base := DiscountBase(lineAmounts, coupon.Scope, items)
	if base <= 0 {
		return 0
	}
	var discount Money
	switch coupon.Type {
	case DiscountPercentage:
		discount = roundDiv(base*coupon.Value, 100)
		if coupon.MaxDiscount != nil && *coupon.MaxDiscount >= 0 && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case DiscountFixed:
		discount = coupon.Value
	default:
		return 0
	}
	if discount > base {
		discount = base
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// roundDiv divides rounding half away from zero.
func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	q := num / den
	r := num % den
	if r < 0 {
		r = -r
	}
	if 2*r >= abs(den) {
		if (num < 0) != (den < 0) {
			q--
		} else {
			q++
		}
	}
	return q
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
