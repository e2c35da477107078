package checkout

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// PaymentMethodGateway marks orders paid through the online payment gateway.
const PaymentMethodGateway = "gateway"

// CartLine is a priced cart item as seen by checkout.
type CartLine = cart.Line

// AllocationMode selects how the cart coupon is spread across brand groups.
type AllocationMode int

const (
	// AllocateLargestRemainder floors each share and hands the leftover units to the
	// largest fractional parts. Shares always sum to the cart coupon.
	AllocateLargestRemainder AllocationMode = iota
	// AllocateProportional rounds each share to two decimals and truncates it.
	// Shares may drift from the cart coupon by up to one unit per group.
	AllocateProportional
)

func (m AllocationMode) String() string {
	if m == AllocateProportional {
		return "proportional"
	}
	return "largest_remainder"
}

// ParseAllocationMode maps a config value to an AllocationMode.
func ParseAllocationMode(value string) (AllocationMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "largest_remainder", "exact":
		return AllocateLargestRemainder, nil
	case "proportional":
		return AllocateProportional, nil
	default:
		return 0, fmt.Errorf("checkout: unknown allocation mode %q", value)
	}
}

// PartitionOptions tunes how shared amounts land on brand orders.
type PartitionOptions struct {
	Allocation AllocationMode
	// SplitDelivery charges the delivery fee once across groups instead of on every group.
	SplitDelivery bool
}

// PartitionInput carries the checkout-wide fields stamped on every group.
type PartitionInput struct {
	UserID         string
	AddressID      string
	GatewayOrderID string
	IntentID       uuid.UUID
	Options        PartitionOptions
}

// GroupItem is the denormalized product data an order is created from.
type GroupItem struct {
	ProductID  string        `json:"productId"`
	VariantID  *string       `json:"variantId,omitempty"`
	SKU        string        `json:"sku"`
	Price      pricing.Money `json:"price"`
	Quantity   int           `json:"quantity"`
	BrandID    string        `json:"brandId"`
	CategoryID string        `json:"categoryId"`
}

// BrandOrderGroup is one seller's share of a checkout. Each group becomes one order.
type BrandOrderGroup struct {
	BrandID         string        `json:"brandId"`
	Items           []GroupItem   `json:"items"`
	TotalAmount     pricing.Money `json:"totalAmount"`
	DiscountAmount  pricing.Money `json:"discountAmount"`
	DeliveryAmount  pricing.Money `json:"deliveryAmount"`
	UserID          string        `json:"userId"`
	AddressID       string        `json:"addressId"`
	PaymentMethod   string        `json:"paymentMethod"`
	GatewayOrderID  string        `json:"gatewayOrderId"`
	IntentID        uuid.UUID     `json:"intentId"`
	ShipmentOrderID *string       `json:"shipmentOrderId"`
	ShipmentID      *string       `json:"shipmentId"`
}

// PartitionByBrand groups lines by brand in first-seen order and allocates the
// coupon discount and delivery fee of the breakdown across the groups.
func PartitionByBrand(items []CartLine, breakdown pricing.Breakdown, in PartitionInput) ([]BrandOrderGroup, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	index := make(map[string]int)
	var groups []BrandOrderGroup
	for _, line := range items {
		i, ok := index[line.BrandID]
		if !ok {
			i = len(groups)
			index[line.BrandID] = i
			groups = append(groups, BrandOrderGroup{
				BrandID:        line.BrandID,
				UserID:         in.UserID,
				AddressID:      in.AddressID,
				PaymentMethod:  PaymentMethodGateway,
				GatewayOrderID: in.GatewayOrderID,
				IntentID:       in.IntentID,
			})
		}
		g := &groups[i]
		g.Items = append(g.Items, GroupItem{
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			SKU:        line.SKU,
			Price:      line.UnitPrice,
			Quantity:   line.Quantity,
			BrandID:    line.BrandID,
			CategoryID: line.CategoryID,
		})
		g.TotalAmount += line.Amount()
	}

	weights := make([]pricing.Money, len(groups))
	for i, g := range groups {
		weights[i] = g.TotalAmount
	}

	var discounts []pricing.Money
	if breakdown.Items > 0 && breakdown.Coupon > 0 {
		switch in.Options.Allocation {
		case AllocateProportional:
			discounts = proportionalShares(breakdown.Coupon, breakdown.Items, weights)
		default:
			discounts = largestRemainder(breakdown.Coupon, weights)
		}
	}
	var deliveries []pricing.Money
	if in.Options.SplitDelivery {
		deliveries = largestRemainder(breakdown.Delivery, weights)
	}

	for i := range groups {
		if discounts != nil {
			groups[i].DiscountAmount = discounts[i]
		}
		if in.Options.SplitDelivery {
			groups[i].DeliveryAmount = deliveries[i]
		} else {
			groups[i].DeliveryAmount = breakdown.Delivery
		}
	}
	return groups, nil
}

// proportionalShares computes amount*w/denominator per weight, rounded to two
// decimals and then truncated to whole units.
func proportionalShares(amount, denominator pricing.Money, weights []pricing.Money) []pricing.Money {
	out := make([]pricing.Money, len(weights))
	den := decimal.NewFromInt(denominator)
	for i, w := range weights {
		share := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w)).Div(den).Round(2)
		out[i] = share.IntPart()
	}
	return out
}

// largestRemainder splits amount across weights so the shares sum to amount exactly.
// Ties go to the earlier weight. With all-zero weights the first share takes everything.
func largestRemainder(amount pricing.Money, weights []pricing.Money) []pricing.Money {
	out := make([]pricing.Money, len(weights))
	if len(weights) == 0 || amount == 0 {
		return out
	}
	var total pricing.Money
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		out[0] = amount
		return out
	}
	den := decimal.NewFromInt(total)
	remainders := make([]decimal.Decimal, len(weights))
	allocated := pricing.Money(0)
	for i, w := range weights {
		q, r := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w)).QuoRem(den, 0)
		out[i] = q.IntPart()
		remainders[i] = r
		allocated += out[i]
	}
	for left := amount - allocated; left > 0; left-- {
		best := -1
		for i := range remainders {
			if best == -1 || remainders[i].GreaterThan(remainders[best]) {
				best = i
			}
		}
		out[best]++
		remainders[best] = decimal.NewFromInt(-1)
	}
	return out
}
