package events

import "github.com/google/uuid"

// Topic constants for domain events emitted by checkout.
const (
	TopicCheckoutInitiated = "checkout.initiated"
	TopicPurchaseCompleted = "purchase.completed"
)

// DefaultTopics returns the topics notifiers subscribe to.
func DefaultTopics() []string {
	return []string{TopicCheckoutInitiated, TopicPurchaseCompleted}
}

// CheckoutInitiated is the payload of TopicCheckoutInitiated.
type CheckoutInitiated struct {
	IntentID       uuid.UUID       `json:"intentId"`
	UserID         string          `json:"userId"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	Provider       string          `json:"provider"`
	Total          int64           `json:"total"`
	Currency       string          `json:"currency"`
	CouponCode     string          `json:"couponCode,omitempty"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Items          []PurchasedItem `json:"items"`
}

// PurchasedItem is one line of a checkout or completed purchase.
type PurchasedItem struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku"`
	BrandID   string `json:"brandId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// PurchaseCompleted is the payload of TopicPurchaseCompleted.
type PurchaseCompleted struct {
	IntentID       uuid.UUID       `json:"intentId"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	OrderIDs       []uuid.UUID     `json:"orderIds"`
	UserID         string          `json:"userId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Total          int64           `json:"total"`
	Currency       string          `json:"currency"`
	Items          []PurchasedItem `json:"items"`
}
