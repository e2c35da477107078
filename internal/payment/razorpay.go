package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

const razorpayDefaultBaseURL = "https://api.razorpay.com"

// Razorpay opens orders through the Razorpay Orders API and verifies the
// checkout signature the client returns on success.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    resilience.HTTPClient
}

func (Razorpay) Name() string { return "razorpay" }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a Razorpay order for the amount in paise.
func (r Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if strings.TrimSpace(r.KeyID) == "" || strings.TrimSpace(r.KeySecret) == "" {
		return GatewayOrder{}, errors.New("razorpay: credentials not configured")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("razorpay: amount must be positive, got %d", req.Amount)
	}
	body, err := json.Marshal(map[string]any{
		"amount":   req.Amount,
		"currency": currencyOrDefault(req.Currency),
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL()+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(r.KeyID, r.KeySecret)

	resp, err := r.Client.Do(ctx, httpReq)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayOrder{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr razorpayError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return GatewayOrder{}, fmt.Errorf("razorpay: %s: %s", apiErr.Error.Code, apiErr.Error.Description)
		}
		return GatewayOrder{}, fmt.Errorf("razorpay: unexpected status %d", resp.StatusCode)
	}
	var order razorpayOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: decode order: %w", err)
	}
	if order.ID == "" {
		return GatewayOrder{}, errors.New("razorpay: response missing order id")
	}
	return GatewayOrder{Provider: r.Name(), ID: order.ID, Amount: order.Amount, Currency: order.Currency}, nil
}

// VerifyPayment checks HMAC-SHA256(order_id|payment_id) against the signature.
func (r Razorpay) VerifyPayment(_ context.Context, proof PaymentProof) error {
	if proof.GatewayOrderID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return ErrInvalidSignature
	}
	expected := r.Sign(proof.GatewayOrderID, proof.PaymentID)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(proof.Signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the checkout signature for an order and payment pair.
func (r Razorpay) Sign(orderID, paymentID string) string {
	if strings.TrimSpace(r.KeySecret) == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(r.KeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (r Razorpay) baseURL() string {
	if base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/"); base != "" {
		return base
	}
	return razorpayDefaultBaseURL
}
