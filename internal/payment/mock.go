package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Mock is a deterministic, offline gateway for development.
// Order ids derive from the receipt; the expected signature is Mock.Sign.
type Mock struct{}

func (Mock) Name() string { return "mock" }

func (Mock) CreateOrder(_ context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("mock: amount must be positive")
	}
	sum := sha256.Sum256([]byte(req.Receipt))
	return GatewayOrder{
		Provider: "mock",
		ID:       "order_mock_" + hex.EncodeToString(sum[:8]),
		Amount:   req.Amount,
		Currency: currencyOrDefault(req.Currency),
	}, nil
}

func (m Mock) VerifyPayment(_ context.Context, proof PaymentProof) error {
	if proof.GatewayOrderID == "" || proof.Signature != m.Sign(proof.GatewayOrderID, proof.PaymentID) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature Mock accepts for the pair.
func (Mock) Sign(orderID, paymentID string) string {
	sum := sha256.Sum256([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(sum[:])
}
