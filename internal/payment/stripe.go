package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Stripe opens a PaymentIntent per checkout. The PaymentIntent id is the gateway order id.
type Stripe struct {
	intents stripePaymentIntentAPI
}

// NewStripe builds a Stripe gateway from a secret key.
func NewStripe(secretKey string, backends *stripe.Backends) (*Stripe, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	sc := client.New(secretKey, backends)
	return &Stripe{intents: sc.PaymentIntents}, nil
}

func (*Stripe) Name() string { return "stripe" }

// CreateOrder creates a PaymentIntent for the amount and returns its client secret.
func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if s == nil || s.intents == nil {
		return GatewayOrder{}, errors.New("stripe: gateway not configured")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(currencyOrDefault(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Receipt != "" {
		params.AddMetadata("receipt", req.Receipt)
		params.SetIdempotencyKey("checkout-" + req.Receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	pi, err := s.intents.New(params)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return GatewayOrder{
		Provider:     s.Name(),
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

// VerifyPayment retrieves the PaymentIntent and requires it to have succeeded.
func (s *Stripe) VerifyPayment(ctx context.Context, proof PaymentProof) error {
	if s == nil || s.intents == nil {
		return errors.New("stripe: gateway not configured")
	}
	if strings.TrimSpace(proof.GatewayOrderID) == "" {
		return ErrInvalidSignature
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(proof.GatewayOrderID, params)
	if err != nil {
		return fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: status %s", ErrNotCaptured, pi.Status)
	}
	return nil
}
