package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

var (
	// ErrInvalidSignature is returned when a payment proof fails verification.
	ErrInvalidSignature = errors.New("payment signature invalid")
	// ErrNotCaptured is returned when the gateway reports the payment as not completed.
	ErrNotCaptured = errors.New("payment not captured")
)

// OrderRequest opens a gateway session for a fixed amount.
type OrderRequest struct {
	Amount   int64
	Currency string
	// Receipt is our reference for the session; checkout passes the intent id.
	Receipt string
	Notes   map[string]string
}

// GatewayOrder is the session the client completes payment against.
type GatewayOrder struct {
	Provider     string `json:"provider"`
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// PaymentProof is what the client receives from the gateway on success.
type PaymentProof struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

// Gateway abstracts the payment processor.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, proof PaymentProof) error
}

// Instrumented adds spans and metrics around a Gateway.
type Instrumented struct {
	Gateway Gateway
}

func (g Instrumented) Name() string { return g.Gateway.Name() }

// CreateOrder delegates to the wrapped gateway and records the outcome.
func (g Instrumented) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	provider := g.Gateway.Name()
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "Gateway.CreateOrder")
	defer span.End()
	start := time.Now()

	out, err := g.Gateway.CreateOrder(ctx, req)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("payment.provider", provider),
		attribute.Int64("payment.amount", req.Amount),
		attribute.String("payment.receipt", req.Receipt),
		attribute.String("payment.result", result),
	)
	if obs.GatewayOrdersTotal != nil {
		obs.GatewayOrdersTotal.WithLabelValues(provider, result).Inc()
	}
	if obs.GatewayLatency != nil {
		obs.GatewayLatency.WithLabelValues(provider, "create_order").Observe(obs.DurationMillis(time.Since(start)))
	}
	return out, err
}

// VerifyPayment delegates to the wrapped gateway inside a span.
func (g Instrumented) VerifyPayment(ctx context.Context, proof PaymentProof) error {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "Gateway.VerifyPayment")
	defer span.End()
	start := time.Now()
	err := g.Gateway.VerifyPayment(ctx, proof)
	span.SetAttributes(
		attribute.String("payment.provider", g.Gateway.Name()),
		attribute.String("payment.gateway_order_id", proof.GatewayOrderID),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if obs.GatewayLatency != nil {
		obs.GatewayLatency.WithLabelValues(g.Gateway.Name(), "verify_payment").Observe(obs.DurationMillis(time.Since(start)))
	}
	return err
}

// Guarded runs gateway calls through a circuit breaker. It is used for SDK
// backed gateways that do not go through resilience.HTTPClient.
type Guarded struct {
	Gateway Gateway
	Breaker *resilience.Breaker
}

// NewGuarded wraps g with breaker. Signature and capture failures are payment
// outcomes, not gateway faults, and do not count against the breaker.
func NewGuarded(g Gateway, breaker *resilience.Breaker) Guarded {
	breaker.IsFailure = IsGatewayFault
	return Guarded{Gateway: g, Breaker: breaker}
}

func (g Guarded) Name() string { return g.Gateway.Name() }

func (g Guarded) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	var out GatewayOrder
	err := g.Breaker.Guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.Gateway.CreateOrder(ctx, req)
		return err
	})
	return out, err
}

func (g Guarded) VerifyPayment(ctx context.Context, proof PaymentProof) error {
	return g.Breaker.Guard(ctx, func(ctx context.Context) error {
		return g.Gateway.VerifyPayment(ctx, proof)
	})
}

// IsGatewayFault reports whether err reflects gateway unavailability rather
// than a rejected payment.
func IsGatewayFault(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrNotCaptured)
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "INR"
	}
	return currency
}
