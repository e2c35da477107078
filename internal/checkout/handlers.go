package checkout

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/coupon"
	"github.com/noah-isme/storefront-checkout/internal/payment"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// CouponLister lists coupons applicable to a cart.
type CouponLister interface {
	Available(ctx context.Context, items []pricing.LineMeta, subtotal pricing.Money) ([]coupon.Coupon, error)
}

type Handler struct {
	Svc      *Service
	Coupons  CouponLister
	Validate *validator.Validate
}

type callbackRequest struct {
	GatewayOrderID string `json:"gatewayOrderId" validate:"required,max=128"`
	PaymentID      string `json:"paymentId" validate:"omitempty,max=128"`
	Signature      string `json:"signature" validate:"omitempty,max=256"`
}

type couponView struct {
	Code        string        `json:"code"`
	Description string        `json:"description"`
	Type        string        `json:"type"`
	Value       int64         `json:"value"`
	MinOrder    pricing.Money `json:"minOrder"`
	Discount    pricing.Money `json:"discount"`
}

type outcomeView struct {
	Outcome
	State string `json:"state"`
}

type initiationView struct {
	Initiation
	State string `json:"state"`
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return Session{}, false
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return Session{}, false
	}
	var req SessionRequest
	if err := common.DecodeJSON(r, h.Validate, &req); err != nil {
		h.writeError(w, err)
		return Session{}, false
	}
	sess, err := h.Svc.LoadSession(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err)
		return Session{}, false
	}
	return sess, true
}

// Quote prices the caller's cart or buy-now line.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	q, err := h.Svc.Quote(r.Context(), sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, q)
}

// AvailableCoupons lists coupons the caller's cart qualifies for.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	if h.Coupons == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	lines := sess.Lines()
	amounts, metas := cart.Amounts(lines)
	var subtotal pricing.Money
	for _, a := range amounts {
		subtotal += a
	}
	coupons, err := h.Coupons.Available(r.Context(), metas, subtotal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]couponView, 0, len(coupons))
	for _, c := range coupons {
		rules := c.Rules
		views = append(views, couponView{
			Code:        c.Code(),
			Description: c.Description,
			Type:        rules.Type.String(),
			Value:       rules.Value,
			MinOrder:    rules.MinOrder,
			Discount:    pricing.CouponDiscount(amounts, &rules, metas),
		})
	}
	common.Data(w, http.StatusOK, views)
}

// Initiate opens a payment for the caller's checkout.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.Initiate(r.Context(), sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, initiationView{Initiation: out, State: out.State.String()})
}

// PaymentCallback completes a checkout after the client reports a successful payment.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req callbackRequest
	if err := common.DecodeJSON(r, h.Validate, &req); err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.Svc.CompletePayment(r.Context(), PaymentCallback{
		UserID: userID,
		PaymentProof: payment.PaymentProof{
			GatewayOrderID: req.GatewayOrderID,
			PaymentID:      req.PaymentID,
			Signature:      req.Signature,
		},
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, outcomeView{Outcome: out, State: out.State.String()})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var (
		preErr  *PreconditionError
		gwErr   *GatewayError
		ordrErr *OrderCreationError
	)
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr, http.StatusBadRequest)
		return
	}
	switch {
	case errors.As(err, &preErr):
		common.JSONError(w, http.StatusBadRequest, preconditionCode(preErr.Err), preErr.Err.Error(), nil)
	case errors.As(err, &gwErr) && !payment.IsGatewayFault(gwErr.Err):
		common.JSONError(w, http.StatusPaymentRequired, "PAYMENT_REJECTED", err.Error(), map[string]any{"provider": gwErr.Provider, "op": gwErr.Op})
	case errors.As(err, &gwErr):
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", err.Error(), map[string]any{"provider": gwErr.Provider, "op": gwErr.Op})
	case errors.As(err, &ordrErr):
		common.JSONError(w, http.StatusBadGateway, "ORDER_CREATION_FAILED", ordrErr.Error(), map[string]any{"attempts": ordrErr.Attempts})
	case errors.Is(err, ErrSessionNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, cart.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func preconditionCode(err error) string {
	switch {
	case errors.Is(err, ErrNoAddress):
		return "ADDRESS_REQUIRED"
	case errors.Is(err, ErrEmptyCart):
		return "CART_EMPTY"
	case errors.Is(err, ErrUserMissing):
		return "USER_MISSING"
	case errors.Is(err, ErrZeroTotal):
		return "ZERO_TOTAL"
	}
	return "PRECONDITION_FAILED"
}
