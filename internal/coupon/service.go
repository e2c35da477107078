package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// Store reads coupon records.
type Store interface {
	ListActive(ctx context.Context) ([]Coupon, error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
}

// Service answers coupon questions for a priced cart. It never mutates coupons.
type Service struct {
	Store  Store
	Now    func() time.Time
	Logger zerolog.Logger
}

// Available lists active coupons that apply to the cart and pass validation.
func (s *Service) Available(ctx context.Context, items []pricing.LineMeta, subtotal pricing.Money) ([]Coupon, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("coupon service not configured")
	}
	all, err := s.Store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	now := s.now()
	out := make([]Coupon, 0, len(all))
	for _, c := range all {
		if !IsApplicable(c.Rules, items) {
			continue
		}
		if Validate(c.Rules, now, subtotal) != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Resolve looks up a coupon by code and checks it against the cart.
func (s *Service) Resolve(ctx context.Context, code string, items []pricing.LineMeta, subtotal pricing.Money) (pricing.CouponRules, error) {
	if s == nil || s.Store == nil {
		return pricing.CouponRules{}, errors.New("coupon service not configured")
	}
	normalized := Normalize(code)
	if normalized == "" {
		return pricing.CouponRules{}, ErrNotFound
	}
	c, err := s.Store.GetByCode(ctx, normalized)
	if err != nil {
		return pricing.CouponRules{}, err
	}
	if !IsApplicable(c.Rules, items) {
		return pricing.CouponRules{}, ErrNotApplicable
	}
	if err := Validate(c.Rules, s.now(), subtotal); err != nil {
		return pricing.CouponRules{}, err
	}
	s.logger(ctx).Debug().Str("coupon", normalized).Msg("coupon_resolved")
	return c.Rules, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}
