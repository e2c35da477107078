package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

type memStore struct {
	coupons []Coupon
	lists   int
	gets    int
}

func (m *memStore) ListActive(context.Context) ([]Coupon, error) {
	m.lists++
	return append([]Coupon(nil), m.coupons...), nil
}

func (m *memStore) GetByCode(_ context.Context, code string) (Coupon, error) {
	m.gets++
	for _, c := range m.coupons {
		if c.Rules.Code == code {
			return c, nil
		}
	}
	return Coupon{}, ErrNotFound
}

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleCoupons() []Coupon {
	return []Coupon{
		{ID: uuid.New(), Rules: pricing.CouponRules{Code: "WELCOME", Type: pricing.DiscountFixed, Value: 5_000}},
		{ID: uuid.New(), Rules: pricing.CouponRules{Code: "SHOES10", Type: pricing.DiscountPercentage, Value: 10,
			Scope: pricing.Scope{CategoryID: ptr("shoes")}}},
		{ID: uuid.New(), Rules: pricing.CouponRules{Code: "BIGSPEND", Type: pricing.DiscountFixed, Value: 10_000, MinOrder: 100_000}},
		{ID: uuid.New(), Rules: pricing.CouponRules{Code: "OLD", Type: pricing.DiscountFixed, Value: 1_000,
			ExpiresAt: ptr(fixedNow.Add(-time.Hour))}},
	}
}

func TestIsApplicable(t *testing.T) {
	unscoped := pricing.CouponRules{}
	require.True(t, IsApplicable(unscoped, nil))

	scoped := pricing.CouponRules{Scope: pricing.Scope{CategoryID: ptr("X"), SubCategoryID: ptr("Y")}}
	require.False(t, IsApplicable(scoped, []pricing.LineMeta{{CategoryID: "X"}, {SubCategoryID: "Y"}}))
	require.True(t, IsApplicable(scoped, []pricing.LineMeta{{CategoryID: "A"}, {CategoryID: "X", SubCategoryID: "Y"}}))
}

func TestValidate(t *testing.T) {
	rules := pricing.CouponRules{MinOrder: 1_000, ExpiresAt: ptr(fixedNow)}
	require.ErrorIs(t, Validate(rules, fixedNow, 999), ErrMinimumSpendUnmet)
	require.NoError(t, Validate(rules, fixedNow, 1_000))
	require.ErrorIs(t, Validate(rules, fixedNow.Add(time.Second), 5_000), ErrCouponExpired)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "SAVE10", Normalize("  save10 "))
	require.Equal(t, "", Normalize("   "))
}

func TestAvailableFiltersByScopeAndRules(t *testing.T) {
	svc := &Service{Store: &memStore{coupons: sampleCoupons()}, Now: func() time.Time { return fixedNow }}

	got, err := svc.Available(context.Background(), []pricing.LineMeta{{CategoryID: "bags"}}, 20_000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "WELCOME", got[0].Code())

	got, err = svc.Available(context.Background(), []pricing.LineMeta{{CategoryID: "shoes"}}, 150_000)
	require.NoError(t, err)
	codes := make([]string, 0, len(got))
	for _, c := range got {
		codes = append(codes, c.Code())
	}
	require.Equal(t, []string{"WELCOME", "SHOES10", "BIGSPEND"}, codes)
}

func TestResolve(t *testing.T) {
	svc := &Service{Store: &memStore{coupons: sampleCoupons()}, Now: func() time.Time { return fixedNow }}
	ctx := context.Background()

	rules, err := svc.Resolve(ctx, " shoes10", []pricing.LineMeta{{CategoryID: "shoes"}}, 20_000)
	require.NoError(t, err)
	require.Equal(t, int64(10), rules.Value)

	_, err = svc.Resolve(ctx, "SHOES10", []pricing.LineMeta{{CategoryID: "bags"}}, 20_000)
	require.ErrorIs(t, err, ErrNotApplicable)

	_, err = svc.Resolve(ctx, "missing", nil, 20_000)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Resolve(ctx, "old", nil, 20_000)
	require.ErrorIs(t, err, ErrCouponExpired)

	_, err = svc.Resolve(ctx, "", nil, 20_000)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCachedStoreServesRepeatReadsFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &memStore{coupons: sampleCoupons()}
	cached := CachedStore{Next: backing, Redis: client, TTL: time.Minute}
	ctx := context.Background()

	first, err := cached.GetByCode(ctx, "SHOES10")
	require.NoError(t, err)
	second, err := cached.GetByCode(ctx, "SHOES10")
	require.NoError(t, err)
	require.Equal(t, 1, backing.gets)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "shoes", *second.Rules.Scope.CategoryID)
	require.Equal(t, pricing.DiscountPercentage, second.Rules.Type)

	_, err = cached.GetByCode(ctx, "NOPE")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = cached.GetByCode(ctx, "NOPE")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 3, backing.gets)

	_, err = cached.ListActive(ctx)
	require.NoError(t, err)
	list, err := cached.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	require.Equal(t, 1, backing.lists)

	mr.FastForward(2 * time.Minute)
	_, err = cached.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, backing.lists)
}
