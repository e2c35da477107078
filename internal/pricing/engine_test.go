package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func moneyPtr(v Money) *Money { return &v }

func TestCalculateWithoutCoupon(t *testing.T) {
	cases := [][]Money{
		{100},
		{20_000, 5_000},
		{50_000, 50_000},
		{49_899},
	}
	for _, lines := range cases {
		var sum Money
		for _, l := range lines {
			sum += l
		}
		got := CalculateTotalPriceWithCoupon(lines, nil, make([]LineMeta, len(lines)))
		require.Equal(t, Money(0), got.Coupon)
		require.Equal(t, sum, got.Items)
		require.Equal(t, sum+DefaultPolicy.Delivery(sum), got.Total)
	}
}

func TestPercentageCouponCappedAtMaxDiscount(t *testing.T) {
	coupon := &CouponRules{Type: DiscountPercentage, Value: 50, MaxDiscount: moneyPtr(1_000)}
	got := CalculateTotalPriceWithCoupon([]Money{5_000}, coupon, []LineMeta{{}})
	require.Equal(t, Money(1_000), got.Coupon)
	require.Equal(t, Money(5_000-1_000)+DefaultPolicy.DeliveryFee, got.Total)
}

func TestFixedCouponClampedToSubtotal(t *testing.T) {
	coupon := &CouponRules{Type: DiscountFixed, Value: 10_000}
	got := CalculateTotalPriceWithCoupon([]Money{3_000}, coupon, []LineMeta{{}})
	require.Equal(t, Money(3_000), got.Coupon)
	require.Equal(t, DefaultPolicy.DeliveryFee, got.Total)
	require.GreaterOrEqual(t, got.Total, Money(0))
}

func TestScopedCouponWithoutMatchIsNoop(t *testing.T) {
	coupon := &CouponRules{Type: DiscountPercentage, Value: 20, Scope: Scope{CategoryID: strPtr("X")}}
	items := []LineMeta{{CategoryID: "Y"}, {CategoryID: "Y"}}
	got := CalculateTotalPriceWithCoupon([]Money{10_000, 2_000}, coupon, items)
	require.Equal(t, Money(0), got.Coupon)
	require.Equal(t, Money(12_000)+DefaultPolicy.DeliveryFee, got.Total)
}

func TestScopeRequiresAllFieldsOnSameItem(t *testing.T) {
	scope := Scope{CategoryID: strPtr("shoes"), ProductTypeID: strPtr("sneaker")}
	items := []LineMeta{
		{CategoryID: "shoes", ProductTypeID: "boot"},
		{CategoryID: "bags", ProductTypeID: "sneaker"},
		{CategoryID: "shoes", ProductTypeID: "sneaker"},
	}
	require.Equal(t, Money(300), DiscountBase([]Money{100, 200, 300}, scope, items))
}

func TestFreeDeliveryThreshold(t *testing.T) {
	p := Policy{FreeDeliveryThreshold: 50_000, DeliveryFee: 4_000}
	at := p.CalculateTotalPriceWithCoupon([]Money{50_000}, nil, []LineMeta{{}})
	require.Equal(t, Money(0), at.Delivery)
	below := p.CalculateTotalPriceWithCoupon([]Money{49_999}, nil, []LineMeta{{}})
	require.Equal(t, Money(4_000), below.Delivery)
	require.Equal(t, Money(53_999), below.Total)
}

func TestScenarioSingleItemAboveThreshold(t *testing.T) {
	got := CalculateTotalPriceWithCoupon([]Money{50_000 * 2}, nil, []LineMeta{{}})
	require.Equal(t, Breakdown{Items: 100_000, Total: 100_000}, got)
}

func TestScenarioCategoryPercentageCoupon(t *testing.T) {
	coupon := &CouponRules{Type: DiscountPercentage, Value: 10, Scope: Scope{CategoryID: strPtr("shoes")}}
	got := CalculateTotalPriceWithCoupon([]Money{20_000}, coupon, []LineMeta{{CategoryID: "shoes"}})
	require.Equal(t, Money(2_000), got.Coupon)
	require.Equal(t, Money(18_000)+DefaultPolicy.DeliveryFee, got.Total)
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	coupon := &CouponRules{Type: DiscountPercentage, Value: 15}
	// 15% of 1_003 = 150.45 -> 150; 15% of 1_010 = 151.5 -> 152
	require.Equal(t, Money(150), CouponDiscount([]Money{1_003}, coupon, []LineMeta{{}}))
	require.Equal(t, Money(152), CouponDiscount([]Money{1_010}, coupon, []LineMeta{{}}))
}

func TestParseDiscountType(t *testing.T) {
	typ, err := ParseDiscountType(" Percent ")
	require.NoError(t, err)
	require.Equal(t, DiscountPercentage, typ)
	typ, err = ParseDiscountType("flat")
	require.NoError(t, err)
	require.Equal(t, DiscountFixed, typ)
	_, err = ParseDiscountType("bogo")
	require.Error(t, err)
}
