package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

const couponColumns = `id, code, description, discount_type, value, max_discount, min_order,
category_id, sub_category_id, product_type_id, expires_at`

// PGStore reads coupons from Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// ListActive returns every active coupon ordered by code.
func (s PGStore) ListActive(ctx context.Context) ([]Coupon, error) {
	if s.Pool == nil {
		return nil, errors.New("coupon: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+couponColumns+` FROM coupons WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByCode fetches an active coupon by its normalized code.
func (s PGStore) GetByCode(ctx context.Context, code string) (Coupon, error) {
	if s.Pool == nil {
		return Coupon{}, errors.New("coupon: pool not configured")
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 AND active`, code)
	c, err := scanCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrNotFound
	}
	return c, err
}

func scanCoupon(row pgx.Row) (Coupon, error) {
	var (
		c            Coupon
		discountType string
		maxDiscount  *int64
		expiresAt    *time.Time
	)
	err := row.Scan(&c.ID, &c.Rules.Code, &c.Description, &discountType, &c.Rules.Value, &maxDiscount,
		&c.Rules.MinOrder, &c.Rules.Scope.CategoryID, &c.Rules.Scope.SubCategoryID, &c.Rules.Scope.ProductTypeID, &expiresAt)
	if err != nil {
		return Coupon{}, err
	}
	typ, err := pricing.ParseDiscountType(discountType)
	if err != nil {
		return Coupon{}, fmt.Errorf("coupon %s: %w", c.Rules.Code, err)
	}
	c.Rules.Type = typ
	c.Rules.MaxDiscount = maxDiscount
	c.Rules.ExpiresAt = expiresAt
	return c, nil
}

// CachedStore caches another Store in Redis. Entries expire by TTL only.
type CachedStore struct {
	Next   Store
	Redis  *redis.Client
	TTL    time.Duration
	Prefix string
}

// ListActive serves the active coupon list from cache when present.
func (s CachedStore) ListActive(ctx context.Context) ([]Coupon, error) {
	var cached []Coupon
	if s.get(ctx, s.key("active"), &cached) {
		return cached, nil
	}
	list, err := s.Next.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	s.put(ctx, s.key("active"), list)
	return list, nil
}

// GetByCode serves a single coupon from cache when present. Misses are not cached.
func (s CachedStore) GetByCode(ctx context.Context, code string) (Coupon, error) {
	key := s.key("code:" + code)
	var cached Coupon
	if s.get(ctx, key, &cached) {
		return cached, nil
	}
	c, err := s.Next.GetByCode(ctx, code)
	if err != nil {
		return Coupon{}, err
	}
	s.put(ctx, key, c)
	return c, nil
}

func (s CachedStore) key(suffix string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "coupon"
	}
	return prefix + ":" + suffix
}

func (s CachedStore) get(ctx context.Context, key string, dst any) bool {
	if s.Redis == nil {
		return false
	}
	raw, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (s CachedStore) put(ctx context.Context, key string, v any) {
	if s.Redis == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	_ = s.Redis.Set(ctx, key, raw, ttl).Err()
}

var _ Store = PGStore{}
var _ Store = CachedStore{}
