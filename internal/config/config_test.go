package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":     "postgres://localhost/checkout",
		"REDIS_URL":        "redis://localhost:6379/0",
		"JWT_SECRET":       "secret",
		"PAYMENT_PROVIDER": "",
		"APP_ENV":          "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "mock", cfg.PaymentProvider)
	require.Equal(t, "INR", cfg.Currency)
	require.Equal(t, int64(49_900), cfg.FreeDeliveryThreshold)
	require.Equal(t, int64(4_900), cfg.DeliveryFee)
	require.False(t, cfg.SplitDelivery)
	require.Equal(t, 3, cfg.OrderRetryAttempts)
	require.Equal(t, time.Second, cfg.OrderRetryBase)
	require.Equal(t, 24*time.Hour, cfg.IntentAbandonAfter)
	require.True(t, cfg.TracingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PAYMENT_PROVIDER"] = "Razorpay"
	env["RAZORPAY_KEY_ID"] = "rzp_test"
	env["RAZORPAY_KEY_SECRET"] = "s"
	env["PRICING_SPLIT_DELIVERY"] = "true"
	env["ORDER_RETRY_BASE"] = "250ms"
	env["ORDER_RETRY_ATTEMPTS"] = "5"
	env["OBS_ENABLE_TRACING"] = "off"
	env["CORS_ALLOWED_ORIGINS"] = "https://shop.example, https://admin.example"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "razorpay", cfg.PaymentProvider)
	require.True(t, cfg.SplitDelivery)
	require.Equal(t, 250*time.Millisecond, cfg.OrderRetryBase)
	require.Equal(t, 5, cfg.OrderRetryAttempts)
	require.False(t, cfg.TracingEnabled)
	require.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	env := baseEnv()
	env["PAYMENT_PROVIDER"] = "stripe"
	env["STRIPE_SECRET_KEY"] = ""
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "STRIPE_SECRET_KEY")

	env = baseEnv()
	env["APP_ENV"] = "production"
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "mock")

	env = baseEnv()
	env["JWT_SECRET"] = ""
	env["JWT_JWKS_URL"] = ""
	_, err = LoadForTests(env)
	require.ErrorContains(t, err, "JWT_SECRET")
}
