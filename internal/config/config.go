package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	// Observability
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64

	// Auth: tokens are issued by an external identity provider.
	JWTSecret    string
	JWTJWKSURL   string
	JWTIssuer    string
	JWTAudience  string
	JWTClockSkew time.Duration

	// Pricing
	Currency              string
	FreeDeliveryThreshold int64
	DeliveryFee           int64
	SplitDelivery         bool
	AllocationMode        string

	// Checkout orchestration
	OrderRetryAttempts int
	OrderRetryBase     time.Duration
	CheckoutLockTTL    time.Duration
	IdempotencyTTL     time.Duration
	IntentAbandonAfter time.Duration
	IntentSweepEvery   time.Duration
	CouponCacheTTL     time.Duration
	RateLimitPerMinute int
	MaxBodyBytes       int64

	// Payment gateway
	PaymentProvider     string
	RazorpayKeyID       string
	RazorpayKeySecret   string
	RazorpayBaseURL     string
	StripeSecretKey     string
	GatewayTimeout      time.Duration
	GatewayMaxAttempts  int
	GatewayBreakerOpen  time.Duration
	GatewayBreakerRatio float64

	// Notifications
	EmailEnabled      bool
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFrom          string
	SMTPInsecure      bool
	ConversionEnabled bool
	ConversionURL     string
	ConversionToken   string
	QueuePrefix       string
	QueueConcurrency  int
	QueueMaxAttempts  int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "storefront"),
		TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), true),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     k.String("OBS_OTLP_ENDPOINT"),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),

		JWTSecret:    k.String("JWT_SECRET"),
		JWTJWKSURL:   k.String("JWT_JWKS_URL"),
		JWTIssuer:    k.String("JWT_ISSUER"),
		JWTAudience:  k.String("JWT_AUDIENCE"),
		JWTClockSkew: parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),

		Currency:              strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "INR")),
		FreeDeliveryThreshold: parseInt64(k.String("PRICING_FREE_DELIVERY_THRESHOLD"), 49_900),
		DeliveryFee:           parseInt64(k.String("PRICING_DELIVERY_FEE"), 4_900),
		SplitDelivery:         parseBool(k.String("PRICING_SPLIT_DELIVERY")),
		AllocationMode:        valueOrDefault(k.String("PRICING_ALLOCATION_MODE"), "largest_remainder"),

		OrderRetryAttempts: parseInt(k.String("ORDER_RETRY_ATTEMPTS"), 3),
		OrderRetryBase:     parseDuration(k.String("ORDER_RETRY_BASE"), "1s"),
		CheckoutLockTTL:    parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		IntentAbandonAfter: parseDuration(k.String("INTENT_ABANDON_AFTER"), "24h"),
		IntentSweepEvery:   parseDuration(k.String("INTENT_SWEEP_INTERVAL"), "15m"),
		CouponCacheTTL:     parseDuration(k.String("COUPON_CACHE_TTL"), "1m"),
		RateLimitPerMinute: parseInt(k.String("CHECKOUT_RATE_LIMIT_PER_MINUTE"), 20),
		MaxBodyBytes:       parseInt64(k.String("HTTP_MAX_BODY_BYTES"), 1<<20),

		PaymentProvider:     strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "mock")),
		RazorpayKeyID:       k.String("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:   k.String("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:     valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),
		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		GatewayTimeout:      parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayMaxAttempts:  parseInt(k.String("GATEWAY_MAX_ATTEMPTS"), 2),
		GatewayBreakerOpen:  parseDuration(k.String("GATEWAY_BREAKER_OPEN_FOR"), "30s"),
		GatewayBreakerRatio: parseFloat(k.String("GATEWAY_BREAKER_FAILURE_RATIO"), 0.5),

		EmailEnabled:      parseBool(k.String("NOTIFY_EMAIL_ENABLED")),
		SMTPHost:          k.String("SMTP_HOST"),
		SMTPPort:          parseInt(k.String("SMTP_PORT"), 587),
		SMTPUsername:      k.String("SMTP_USERNAME"),
		SMTPPassword:      k.String("SMTP_PASSWORD"),
		SMTPFrom:          k.String("SMTP_FROM"),
		SMTPInsecure:      parseBool(k.String("SMTP_INSECURE")),
		ConversionEnabled: parseBool(k.String("CONVERSION_ENABLED")),
		ConversionURL:     k.String("CONVERSION_ENDPOINT"),
		ConversionToken:   k.String("CONVERSION_ACCESS_TOKEN"),
		QueuePrefix:       valueOrDefault(k.String("QUEUE_PREFIX"), "storefront"),
		QueueConcurrency:  parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueMaxAttempts:  parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" && cfg.JWTJWKSURL == "" {
		return nil, errors.New("JWT_SECRET or JWT_JWKS_URL is required")
	}
	switch cfg.PaymentProvider {
	case "mock":
		if cfg.AppEnv == "production" {
			return nil, errors.New("PAYMENT_PROVIDER=mock is not allowed in production")
		}
	case "razorpay":
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
			return nil, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
		}
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required")
		}
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	if cfg.EmailEnabled && (cfg.SMTPHost == "" || cfg.SMTPFrom == "") {
		return nil, errors.New("SMTP_HOST and SMTP_FROM are required when NOTIFY_EMAIL_ENABLED")
	}
	if cfg.ConversionEnabled && cfg.ConversionURL == "" {
		return nil, errors.New("CONVERSION_ENDPOINT is required when CONVERSION_ENABLED")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return n
	}
	return fallback
}

func parseInt64(value string, fallback int64) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
		return n
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return f
	}
	return fallback
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
