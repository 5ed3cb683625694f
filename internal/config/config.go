// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage (all optional, in-memory when unset)
	DatabaseURL string
	RedisURL    string

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM   int
	AdminSecret    string
	AllowedOrigins []string // CORS and websocket origins; empty allows all
	// TrustedProxies may set X-Forwarded-For. Empty trusts none, so the
	// client IP is the connection's.
	TrustedProxies []string

	// ReceiptSigningSecret enables signed authorization receipts.
	ReceiptSigningSecret string

	// Payment gateway
	StripeSecretKey string // sandbox gateway when empty
	GatewayCurrency string
	RetryMax        int
	RetryBaseDelay  time.Duration
	RetryBackoff    string // "linear" or "exponential"

	// Geolocation
	GeoResolverURL        string // must contain {ip}
	HighRiskCountries     []string
	MediumRiskCountries   []string
	MaxExpectedDistanceKm float64

	// 3-D Secure
	ThreeDSIssuerURL      string
	ThreeDSExpectedOrigin string
	ThreeDSSigningSecret  string
	ThreeDSPolicyFile     string // Rego policy; threshold policy when empty
	ThreeDSFloor          int64
	ThreeDSCeiling        int64

	// Challenges
	ChallengeTimeout  time.Duration
	OTPResendCooldown time.Duration

	// Risk thresholds over the consolidated score
	RiskVerifyThreshold float64
	RiskReviewThreshold float64
	RiskBlockThreshold  float64
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultRateLimit         = 120
	DefaultCurrency          = "jpy"
	DefaultRetryMax          = 3
	DefaultRetryBaseDelay    = time.Second
	DefaultRetryBackoff      = "linear"
	DefaultMaxDistanceKm     = 500
	DefaultThreeDSFloor      = 3000
	DefaultThreeDSCeiling    = 100000
	DefaultChallengeTimeout  = 5 * time.Minute
	DefaultOTPResendCooldown = 60 * time.Second
	DefaultVerifyThreshold   = 0.4
	DefaultReviewThreshold   = 0.6
	DefaultBlockThreshold    = 0.8
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:        splitList(os.Getenv("ALLOWED_ORIGINS")),
		TrustedProxies:        splitList(os.Getenv("TRUSTED_PROXIES")),
		ReceiptSigningSecret:  os.Getenv("RECEIPT_SIGNING_SECRET"),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		GatewayCurrency:       strings.ToLower(getEnv("GATEWAY_CURRENCY", DefaultCurrency)),
		RetryMax:              int(getEnvInt64("RETRY_MAX", DefaultRetryMax)),
		RetryBaseDelay:        getEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		RetryBackoff:          strings.ToLower(getEnv("RETRY_BACKOFF", DefaultRetryBackoff)),
		GeoResolverURL:        os.Getenv("GEO_RESOLVER_URL"),
		HighRiskCountries:     getEnvList("HIGH_RISK_COUNTRIES"),
		MediumRiskCountries:   getEnvList("MEDIUM_RISK_COUNTRIES"),
		MaxExpectedDistanceKm: getEnvFloat("MAX_EXPECTED_DISTANCE_KM", DefaultMaxDistanceKm),
		ThreeDSIssuerURL:      os.Getenv("THREEDS_ISSUER_URL"),
		ThreeDSExpectedOrigin: os.Getenv("THREEDS_EXPECTED_ORIGIN"),
		ThreeDSSigningSecret:  os.Getenv("THREEDS_SIGNING_SECRET"),
		ThreeDSPolicyFile:     os.Getenv("THREEDS_POLICY_FILE"),
		ThreeDSFloor:          getEnvInt64("THREEDS_FLOOR", DefaultThreeDSFloor),
		ThreeDSCeiling:        getEnvInt64("THREEDS_CEILING", DefaultThreeDSCeiling),
		ChallengeTimeout:      getEnvDuration("CHALLENGE_TIMEOUT", DefaultChallengeTimeout),
		OTPResendCooldown:     getEnvDuration("OTP_RESEND_COOLDOWN", DefaultOTPResendCooldown),
		RiskVerifyThreshold:   getEnvFloat("RISK_VERIFY_THRESHOLD", DefaultVerifyThreshold),
		RiskReviewThreshold:   getEnvFloat("RISK_REVIEW_THRESHOLD", DefaultReviewThreshold),
		RiskBlockThreshold:    getEnvFloat("RISK_BLOCK_THRESHOLD", DefaultBlockThreshold),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.RiskVerifyThreshold < 0 || c.RiskBlockThreshold > 1 {
		return fmt.Errorf("risk thresholds must lie in [0, 1]")
	}
	if c.RiskVerifyThreshold > c.RiskReviewThreshold || c.RiskReviewThreshold > c.RiskBlockThreshold {
		return fmt.Errorf("risk thresholds must satisfy verify <= review <= block, got %.2f/%.2f/%.2f",
			c.RiskVerifyThreshold, c.RiskReviewThreshold, c.RiskBlockThreshold)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative")
	}
	switch c.RetryBackoff {
	case "", "linear", "exponential":
	default:
		return fmt.Errorf("RETRY_BACKOFF must be linear or exponential, got %q", c.RetryBackoff)
	}
	if c.ChallengeTimeout <= 0 {
		return fmt.Errorf("CHALLENGE_TIMEOUT must be positive")
	}
	if c.ThreeDSFloor > c.ThreeDSCeiling {
		return fmt.Errorf("THREEDS_FLOOR must not exceed THREEDS_CEILING")
	}
	if c.GeoResolverURL != "" && !strings.Contains(c.GeoResolverURL, "{ip}") {
		return fmt.Errorf("GEO_RESOLVER_URL must contain {ip}")
	}
	if c.ThreeDSIssuerURL != "" && c.ThreeDSExpectedOrigin == "" {
		return fmt.Errorf("THREEDS_EXPECTED_ORIGIN is required when THREEDS_ISSUER_URL is set")
	}
	if c.IsProduction() && c.ThreeDSIssuerURL != "" && c.ThreeDSSigningSecret == "" {
		return fmt.Errorf("THREEDS_SIGNING_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated list, upper-casing country codes.
func getEnvList(key string) []string {
	list := splitList(os.Getenv(key))
	for i, p := range list {
		list[i] = strings.ToUpper(p)
	}
	return list
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
