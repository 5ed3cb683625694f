package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultCurrency, cfg.GatewayCurrency)
	assert.Equal(t, DefaultRetryMax, cfg.RetryMax)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, "linear", cfg.RetryBackoff)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTimeout)
	assert.Equal(t, 0.4, cfg.RiskVerifyThreshold)
	assert.Equal(t, 0.6, cfg.RiskReviewThreshold)
	assert.Equal(t, 0.8, cfg.RiskBlockThreshold)
	assert.Equal(t, float64(DefaultMaxDistanceKm), cfg.MaxExpectedDistanceKm)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HIGH_RISK_COUNTRIES", " kp, ir ,")
	t.Setenv("CHALLENGE_TIMEOUT", "90s")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("RETRY_BACKOFF", "Exponential")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.2")
	t.Setenv("GATEWAY_CURRENCY", "USD")
	t.Setenv("RISK_BLOCK_THRESHOLD", "0.9")
	t.Setenv("THREEDS_FLOOR", "5000")
	t.Setenv("ALLOWED_ORIGINS", "https://Pay.example.com, https://acs.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"KP", "IR"}, cfg.HighRiskCountries)
	assert.Equal(t, 90*time.Second, cfg.ChallengeTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "exponential", cfg.RetryBackoff)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.2"}, cfg.TrustedProxies)
	assert.Equal(t, "usd", cfg.GatewayCurrency)
	assert.Equal(t, 0.9, cfg.RiskBlockThreshold)
	assert.Equal(t, int64(5000), cfg.ThreeDSFloor)
	assert.Equal(t, []string{"https://Pay.example.com", "https://acs.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RETRY_MAX", "many")
	t.Setenv("CHALLENGE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryMax, cfg.RetryMax)
	assert.Equal(t, DefaultChallengeTimeout, cfg.ChallengeTimeout)
}

func TestLoad_RejectsNonMonotonicThresholds(t *testing.T) {
	t.Setenv("RISK_REVIEW_THRESHOLD", "0.9")
	t.Setenv("RISK_BLOCK_THRESHOLD", "0.7")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify <= review <= block")
}

func valid() Config {
	return Config{
		RiskVerifyThreshold: 0.4,
		RiskReviewThreshold: 0.6,
		RiskBlockThreshold:  0.8,
		ChallengeTimeout:    time.Minute,
		ThreeDSFloor:        1,
		ThreeDSCeiling:      2,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold above one", func(c *Config) { c.RiskBlockThreshold = 1.5 }, "[0, 1]"},
		{"negative retries", func(c *Config) { c.RetryMax = -1 }, "RETRY_MAX"},
		{"unknown backoff", func(c *Config) { c.RetryBackoff = "fibonacci" }, "RETRY_BACKOFF"},
		{"zero timeout", func(c *Config) { c.ChallengeTimeout = 0 }, "CHALLENGE_TIMEOUT"},
		{"floor above ceiling", func(c *Config) { c.ThreeDSFloor = 3 }, "THREEDS_FLOOR"},
		{"resolver without placeholder", func(c *Config) { c.GeoResolverURL = "http://geo.local/json" }, "{ip}"},
		{"issuer without origin", func(c *Config) { c.ThreeDSIssuerURL = "https://acs.local" }, "THREEDS_EXPECTED_ORIGIN"},
		{"production issuer without secret", func(c *Config) {
			c.Env = "production"
			c.ThreeDSIssuerURL = "https://acs.local"
			c.ThreeDSExpectedOrigin = "https://acs.local"
		}, "THREEDS_SIGNING_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.True(t, (&Config{Env: "production"}).IsProduction())
	assert.False(t, (&Config{Env: "staging"}).IsProduction())
}
