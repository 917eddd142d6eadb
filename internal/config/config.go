package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "PassWallet"
	defaultAppEnv          = "development"
	defaultPort            = "3001"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultWalletURL       = "http://wallet.localhost:3001"
	defaultMerchantURL     = "http://store.localhost:3000"
	defaultOTPSendLimit    = 5
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	otpLimitEnvVar         = "OTP_SEND_LIMIT_PER_MINUTE"
	seedDemoEnvVar         = "SEED_DEMO"
	challengeTTLEnvVar     = "CHALLENGE_RECLAIM_TTL"
)

var (
	builtinWalletOrigins   = []string{"http://localhost:3001", "http://127.0.0.1:3001", "http://wallet.localhost:3001"}
	builtinMerchantOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName              string
	AppEnv               string
	Port                 string
	LogLevel             string
	DatabaseURL          string
	RedisURL             string
	ShutdownPeriod       time.Duration
	IdempotencyTTL       time.Duration
	ChallengeReclaimTTL  time.Duration
	WalletURL            string
	MerchantURL          string
	RPName               string
	ExtraWalletOrigins   []string
	ExtraMerchantOrigins []string
	OTPSendLimit         int
	SeedDemo             bool
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:              getEnv("APP_NAME", defaultAppName),
		AppEnv:               getEnv("APP_ENV", defaultAppEnv),
		Port:                 getEnv("PORT", defaultPort),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		ShutdownPeriod:       defaultShutdownDelay,
		IdempotencyTTL:       defaultIdempotencyTTL,
		WalletURL:            strings.TrimRight(getEnv("WALLET_URL", defaultWalletURL), "/"),
		MerchantURL:          strings.TrimRight(getEnv("MERCHANT_URL", defaultMerchantURL), "/"),
		RPName:               os.Getenv("RP_NAME"),
		ExtraWalletOrigins:   splitList(os.Getenv("WALLET_ORIGINS")),
		ExtraMerchantOrigins: splitList(os.Getenv("MERCHANT_ORIGINS")),
		OTPSendLimit:         defaultOTPSendLimit,
		SeedDemo:             true,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv(challengeTTLEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", challengeTTLEnvVar, err)
		}
		cfg.ChallengeReclaimTTL = d
	}

	if v := os.Getenv(otpLimitEnvVar); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", otpLimitEnvVar, err)
		}
		cfg.OTPSendLimit = limit
	}

	if v := os.Getenv(seedDemoEnvVar); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", seedDemoEnvVar, err)
		}
		cfg.SeedDemo = seed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints. Postgres and Redis may only be
// omitted in development, where in-memory stores take their place.
func (c Config) Validate() error {
	u, err := url.Parse(c.WalletURL)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return fmt.Errorf("invalid WALLET_URL %q", c.WalletURL)
	}
	if _, err := url.Parse(c.MerchantURL); err != nil {
		return fmt.Errorf("invalid MERCHANT_URL: %w", err)
	}

	if c.IsDev() {
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}

	return nil
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// RPID is the relying party identifier: the wallet's own hostname.
func (c Config) RPID() string {
	u, err := url.Parse(c.WalletURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// RPDisplayName falls back to the application name.
func (c Config) RPDisplayName() string {
	if c.RPName != "" {
		return c.RPName
	}
	return c.AppName
}

// WalletOrigin is the scheme://host[:port] of the wallet surface.
func (c Config) WalletOrigin() string {
	return originOf(c.WalletURL)
}

// AllowedOrigins lists the origins a ceremony response may assert.
func (c Config) AllowedOrigins() []string {
	list := append([]string{c.WalletOrigin()}, builtinWalletOrigins...)
	return dedupe(append(list, c.ExtraWalletOrigins...))
}

// MerchantOrigins lists the storefront origins allowed through CORS.
func (c Config) MerchantOrigins() []string {
	list := append([]string{originOf(c.MerchantURL)}, builtinMerchantOrigins...)
	return dedupe(append(list, c.ExtraMerchantOrigins...))
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
