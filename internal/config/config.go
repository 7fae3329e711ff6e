package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CRMBASE_"

// Config carries every tunable the service reads from the environment.
type Config struct {
	Env             string
	Addr            string
	PGDSN           string
	ShutdownTimeout time.Duration

	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	BcryptCost int

	RateBurst  int
	RatePerSec int

	MaxBodyBytes int64
}

// Load reads configuration from the environment, preferring an optional
// .env file for local development. Secrets are validated up front so a
// misconfigured instance refuses to start instead of issuing weak tokens.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:             getenv("ENV", "development"),
		Addr:            getenv("ADDR", ":8080"),
		PGDSN:           getenv("PG_DSN", ""),
		ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AccessSecret:    getenv("JWT_ACCESS_SECRET", ""),
		RefreshSecret:   getenv("JWT_REFRESH_SECRET", ""),
		Issuer:          getenv("JWT_ISSUER", "crmbase"),
		Audience:        getenv("JWT_AUDIENCE", "crmbase-app"),
		AccessTTL:       duration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:      duration("JWT_REFRESH_TTL", 30*24*time.Hour),
		BcryptCost:      integer("BCRYPT_COST", 12),
		RateBurst:       integer("RATE_BURST", 50),
		RatePerSec:      integer("RATE_PER_SEC", 25),
		MaxBodyBytes:    int64(integer("MAX_BODY_BYTES", 1<<20)),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.AccessSecret) < 32 {
		return errors.New("config: CRMBASE_JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.RefreshSecret) < 32 {
		return errors.New("config: CRMBASE_JWT_REFRESH_SECRET must be at least 32 bytes")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.Issuer == "" || c.Audience == "" {
		return errors.New("config: issuer and audience are required")
	}
	if c.BcryptCost < 10 || c.BcryptCost > 15 {
		return fmt.Errorf("config: bcrypt cost %d outside supported range 10..15", c.BcryptCost)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	return nil
}

// Development reports whether error responses may include internal detail.
func (c Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func integer(key string, fallback int) int {
	raw := getenv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
