package ledger

import (
	"os"
	"strconv"
	"time"

	"github.com/missiond/missiond/pkg/models"
)

// Config carries the ledger's concurrency and retry tunables. Values read
// from the environment are clamped into safe ranges.
type Config struct {
	PerUserInflightLimit int
	GlobalInflightLimit  int
	LeaseTTL             time.Duration
	Retry                models.RetryPolicy
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PerUserInflightLimit: 3,
		GlobalInflightLimit:  200,
		LeaseTTL:             15 * time.Minute,
		Retry:                models.DefaultRetryPolicy(),
	}
}

// ConfigFromEnv builds a Config from MISSIOND_* environment variables,
// falling back to defaults and clamping out-of-range values.
func ConfigFromEnv() Config {
	config := DefaultConfig()

	config.PerUserInflightLimit = envInt("MISSIOND_PER_USER_INFLIGHT", config.PerUserInflightLimit, 1, 100)
	config.GlobalInflightLimit = envInt("MISSIOND_GLOBAL_INFLIGHT", config.GlobalInflightLimit, 1, 10000)
	config.LeaseTTL = envDuration("MISSIOND_LEASE_TTL", config.LeaseTTL, 10*time.Second, time.Hour)
	config.Retry.BaseBackoff = envDuration("MISSIOND_BACKOFF_BASE", config.Retry.BaseBackoff, time.Second, time.Hour)
	config.Retry.MaxBackoff = envDuration("MISSIOND_BACKOFF_MAX", config.Retry.MaxBackoff, config.Retry.BaseBackoff, 24*time.Hour)

	return config
}

func envInt(name string, fallback, minValue, maxValue int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return clampInt(value, minValue, maxValue)
}

func envDuration(name string, fallback, minValue, maxValue time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}

func clampInt(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
