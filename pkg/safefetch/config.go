package safefetch

import (
	"os"
	"strconv"
	"time"
)

// ConfigFromEnv builds a Config from MISSIOND_FETCH_* environment
// variables, clamping values into safe ranges.
func ConfigFromEnv() Config {
	config := DefaultConfig()

	if raw := os.Getenv("MISSIOND_FETCH_TIMEOUT"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil {
			config.Timeout = clampDuration(value, time.Second, 2*time.Minute)
		}
	}

	if raw := os.Getenv("MISSIOND_FETCH_MAX_REDIRECTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			config.MaxRedirects = clampInt(value, 0, 10)
		}
	}

	if raw := os.Getenv("MISSIOND_FETCH_MAX_RESPONSE_BYTES"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			config.MaxResponseBytes = clampInt64(value, 1024, 32<<20)
		}
	}

	return config
}

func clampDuration(value, minValue, maxValue time.Duration) time.Duration {
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

func clampInt64(value, minValue, maxValue int64) int64 {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
