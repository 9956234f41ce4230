package retry

import (
	"os"
	"strconv"
	"time"
)

// Default attempt ceiling for every network operation
const DefaultAttempts = 3

// Config holds retry configuration
type Config struct {
	Enabled      bool          // Enable/disable retry mechanism
	MaxAttempts  int           // Attempts including the first one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Maximum delay between attempts
}

// DefaultConfig is used when nothing is set in the environment
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  DefaultAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
	}
}

// LoadConfig loads retry configuration from environment variables
func LoadConfig() Config {
	def := DefaultConfig()
	return Config{
		Enabled:      getEnvAsBool("RETRY_ENABLED", def.Enabled),
		MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", def.MaxAttempts),
		InitialDelay: time.Duration(getEnvAsInt("RETRY_INITIAL_DELAY_MS", int(def.InitialDelay.Milliseconds()))) * time.Millisecond,
		MaxDelay:     time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", int(def.MaxDelay.Milliseconds()))) * time.Millisecond,
	}
}

// WithAttempts returns a copy of c with a different attempt ceiling
func (c Config) WithAttempts(attempts int) Config {
	c.MaxAttempts = attempts
	return c
}

// Helper: get bool from env
func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
