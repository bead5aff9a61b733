// Package config collects the environment-variable plumbing shared by both
// binaries. A .env file in the working directory is honored for local
// development; real deployments set the environment directly.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadDotenv loads a .env file if one exists. Missing files are fine.
func LoadDotenv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
}

// Getenv returns the value of key, or def when unset or empty.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetenvDuration parses key as a time.Duration, falling back to def on
// absence or a parse failure (the failure is logged, not swallowed silently).
func GetenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Error().Str("key", key).Str("value", v).Err(err).Msg("invalid duration, using default")
		return def
	}
	return d
}

// GetenvInt parses key as an int, falling back to def.
func GetenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Error().Str("key", key).Str("value", v).Err(err).Msg("invalid integer, using default")
		return def
	}
	return n
}
