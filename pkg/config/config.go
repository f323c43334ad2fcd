// Package config loads runtime configuration from environment variables.
package config

import "os"

// Config holds runtime configuration.
type Config struct {
	Port               string
	LogLevel           string
	DatabaseURL        string
	SQLitePath         string
	RedisAddr          string
	ArtifactStoreType  string
	PolicyRulesPath    string
	OTLPEndpoint       string
	OutboxSweepSeconds int
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		Port:               getenv("PORT", "8080"),
		LogLevel:           getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		ArtifactStoreType:  getenv("ARTIFACT_STORAGE_TYPE", "fs"),
		PolicyRulesPath:    os.Getenv("POLICY_RULES_PATH"),
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
		OutboxSweepSeconds: 5,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
