package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("expected default log level INFO, got %s", cfg.LogLevel)
	}
	if cfg.ArtifactStoreType != "fs" {
		t.Errorf("expected default artifact store fs, got %s", cfg.ArtifactStoreType)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POLICY_RULES_PATH", "/etc/cortex/rules.yaml")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected redis addr, got %s", cfg.RedisAddr)
	}
	if cfg.PolicyRulesPath != "/etc/cortex/rules.yaml" {
		t.Errorf("expected policy rules path, got %s", cfg.PolicyRulesPath)
	}
}
