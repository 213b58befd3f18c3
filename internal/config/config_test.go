package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DBDriver:        "postgres",
		DatabaseURL:     "postgres://localhost/heartpsalm",
		SecretKey:       "0123456789abcdef",
		CacheType:       "simple",
		AIProvider:      "mock",
		SongSearchLimit: 20,
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected config to validate, got %v", err)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.SecretKey = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short SECRET_KEY to fail")
	}
}

func TestValidateRejectsUnknownCacheType(t *testing.T) {
	cfg := validConfig()
	cfg.CacheType = "memcached"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown CACHE_TYPE to fail")
	}
}

func TestValidateAllowsMemoryDriverWithoutDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DBDriver = "memory"
	cfg.DatabaseURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected memory driver without DATABASE_URL to validate, got %v", err)
	}
}

func TestLoadFallsBackToLegacyDatabaseURI(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLALCHEMY_DATABASE_URI", "postgresql://legacy@localhost/legacy")
	t.Setenv("CACHE_DEFAULT_TIMEOUT", "120")

	cfg := Load()
	if cfg.DatabaseURL != "postgresql://legacy@localhost/legacy" {
		t.Fatalf("expected legacy database uri, got %q", cfg.DatabaseURL)
	}
	if cfg.CacheTTL() != 120*time.Second {
		t.Fatalf("expected cache ttl 120s, got %s", cfg.CacheTTL())
	}
}

func TestGetEnvCSVTrimsAndFallsBack(t *testing.T) {
	t.Setenv("CORS_TEST", " a , ,b ")
	got := getEnvCSV("CORS_TEST", []string{"fallback"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected csv parse: %#v", got)
	}

	t.Setenv("CORS_TEST", " , ")
	got = getEnvCSV("CORS_TEST", []string{"fallback"})
	if len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("expected fallback, got %#v", got)
	}
}
