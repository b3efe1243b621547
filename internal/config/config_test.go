package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PRODUCT_CACHE_TTL_SECONDS", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ProductCacheTTLSeconds != 30 {
		t.Fatalf("expected default cache ttl 30, got %d", cfg.ProductCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRODUCT_CACHE_TTL_SECONDS", "120")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.ProductCacheTTLSeconds != 120 {
		t.Fatalf("expected cache ttl 120, got %d", cfg.ProductCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
