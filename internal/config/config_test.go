package config

import (
	"reflect"
	"testing"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WALLET_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPID() != "wallet.localhost" {
		t.Fatalf("expected rp id wallet.localhost, got %q", cfg.RPID())
	}
	if cfg.WalletOrigin() != "http://wallet.localhost:3001" {
		t.Fatalf("unexpected wallet origin %q", cfg.WalletOrigin())
	}
	if cfg.Address() != ":3001" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.RPDisplayName() != "PassWallet" {
		t.Fatalf("unexpected rp name %q", cfg.RPDisplayName())
	}
}

func TestLoadRequiresStoresOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid shutdown timeout to fail")
	}
}

func TestAllowedOriginsDeduplicates(t *testing.T) {
	cfg := Config{
		WalletURL:          "http://localhost:3001/",
		ExtraWalletOrigins: []string{" https://pay.example.com/ ", "http://localhost:3001"},
	}

	got := cfg.AllowedOrigins()
	want := []string{
		"http://localhost:3001",
		"http://127.0.0.1:3001",
		"http://wallet.localhost:3001",
		"https://pay.example.com",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestMerchantOrigins(t *testing.T) {
	cfg := Config{MerchantURL: "http://store.localhost:3000"}
	got := cfg.MerchantOrigins()
	if len(got) != 3 || got[0] != "http://store.localhost:3000" {
		t.Fatalf("unexpected merchant origins %v", got)
	}
}
