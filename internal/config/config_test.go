package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "PLATFORM_FEE_PERCENT", "PLATFORM_FEE_PERCENTAGE", "FRAUD_BLOCK_SCORE", "VELOCITY_MIN_INTERVAL_SECONDS", "GATEWAY_CURRENCY"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.PlatformFeePercent != 2.0 {
		t.Fatalf("expected default fee percent 2.0, got %f", cfg.PlatformFeePercent)
	}
	if cfg.FraudBlockScore != 80 {
		t.Fatalf("expected default fraud block score 80, got %d", cfg.FraudBlockScore)
	}
	if cfg.VelocityMinIntervalSeconds != 30 {
		t.Fatalf("expected default velocity interval 30, got %d", cfg.VelocityMinIntervalSeconds)
	}
	if cfg.GatewayCurrency != "INR" {
		t.Fatalf("expected default currency INR, got %q", cfg.GatewayCurrency)
	}
	if !cfg.RunMigrations {
		t.Fatalf("expected migrations to run by default")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", "150")
	setEnvWithCleanup(t, "FRAUD_BLOCK_SCORE", "0")
	setEnvWithCleanup(t, "VELOCITY_MIN_INTERVAL_SECONDS", "-4")
	setEnvWithCleanup(t, "MAX_DONATION_AMOUNT", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeePercent != 100 {
		t.Fatalf("expected fee percent capped at 100, got %f", cfg.PlatformFeePercent)
	}
	if cfg.FraudBlockScore != 80 {
		t.Fatalf("expected fraud block score reset to 80, got %d", cfg.FraudBlockScore)
	}
	if cfg.VelocityMinIntervalSeconds != 30 {
		t.Fatalf("expected velocity interval reset to 30, got %d", cfg.VelocityMinIntervalSeconds)
	}
	if cfg.MaxDonationAmount != 1_000_000 {
		t.Fatalf("expected max donation reset to 1000000, got %d", cfg.MaxDonationAmount)
	}
}

func TestLoadConfig_GatewayKeyAliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "GATEWAY_KEY_ID")
	unsetEnvWithCleanup(t, "GATEWAY_KEY_SECRET")
	setEnvWithCleanup(t, "RAZORPAY_KEY_ID", "rzp_test_key")
	setEnvWithCleanup(t, "RAZORPAY_KEY_SECRET", " secret ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewayKeyID != "rzp_test_key" || cfg.GatewayKeySecret != "secret" {
		t.Fatalf("expected gateway keys from aliases, got %q/%q", cfg.GatewayKeyID, cfg.GatewayKeySecret)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "EVENTS_EXCHANGE")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EVENTS_EXCHANGE=custom.events\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv exports the file into the process environment.
	t.Cleanup(func() { _ = os.Unsetenv("EVENTS_EXCHANGE") })

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EventsExchange != "custom.events" {
		t.Fatalf("expected exchange from .env, got %q", cfg.EventsExchange)
	}
}

func TestAllowedOrigins(t *testing.T) {
	if got := (Config{}).AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard default, got %v", got)
	}
	got := Config{CORSAllowedOrigins: "https://a.example, ,https://b.example"}.AllowedOrigins()
	if len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
