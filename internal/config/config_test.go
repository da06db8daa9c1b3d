package config

import (
	"testing"
	"time"
)

func requireOpenAIKey(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
}

func TestLoad_FailsWithoutOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail when OPENAI_API_KEY is unset")
	}
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	requireOpenAIKey(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ARIApp != "crm_app" {
		t.Errorf("ARIApp = %q, want %q", cfg.ARIApp, "crm_app")
	}
	if cfg.ARIURL != "http://127.0.0.1:8088" {
		t.Errorf("ARIURL = %q, want default", cfg.ARIURL)
	}
	if cfg.MaxTurns != 15 {
		t.Errorf("MaxTurns = %d, want 15", cfg.MaxTurns)
	}
	if cfg.MinSilenceMs != 800*time.Millisecond {
		t.Errorf("MinSilenceMs = %v, want 800ms", cfg.MinSilenceMs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad_HonorsEnvironmentOverrides(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("ARI_APP", "custom_app")
	t.Setenv("MAX_TURNS", "7")
	t.Setenv("MIN_SILENCE_MS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ARIApp != "custom_app" {
		t.Errorf("ARIApp = %q, want %q", cfg.ARIApp, "custom_app")
	}
	if cfg.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7", cfg.MaxTurns)
	}
	if cfg.MinSilenceMs != 500*time.Millisecond {
		t.Errorf("MinSilenceMs = %v, want 500ms", cfg.MinSilenceMs)
	}
}

func TestLoad_IgnoresUnparseableIntOverride(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("MAX_TURNS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTurns != 15 {
		t.Errorf("MaxTurns = %d, want fallback default 15", cfg.MaxTurns)
	}
}

func TestValidate_RejectsInvertedPortRange(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("EXTERNAL_MEDIA_PORT_MIN", "40100")
	t.Setenv("EXTERNAL_MEDIA_PORT_MAX", "40000")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject an inverted external media port range")
	}
}

func TestValidate_RejectsZeroEarlyStableDeltaCount(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("EARLY_STABLE_DELTA_COUNT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject EARLY_STABLE_DELTA_COUNT < 1")
	}
}

func TestRequireWebhookURL_FailsWhenUnset(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("RUT_WEBHOOK_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.RequireWebhookURL(); err == nil {
		t.Error("expected RequireWebhookURL to fail when RUT_WEBHOOK_URL is unset")
	}
}

func TestRequireWebhookURL_PassesWhenSet(t *testing.T) {
	requireOpenAIKey(t)
	t.Setenv("RUT_WEBHOOK_URL", "https://example.com/hook")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.RequireWebhookURL(); err != nil {
		t.Errorf("RequireWebhookURL: %v", err)
	}
}
