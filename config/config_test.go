package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"kiwoom": {"app_key": "key", "secret_key": "secret"}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.TradingConfig.SessionCutoff != "15:20:00" {
		t.Errorf("SessionCutoff = %q, want default 15:20:00", cfg.TradingConfig.SessionCutoff)
	}
	if cfg.TradingConfig.StopLossBullPct != -3.5 || cfg.TradingConfig.StopLossBreakoutPct != -1.5 {
		t.Errorf("stop tiers: bull=%v breakout=%v", cfg.TradingConfig.StopLossBullPct,
			cfg.TradingConfig.StopLossBreakoutPct)
	}
	if cfg.SignalConfig.MinNotional != 50_000_000 {
		t.Errorf("MinNotional = %v, want 50M default", cfg.SignalConfig.MinNotional)
	}
	if cfg.ScannerConfig.RescanIntervalSec != 1800 {
		t.Errorf("RescanIntervalSec = %v, want 1800", cfg.ScannerConfig.RescanIntervalSec)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"kiwoom": {"app_key": "key", "secret_key": "secret"},
		"trading": {"budget_ratio": 0.2, "pending_timeout_sec": 45, "session_cutoff": "15:00:00"}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.TradingConfig.BudgetRatio != 0.2 {
		t.Errorf("BudgetRatio = %v, want 0.2", cfg.TradingConfig.BudgetRatio)
	}
	if cfg.TradingConfig.PendingTimeoutSec != 45 {
		t.Errorf("PendingTimeoutSec = %v, want 45", cfg.TradingConfig.PendingTimeoutSec)
	}
	if cfg.TradingConfig.SessionCutoff != "15:00:00" {
		t.Errorf("SessionCutoff = %q, want 15:00:00", cfg.TradingConfig.SessionCutoff)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("KIWOOM_APP_KEY", "env-key")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("DRY_RUN", "1")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.KiwoomConfig.AppKey != "env-key" {
		t.Errorf("AppKey = %q, want env override", cfg.KiwoomConfig.AppKey)
	}
	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("Host = %q, want env override", cfg.DatabaseConfig.Host)
	}
	if !cfg.TradingConfig.DryRun {
		t.Error("DRY_RUN=1 should enable dry run")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing credentials",
			body: `{}`,
		},
		{
			name: "budget ratio above one",
			body: `{"kiwoom": {"app_key": "k", "secret_key": "s"}, "trading": {"budget_ratio": 1.5}}`,
		},
		{
			name: "unparseable cutoff",
			body: `{"kiwoom": {"app_key": "k", "secret_key": "s"}, "trading": {"session_cutoff": "3pm"}}`,
		},
		{
			name: "zero pending timeout",
			body: `{"kiwoom": {"app_key": "k", "secret_key": "s"}, "trading": {"pending_timeout_sec": 0}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSessionCutoffParses(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cutoff, err := cfg.SessionCutoff()
	if err != nil {
		t.Fatalf("cutoff: %v", err)
	}
	if cutoff.Hour() != 15 || cutoff.Minute() != 20 || cutoff.Second() != 0 {
		t.Errorf("cutoff = %v, want 15:20:00", cutoff)
	}
}

func TestRuntimeReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rt := NewRuntime(path, cfg)

	if err := os.WriteFile(path, []byte(`{broken`), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	if err := rt.Reload(); err == nil {
		t.Fatal("expected reload error for corrupt file")
	}
	if rt.Current() != cfg {
		t.Error("failed reload must keep the previous snapshot")
	}
}

func TestRuntimeReloadSwapsSnapshot(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rt := NewRuntime(path, cfg)

	updated := `{
		"kiwoom": {"app_key": "key", "secret_key": "secret"},
		"trading": {"budget_ratio": 0.25}
	}`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if err := rt.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := rt.Current().TradingConfig.BudgetRatio; got != 0.25 {
		t.Errorf("BudgetRatio after reload = %v, want 0.25", got)
	}
}
