package config

import (
	"os"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `candleflow:
  name: "TestApp"
  version: "1.0"
chart:
  symbol: "ethusdt"
  interval: "5m"
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("CHART_SYMBOL", "")
	t.Setenv("CHART_INTERVAL", "")

	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Candleflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Candleflow.Name)
	}
	if cfg.Chart.Symbol != "ETHUSDT" {
		t.Errorf("symbol not upper-cased: %s", cfg.Chart.Symbol)
	}
	if cfg.Chart.Interval != "5m" {
		t.Errorf("unexpected interval: %s", cfg.Chart.Interval)
	}
	// Unspecified sections fall back to defaults.
	if cfg.Viewport.DefaultVisible != 100 {
		t.Errorf("unexpected default_visible: %d", cfg.Viewport.DefaultVisible)
	}
	if cfg.Footprint.MaxLevels != 80 {
		t.Errorf("unexpected max_levels: %d", cfg.Footprint.MaxLevels)
	}
	if cfg.Ledger.LiveRingCapacity != 1000 {
		t.Errorf("unexpected live_ring_capacity: %d", cfg.Ledger.LiveRingCapacity)
	}
}

func TestLoadConfigRejectsUnknownInterval(t *testing.T) {
	t.Setenv("CHART_INTERVAL", "")

	path := writeTempConfig(t, `candleflow:
  name: "TestApp"
  version: "1.0"
chart:
  symbol: "BTCUSDT"
  interval: "42x"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown interval")
	}
}

func TestLoadConfigEnvOverridesSelection(t *testing.T) {
	t.Setenv("CHART_SYMBOL", "solusdt")
	t.Setenv("CHART_INTERVAL", "15m")

	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Chart.Symbol != "SOLUSDT" {
		t.Errorf("env symbol override not applied: %s", cfg.Chart.Symbol)
	}
	if cfg.Chart.Interval != "15m" {
		t.Errorf("env interval override not applied: %s", cfg.Chart.Interval)
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	paths := map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	}

	t.Setenv(appEnvVar, "prod")
	if got := resolveEnvSpecificPath("", defaultConfigPath, paths); got != "config/config.production.yml" {
		t.Errorf("prod alias not resolved: %s", got)
	}
	if got := resolveEnvSpecificPath("custom.yml", defaultConfigPath, paths); got != "custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}

	t.Setenv(appEnvVar, "")
	if got := appEnvironment(); got != environmentDevelopment {
		t.Errorf("unset APP_ENV should default to development, got %s", got)
	}
	if got := resolveEnvSpecificPath("", defaultConfigPath, paths); got != defaultConfigPath {
		t.Errorf("development should keep the default path: %s", got)
	}
}

func TestValidateConfigBounds(t *testing.T) {
	t.Setenv("CHART_SYMBOL", "")
	t.Setenv("CHART_INTERVAL", "")

	cases := []struct {
		name    string
		content string
	}{
		{"value area above one", minimalConfig + `footprint:
  value_area_fraction: 1.5
`},
		{"default visible out of clamp", minimalConfig + `viewport:
  min_visible: 50
  max_visible: 100
  default_visible: 10
`},
		{"zero debounce", minimalConfig + `stream:
  trade_debounce: 0s
`},
	}
	for _, c := range cases {
		path := writeTempConfig(t, c.content)
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
		os.Remove(path)
	}
}
