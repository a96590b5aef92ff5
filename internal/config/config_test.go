package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("trading:\n  symbols:\n    - BTCUSDT\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Analysis.MinScore != 0.65 {
		t.Fatalf("expected default min score 0.65, got %f", cfg.Analysis.MinScore)
	}
	w := cfg.Analysis.Weights
	if w.Trend != 0.30 || w.SmoothTrail != 0.25 || w.Liquidity != 0.20 || w.SmartMoney != 0.25 {
		t.Fatalf("unexpected default weights: %+v", w)
	}
	if cfg.Analysis.Trend.TrendPeriod != 200 {
		t.Fatalf("expected default trend period 200, got %d", cfg.Analysis.Trend.TrendPeriod)
	}
	if cfg.Risk.RiskPercent != 1.0 {
		t.Fatalf("expected default risk percent 1.0, got %f", cfg.Risk.RiskPercent)
	}
	if cfg.Executor.MaxSignalsPerDay != 1 {
		t.Fatalf("expected default daily limit 1, got %d", cfg.Executor.MaxSignalsPerDay)
	}
	if cfg.Executor.Futures.MinScore != 0.70 {
		t.Fatalf("expected default futures min score 0.70, got %f", cfg.Executor.Futures.MinScore)
	}
	if cfg.Storage.Type != "memory" {
		t.Fatalf("expected default storage type memory, got %q", cfg.Storage.Type)
	}
	if cfg.Trading.Interval != "1h" {
		t.Fatalf("expected default interval 1h, got %q", cfg.Trading.Interval)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
analysis:
  min_score: 0.75
risk:
  risk_percent: 2.5
executor:
  leverage: 10
storage:
  type: influxdb
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.MinScore != 0.75 {
		t.Fatalf("expected min score 0.75, got %f", cfg.Analysis.MinScore)
	}
	if cfg.Risk.RiskPercent != 2.5 {
		t.Fatalf("expected risk percent 2.5, got %f", cfg.Risk.RiskPercent)
	}
	if cfg.Executor.Leverage != 10 {
		t.Fatalf("expected leverage 10, got %d", cfg.Executor.Leverage)
	}
	if cfg.Storage.Type != "influxdb" {
		t.Fatalf("expected storage type influxdb, got %q", cfg.Storage.Type)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("trading: [broken"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
