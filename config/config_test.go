package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "backtest-test" || cfg.App.LogLevel != "debug" {
		t.Fatalf("unexpected app: %+v", cfg.App)
	}
	if cfg.Source.Kind != "sqlite" || cfg.Source.Pair != "ETH/USDT" || cfg.Source.Speed != 10 {
		t.Fatalf("unexpected source: %+v", cfg.Source)
	}
	s := cfg.Strategy
	if s.Bollinger.Length != 14 || s.Bollinger.Factor != 2.5 || s.Bollinger.MA != "EMA" {
		t.Fatalf("unexpected bollinger: %+v", s.Bollinger)
	}
	if s.DCANumMax != 5 || s.Leverage != 3 || !s.Bull || !s.Bear {
		t.Fatalf("unexpected strategy: %+v", s)
	}
	if s.Price.Kind != "linear" || s.Price.Value != 15 {
		t.Fatalf("unexpected price stepper: %+v", s.Price)
	}
	if cfg.Sinks.Redis.Addr != "redis:6379" || cfg.Sinks.Redis.MaxLen != 10000 {
		t.Fatalf("unexpected redis sink: %+v", cfg.Sinks.Redis)
	}
	// Untouched sections keep their defaults.
	if cfg.Source.Synth.Count != 5000 {
		t.Fatalf("synth defaults lost: %+v", cfg.Source.Synth)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "other:6380")
	t.Setenv("BACKTEST_SOURCE", "synth")
	t.Setenv("BACKTEST_SEED", "99")
	t.Setenv("BACKTEST_INITIAL_CASH", "1234.5")

	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sinks.Redis.Addr != "other:6380" {
		t.Errorf("REDIS_ADDR not applied: %s", cfg.Sinks.Redis.Addr)
	}
	if cfg.Source.Kind != "synth" || cfg.Source.Synth.Seed != 99 {
		t.Errorf("source overrides not applied: %+v", cfg.Source)
	}
	if cfg.Strategy.InitialCash != 1234.5 {
		t.Errorf("initial cash = %v", cfg.Strategy.InitialCash)
	}

	t.Setenv("BACKTEST_SPEED", "fast")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unparsable BACKTEST_SPEED")
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Source.Kind != "synth" || !cfg.Strategy.Bull {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown source":  func(c *Config) { c.Source.Kind = "kafka" },
		"no length":       func(c *Config) { c.Strategy.Bollinger.Length = 0 },
		"no side":         func(c *Config) { c.Strategy.Bull = false },
		"bad price kind":  func(c *Config) { c.Strategy.Price.Kind = "fib" },
		"journal no path": func(c *Config) { c.Sinks.Journal.Enabled, c.Sinks.Journal.Path = true, "" },
		"negative speed":  func(c *Config) { c.Source.Speed = -1 },
		"pair mismatch":   func(c *Config) { c.Source.Pair = "ETH/USDT" },
		"unknown trace":   func(c *Config) { c.App.Trace = "jaeger" },
	}
	for name, mut := range cases {
		cfg := Default()
		mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"LOG_LEVEL", "METRICS_ADDR", "BACKTEST_SOURCE", "SQLITE_PATH", "BACKTEST_PAIR", "REDIS_ADDR", "BACKTEST_SEED", "BACKTEST_SPEED", "BACKTEST_INITIAL_CASH", "ALERT_WEBHOOK_URL", "BACKTEST_TRACE", "REDIS_PASSWORD", "GATEWAY_ADDR", "JOURNAL_PATH"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("backtest.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Kind != "synth" || !cfg.Sinks.Gateway.Enabled || cfg.Sinks.Redis.Enabled {
		t.Errorf("unexpected example config: %+v", cfg)
	}
}
