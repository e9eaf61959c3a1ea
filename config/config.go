// Package config loads the backtest configuration: a YAML file overlaid
// with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics server
	Trace       string `yaml:"trace"`        // "stdout" or empty
}

// Synth configures the random-walk candle generator.
type Synth struct {
	Seed        int64   `yaml:"seed"`
	Count       int     `yaml:"count"`
	StartPrice  float64 `yaml:"start_price"`
	Volatility  float64 `yaml:"volatility"` // per-candle stddev as a fraction of price
	IntervalSec int     `yaml:"interval_sec"`
	StartMs     int64   `yaml:"start_ms"`
}

// Source selects where candles come from.
type Source struct {
	Kind       string  `yaml:"kind"` // "sqlite" or "synth"
	SQLitePath string  `yaml:"sqlite_path"`
	Pair       string  `yaml:"pair"`
	FromMs     int64   `yaml:"from_ms"`
	ToMs       int64   `yaml:"to_ms"`
	Speed      float64 `yaml:"speed"` // replay multiplier; 0 replays as fast as possible
	Synth      Synth   `yaml:"synth"`
}

// Bollinger parameters of the strategy's bands.
type Bollinger struct {
	Length int     `yaml:"length"`
	Factor float64 `yaml:"factor"`
	MA     string  `yaml:"ma"` // SMA or EMA
}

// Stepper selects a rung stepping function. Kind is geometric|linear for
// prices and multiply|fixed for volumes.
type Stepper struct {
	Kind   string  `yaml:"kind"`
	Value  float64 `yaml:"value"`
	Factor float64 `yaml:"factor"`
}

// Strategy configures the DCA ladder and its account.
type Strategy struct {
	Base        string    `yaml:"base"`
	Quote       string    `yaml:"quote"`
	PriceStep   float64   `yaml:"price_step"`
	VolumeStep  float64   `yaml:"volume_step"`
	Bollinger   Bollinger `yaml:"bollinger"`
	Warmup      int       `yaml:"warmup"`
	DCANumMax   int       `yaml:"dca_num_max"`
	InitialCash float64   `yaml:"initial_cash"`
	Leverage    float64   `yaml:"leverage"`
	TakeProfit  float64   `yaml:"take_profit"`
	Price       Stepper   `yaml:"price"`
	Volume      Stepper   `yaml:"volume"`
	Bull        bool      `yaml:"bull"`
	Bear        bool      `yaml:"bear"`
}

// Redis configures the Redis output sink.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// Gateway configures the WebSocket output sink.
type Gateway struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	ReplaySize int    `yaml:"replay_size"`
}

// Journal configures the SQLite fill journal.
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Alerts configures position-closed notifications. An empty WebhookURL
// logs the alerts instead.
type Alerts struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// Sinks groups the output sinks.
type Sinks struct {
	Redis   Redis   `yaml:"redis"`
	Gateway Gateway `yaml:"gateway"`
	Journal Journal `yaml:"journal"`
	Alerts  Alerts  `yaml:"alerts"`
}

// Config collects every configuration leaf.
type Config struct {
	App      App      `yaml:"app"`
	Source   Source   `yaml:"source"`
	Strategy Strategy `yaml:"strategy"`
	Sinks    Sinks    `yaml:"sinks"`
}

// Default returns a configuration that runs a synthetic backtest with no
// external dependencies.
func Default() *Config {
	return &Config{
		App: App{
			Name:     "backtest",
			LogLevel: "info",
		},
		Source: Source{
			Kind:       "synth",
			SQLitePath: "data/candles.db",
			Pair:       "BTC/USDT",
			Synth: Synth{
				Seed:        1,
				Count:       5000,
				StartPrice:  30000,
				Volatility:  0.004,
				IntervalSec: 60,
				StartMs:     1700000000000,
			},
		},
		Strategy: Strategy{
			Base:        "BTC",
			Quote:       "USDT",
			PriceStep:   0.01,
			VolumeStep:  0.01,
			Bollinger:   Bollinger{Length: 20, Factor: 2, MA: "SMA"},
			Warmup:      20,
			DCANumMax:   4,
			InitialCash: 10000,
			Leverage:    1,
			TakeProfit:  0.01,
			Price:       Stepper{Kind: "geometric", Value: 0.01},
			Volume:      Stepper{Kind: "multiply", Value: 100, Factor: 2},
			Bull:        true,
		},
		Sinks: Sinks{
			Redis:   Redis{Addr: "localhost:6379", Stream: "tradeflow:scopes", MaxLen: 10000},
			Gateway: Gateway{Addr: ":8080", ReplaySize: 500},
			Journal: Journal{Path: "data/journal.db"},
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.MetricsAddr = getEnv("METRICS_ADDR", c.App.MetricsAddr)
	c.App.Trace = getEnv("BACKTEST_TRACE", c.App.Trace)

	c.Source.Kind = getEnv("BACKTEST_SOURCE", c.Source.Kind)
	c.Source.SQLitePath = getEnv("SQLITE_PATH", c.Source.SQLitePath)
	c.Source.Pair = getEnv("BACKTEST_PAIR", c.Source.Pair)

	c.Sinks.Redis.Addr = getEnv("REDIS_ADDR", c.Sinks.Redis.Addr)
	c.Sinks.Redis.Password = getEnv("REDIS_PASSWORD", c.Sinks.Redis.Password)
	c.Sinks.Gateway.Addr = getEnv("GATEWAY_ADDR", c.Sinks.Gateway.Addr)
	c.Sinks.Journal.Path = getEnv("JOURNAL_PATH", c.Sinks.Journal.Path)
	c.Sinks.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Sinks.Alerts.WebhookURL)

	var err error
	if c.Source.Synth.Seed, err = getEnvInt64("BACKTEST_SEED", c.Source.Synth.Seed); err != nil {
		return err
	}
	if c.Source.Speed, err = getEnvFloat("BACKTEST_SPEED", c.Source.Speed); err != nil {
		return err
	}
	if c.Strategy.InitialCash, err = getEnvFloat("BACKTEST_INITIAL_CASH", c.Strategy.InitialCash); err != nil {
		return err
	}
	return nil
}

// Validate returns the first configuration error found.
func (c *Config) Validate() error {
	switch c.App.Trace {
	case "", "stdout":
	default:
		return fmt.Errorf("config: unknown app.trace %q", c.App.Trace)
	}
	switch c.Source.Kind {
	case "sqlite":
		if c.Source.SQLitePath == "" {
			return errors.New("config: source.sqlite_path is required for the sqlite source")
		}
	case "synth":
		if c.Source.Synth.Count <= 0 || c.Source.Synth.StartPrice <= 0 || c.Source.Synth.IntervalSec <= 0 {
			return errors.New("config: source.synth needs positive count, start_price and interval_sec")
		}
	default:
		return fmt.Errorf("config: unknown source.kind %q", c.Source.Kind)
	}
	if c.Source.Speed < 0 {
		return fmt.Errorf("config: source.speed %v must not be negative", c.Source.Speed)
	}

	s := c.Strategy
	if s.Base == "" || s.Quote == "" {
		return errors.New("config: strategy.base and strategy.quote are required")
	}
	if pair := s.Base + "/" + s.Quote; pair != c.Source.Pair {
		return fmt.Errorf("config: strategy pair %s does not match source.pair %s", pair, c.Source.Pair)
	}
	if s.Bollinger.Length <= 0 {
		return fmt.Errorf("config: strategy.bollinger.length %d must be positive", s.Bollinger.Length)
	}
	if s.InitialCash <= 0 || s.Leverage <= 0 {
		return errors.New("config: strategy.initial_cash and strategy.leverage must be positive")
	}
	if !s.Bull && !s.Bear {
		return errors.New("config: enable at least one of strategy.bull and strategy.bear")
	}
	switch strings.ToLower(s.Price.Kind) {
	case "geometric", "linear":
	default:
		return fmt.Errorf("config: unknown strategy.price.kind %q", s.Price.Kind)
	}
	switch strings.ToLower(s.Volume.Kind) {
	case "multiply", "fixed":
	default:
		return fmt.Errorf("config: unknown strategy.volume.kind %q", s.Volume.Kind)
	}
	if c.Sinks.Journal.Enabled && c.Sinks.Journal.Path == "" {
		return errors.New("config: sinks.journal.path is required when the journal is enabled")
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		return errors.New("config: sinks.redis.addr is required when redis is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
