package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"candleflow/internal/market"
)

type Config struct {
	Candleflow CandleflowConfig `yaml:"candleflow"`
	Chart      ChartConfig      `yaml:"chart"`
	Viewport   ViewportConfig   `yaml:"viewport"`
	Footprint  FootprintConfig  `yaml:"footprint"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Stream     StreamConfig     `yaml:"stream"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type CandleflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChartConfig struct {
	Symbol         string `yaml:"symbol"`
	Interval       string `yaml:"interval"`
	InitialCandles int    `yaml:"initial_candles"`
	BackBuffer     int    `yaml:"back_buffer"`
}

type ViewportConfig struct {
	MinVisible        int     `yaml:"min_visible"`
	MaxVisible        int     `yaml:"max_visible"`
	DefaultVisible    int     `yaml:"default_visible"`
	MaxOverscroll     int     `yaml:"max_overscroll"`
	BaseLeftPad       int     `yaml:"base_left_pad"`
	BaseRightPad      int     `yaml:"base_right_pad"`
	PricePadFraction  float64 `yaml:"price_pad_fraction"`
	BackfillChunk     int     `yaml:"backfill_chunk"`
	BackfillThreshold int     `yaml:"backfill_threshold"`
}

type FootprintConfig struct {
	MaxLevels         int     `yaml:"max_levels"`
	ValueAreaFraction float64 `yaml:"value_area_fraction"`
}

type LedgerConfig struct {
	LiveRingCapacity  int     `yaml:"live_ring_capacity"`
	TradeFetchMaxPage int     `yaml:"trade_fetch_max_pages"`
	TradeFetchRPS     float64 `yaml:"trade_fetch_rps"`
	TradeFetchBurst   int     `yaml:"trade_fetch_burst"`
}

type StreamConfig struct {
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	TradeDebounce  Duration `yaml:"trade_debounce"`
	EventBuffer    int      `yaml:"event_buffer"`
}

type ServerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addr          string   `yaml:"addr"`
	FrameInterval Duration `yaml:"frame_interval"`
}

// Duration decodes Go duration strings ("50ms", "3s") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Chart: ChartConfig{
			Symbol:         "BTCUSDT",
			Interval:       "1m",
			InitialCandles: 250,
			BackBuffer:     50,
		},
		Viewport: ViewportConfig{
			MinVisible:        10,
			MaxVisible:        500,
			DefaultVisible:    100,
			MaxOverscroll:     80,
			BaseLeftPad:       1,
			BaseRightPad:      4,
			PricePadFraction:  0.1,
			BackfillChunk:     50,
			BackfillThreshold: 5,
		},
		Footprint: FootprintConfig{
			MaxLevels:         80,
			ValueAreaFraction: 0.70,
		},
		Ledger: LedgerConfig{
			LiveRingCapacity:  1000,
			TradeFetchMaxPage: 12,
			TradeFetchRPS:     16,
			TradeFetchBurst:   4,
		},
		Stream: StreamConfig{
			ReconnectDelay: Duration(3 * time.Second),
			TradeDebounce:  Duration(50 * time.Millisecond),
			EventBuffer:    512,
		},
		Server: ServerConfig{
			Addr:          ":8085",
			FrameInterval: Duration(60 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override chart selection from environment variables if available
	if v := os.Getenv("CHART_SYMBOL"); v != "" {
		config.Chart.Symbol = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHART_INTERVAL"); v != "" {
		config.Chart.Interval = strings.TrimSpace(v)
	}
	config.Chart.Symbol = strings.ToUpper(strings.TrimSpace(config.Chart.Symbol))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Candleflow.Name == "" {
		return fmt.Errorf("candleflow.name is required")
	}

	if cfg.Candleflow.Version == "" {
		return fmt.Errorf("candleflow.version is required")
	}

	if cfg.Chart.Symbol == "" {
		return fmt.Errorf("chart.symbol is required")
	}
	if !market.Interval(cfg.Chart.Interval).Valid() {
		return fmt.Errorf("chart.interval '%s' is not supported", cfg.Chart.Interval)
	}
	if cfg.Chart.InitialCandles <= 0 {
		return fmt.Errorf("chart.initial_candles must be greater than 0")
	}
	if cfg.Chart.BackBuffer < 0 {
		return fmt.Errorf("chart.back_buffer must not be negative")
	}

	if cfg.Viewport.MinVisible <= 0 {
		return fmt.Errorf("viewport.min_visible must be greater than 0")
	}
	if cfg.Viewport.MaxVisible < cfg.Viewport.MinVisible {
		return fmt.Errorf("viewport.max_visible must be at least viewport.min_visible")
	}
	if cfg.Viewport.DefaultVisible < cfg.Viewport.MinVisible || cfg.Viewport.DefaultVisible > cfg.Viewport.MaxVisible {
		return fmt.Errorf("viewport.default_visible must lie within [min_visible, max_visible]")
	}
	if cfg.Viewport.MaxOverscroll < 0 {
		return fmt.Errorf("viewport.max_overscroll must not be negative")
	}
	if cfg.Viewport.BackfillChunk <= 0 {
		return fmt.Errorf("viewport.backfill_chunk must be greater than 0")
	}

	if cfg.Footprint.MaxLevels <= 0 {
		return fmt.Errorf("footprint.max_levels must be greater than 0")
	}
	if cfg.Footprint.ValueAreaFraction <= 0 || cfg.Footprint.ValueAreaFraction > 1 {
		return fmt.Errorf("footprint.value_area_fraction must lie within (0, 1]")
	}

	if cfg.Ledger.LiveRingCapacity <= 0 {
		return fmt.Errorf("ledger.live_ring_capacity must be greater than 0")
	}
	if cfg.Ledger.TradeFetchMaxPage <= 0 {
		return fmt.Errorf("ledger.trade_fetch_max_pages must be greater than 0")
	}
	if cfg.Ledger.TradeFetchRPS <= 0 {
		return fmt.Errorf("ledger.trade_fetch_rps must be greater than 0")
	}

	if cfg.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than 0")
	}
	if cfg.Stream.TradeDebounce <= 0 {
		return fmt.Errorf("stream.trade_debounce must be greater than 0")
	}
	if cfg.Stream.EventBuffer <= 0 {
		return fmt.Errorf("stream.event_buffer must be greater than 0")
	}

	if cfg.Server.Enabled {
		if cfg.Server.Addr == "" {
			return fmt.Errorf("server.addr is required when the server is enabled")
		}
		if cfg.Server.FrameInterval <= 0 {
			return fmt.Errorf("server.frame_interval must be greater than 0")
		}
	}

	return nil
}
