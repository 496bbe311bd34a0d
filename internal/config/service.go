package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowcandle/candlestream/internal/timewindow"
)

// TimeframeEntry is one configured (size, unit) the aggregator maintains a
// window for, e.g. {1, second}, {1, minute}, {1, hour}, {1, day}.
type TimeframeEntry struct {
	Size int    `yaml:"size"`
	Unit string `yaml:"unit"`
}

// TimeWindow validates and converts the entry into a timewindow.TimeWindow.
func (e TimeframeEntry) TimeWindow() (timewindow.TimeWindow, error) {
	return timewindow.New(e.Size, timewindow.Unit(e.Unit))
}

// LoggerConfig controls the zerolog wiring in pkg/logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// NATSConfig names the bus connections both services share, as
// ParseConnectionString-compatible strings carrying the stream and subject
// as query parameters, e.g. "nats://127.0.0.1:4222?stream=trades&subject=trades.>".
// IngestConn is the aggregator's trade-ingress bus; OHLCConn is the
// finalized-candle bus both services publish to or subscribe from.
type NATSConfig struct {
	IngestConn string `yaml:"ingest_conn"`
	OHLCConn   string `yaml:"ohlc_conn"`
	Durable    string `yaml:"durable"`
	FetchBatch int    `yaml:"fetch_batch"`
}

// Ingest parses IngestConn into its connection parameters.
func (n NATSConfig) Ingest() (*ConnectionConfig, error) {
	return ParseConnectionString(n.IngestConn)
}

// OHLC parses OHLCConn into its connection parameters.
func (n NATSConfig) OHLC() (*ConnectionConfig, error) {
	return ParseConnectionString(n.OHLCConn)
}

// PostgresConfig is the analytical column-store connection, standing in for
// the design's ClickHouse sink (see the publisher package).
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

// AggregatorConfig is the full configuration for the aggregator service
// (Service A): consumes trades, maintains OHLC windows, fans closed candles
// out to NATS and Postgres.
type AggregatorConfig struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Nats       NATSConfig       `yaml:"nats"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Timeframes []TimeframeEntry `yaml:"timeframes"`
	SmoothGaps bool             `yaml:"smooth_gaps"`
	// CleanupIntervalSeconds and MaxWindowAgeSeconds bound how long an
	// idle symbol's in-flight window is retained in memory.
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	MaxWindowAgeSeconds    int `yaml:"max_window_age_seconds"`
}

// Validate checks the invariants LoadAggregatorConfig can't catch via YAML
// unmarshalling alone: at least one timeframe, every timeframe names a
// supported unit, and both NATS connection strings parse.
func (c *AggregatorConfig) Validate() error {
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("config: at least one timeframe is required")
	}
	for _, tf := range c.Timeframes {
		if _, err := tf.TimeWindow(); err != nil {
			return err
		}
	}
	if _, err := c.Nats.Ingest(); err != nil {
		return fmt.Errorf("config: nats.ingest_conn: %w", err)
	}
	if _, err := c.Nats.OHLC(); err != nil {
		return fmt.Errorf("config: nats.ohlc_conn: %w", err)
	}
	return nil
}

// LoadAggregatorConfig reads and validates the aggregator's YAML config.
func LoadAggregatorConfig(path string) (*AggregatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg AggregatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// FanoutConfig is the full configuration for the fan-out service (Service
// B): subscribes to the candle bus and serves WebSocket clients.
type FanoutConfig struct {
	App struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"app"`
	Logger LoggerConfig `yaml:"logger"`
	Nats   NATSConfig   `yaml:"nats"`
}

// Validate checks that the app is bound to a usable port and that the OHLC
// NATS connection string parses.
func (c *FanoutConfig) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: app.port must be between 1 and 65535, got %d", c.App.Port)
	}
	if _, err := c.Nats.OHLC(); err != nil {
		return fmt.Errorf("config: nats.ohlc_conn: %w", err)
	}
	return nil
}

// LoadFanoutConfig reads and validates the fan-out service's YAML config.
func LoadFanoutConfig(path string) (*FanoutConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg FanoutConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}
