package courier

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-metrics"
	"golang.org/x/time/rate"
)

// Config is the file form of the transport options:
//
//	single_goroutine = false
//	call_timeout     = "5s"
//
//	[dispatch]
//	rate  = 100.0
//	burst = 10
//
//	[metric_labels]
//	node = "node-1"
type Config struct {
	// SingleGoroutine drops locking, see [WithConcurrent]. The zero
	// value keeps the transport safe for concurrent use.
	SingleGoroutine bool              `toml:"single_goroutine"`
	CallTimeout     Duration          `toml:"call_timeout"`
	Dispatch        DispatchConfig    `toml:"dispatch"`
	MetricLabels    map[string]string `toml:"metric_labels"`
}

type DispatchConfig struct {
	// Rate in dispatches per second, zero disables limiting.
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// Duration is a time.Duration written as "1m30s" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func DefaultConfig() Config {
	return Config{}
}

// LoadConfig reads a TOML file over [DefaultConfig].
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: load %s: %w", ErrInvalidCfg, path, err)
	}
	return cfg, nil
}

// ParseConfig is [LoadConfig] for an in-memory document.
func ParseConfig(doc string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	return cfg, nil
}

// Options converts the configuration to transport options. Options
// passed after them take precedence.
func (cfg Config) Options() []Option {
	opts := []Option{
		WithConcurrent(!cfg.SingleGoroutine),
		WithCallTimeout(time.Duration(cfg.CallTimeout)),
	}
	if cfg.Dispatch.Rate > 0 {
		opts = append(opts, WithDispatchRateLimit(rate.Limit(cfg.Dispatch.Rate), cfg.Dispatch.Burst))
	}
	if len(cfg.MetricLabels) > 0 {
		labels := make([]metrics.Label, 0, len(cfg.MetricLabels))
		for name, value := range cfg.MetricLabels {
			labels = append(labels, metrics.Label{Name: name, Value: value})
		}
		// map order is random, keep labels stable
		sortLabels(labels)
		opts = append(opts, WithMetricLabels(labels))
	}
	return opts
}

func sortLabels(labels []metrics.Label) {
	slices.SortFunc(labels, func(a, b metrics.Label) int {
		return strings.Compare(a.Name, b.Name)
	})
}
