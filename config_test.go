package courier

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func applyOptions(t *testing.T, opts []Option) *config {
	t.Helper()
	cfg := defaultConfig()
	for _, opt := range opts {
		require.NoError(t, opt(cfg))
	}
	return cfg
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
single_goroutine = true
call_timeout     = "1m30s"

[dispatch]
rate  = 250.5
burst = 20

[metric_labels]
zone = "eu-west"
node = "node-1"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.SingleGoroutine)
	require.Equal(t, 90*time.Second, time.Duration(cfg.CallTimeout))
	require.Equal(t, 250.5, cfg.Dispatch.Rate)
	require.Equal(t, 20, cfg.Dispatch.Burst)

	applied := applyOptions(t, cfg.Options())
	require.False(t, applied.concurrent)
	require.Equal(t, 90*time.Second, applied.callTimeout)
	require.NotNil(t, applied.limiter)
	require.Equal(t, rate.Limit(250.5), applied.limiter.Limit())
	require.Equal(t, 20, applied.limiter.Burst())
	require.Equal(t, []metrics.Label{
		{Name: "node", Value: "node-1"},
		{Name: "zone", Value: "eu-west"},
	}, applied.metricLabels)
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParseConfig("")
		require.NoError(t, err)
		require.Equal(t, DefaultConfig(), cfg)

		applied := applyOptions(t, cfg.Options())
		require.True(t, applied.concurrent)
		require.Zero(t, applied.callTimeout)
		require.Nil(t, applied.limiter)
		require.Nil(t, applied.metricLabels)
	})

	t.Run("zero value is concurrent", func(t *testing.T) {
		applied := applyOptions(t, Config{CallTimeout: Duration(time.Second)}.Options())
		require.True(t, applied.concurrent)
		require.Equal(t, time.Second, applied.callTimeout)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := ParseConfig(`call_timeout = "soon"`)
		require.ErrorIs(t, err, ErrInvalidCfg)
	})

	t.Run("rate without burst", func(t *testing.T) {
		cfg, err := ParseConfig("[dispatch]\nrate = 10.0\n")
		require.NoError(t, err)

		opts := cfg.Options()
		var errs []error
		c := defaultConfig()
		for _, opt := range opts {
			if err := opt(c); err != nil {
				errs = append(errs, err)
			}
		}
		require.Len(t, errs, 1)
		require.ErrorIs(t, errs[0], ErrInvalidCfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		require.ErrorIs(t, err, ErrInvalidCfg)
	})
}

func TestDuration_MarshalText(t *testing.T) {
	text, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1.5s", string(text))

	var d Duration
	require.NoError(t, d.UnmarshalText(text))
	require.Equal(t, Duration(1500*time.Millisecond), d)
}
