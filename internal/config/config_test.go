package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/position-monitor/internal/exchange"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
)

const sampleYAML = `
exchange:
  api_key: file-key
  api_secret: file-secret
  passphrase: file-phrase
  retry:
    max_attempts: 3
accounts:
  alt:
    api_key: alt-key
    margin_coin: USDC
monitor:
  interval: 30s
  order:
    type: limit
    partial_fraction: 0.25
    size_scale: 3
    cooldown: 1m
personas:
  weights:
    strategic: 0.4
    patient: 0.1
status:
  addr: 127.0.0.1:9108
log:
  level: debug
`

// isolateEnv clears every variable Load reads so the host environment
// cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIKey, EnvAPISecret, EnvPassphrase, EnvBaseURL, EnvInterval, EnvMode} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadPrecedence(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvAPISecret, "env-secret")
	t.Setenv(EnvInterval, "20")
	t.Setenv(EnvMode, "advise")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("mode", "advise", "")
	flags.String("interval", "", "")
	require.NoError(t, flags.Parse([]string{"--mode", "execute"}))

	cfg, err := Load(Options{
		File:    writeFile(t, "monitor.yaml", sampleYAML),
		EnvFile: noEnvFile(t),
		Account: "alt",
		Flags:   flags,
	})
	require.NoError(t, err)

	assert.Equal(t, "alt", cfg.Account)
	assert.Equal(t, "alt-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
	assert.Equal(t, "file-phrase", cfg.Exchange.Passphrase)
	assert.Equal(t, "USDC", cfg.Exchange.MarginCoin)
	assert.Equal(t, 20*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, monitor.ModeExecute, cfg.Monitor.Mode)

	// untouched defaults survive a partial file
	assert.Equal(t, 3, cfg.Exchange.Retry.MaxAttempts)
	assert.Equal(t, 8*time.Second, cfg.Exchange.Retry.MaxDelay)
	assert.Equal(t, "https://api.bitget.com", cfg.Exchange.BaseURL)
	assert.Len(t, cfg.Exchange.Limits, 3)
	assert.Equal(t, 0.1, cfg.Monitor.Jitter)

	assert.Equal(t, 0.25, cfg.Monitor.Order.PartialFraction)
	assert.Equal(t, int32(3), cfg.Monitor.Order.SizeScale)
	assert.Equal(t, time.Minute, cfg.Monitor.Order.Cooldown)
	assert.Equal(t, 0.4, cfg.Personas.Weights["strategic"])
	assert.Equal(t, "127.0.0.1:9108", cfg.Status.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultHistorySize, cfg.History.Size)
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvAPIKey, "k")
	t.Setenv(EnvAPISecret, "s")
	t.Setenv(EnvPassphrase, "p")
	t.Setenv(EnvBaseURL, "https://example.test")

	cfg, err := Load(Options{EnvFile: noEnvFile(t), Account: "main"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", cfg.Exchange.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, monitor.ModeAdvise, cfg.Monitor.Mode)
}

func TestLoadDotEnvFile(t *testing.T) {
	isolateEnv(t)
	envFile := writeFile(t, ".env", "EXCHANGE_API_KEY=dot-key\nEXCHANGE_API_SECRET=dot-secret\nEXCHANGE_API_PASSPHRASE=dot-phrase\n")
	t.Cleanup(func() {
		os.Unsetenv(EnvAPIKey)
		os.Unsetenv(EnvAPISecret)
		os.Unsetenv(EnvPassphrase)
	})

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "dot-key", cfg.Exchange.APIKey)
}

func TestLoadErrors(t *testing.T) {
	creds := func(t *testing.T) {
		t.Setenv(EnvAPIKey, "k")
		t.Setenv(EnvAPISecret, "s")
		t.Setenv(EnvPassphrase, "p")
	}

	tests := []struct {
		name  string
		setup func(t *testing.T) Options
	}{
		{
			name: "missing credentials",
			setup: func(t *testing.T) Options {
				return Options{EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "unparseable interval",
			setup: func(t *testing.T) Options {
				creds(t)
				t.Setenv(EnvInterval, "soon")
				return Options{EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "non-positive interval",
			setup: func(t *testing.T) Options {
				creds(t)
				t.Setenv(EnvInterval, "0")
				return Options{EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "bad mode",
			setup: func(t *testing.T) Options {
				creds(t)
				t.Setenv(EnvMode, "yolo")
				return Options{EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "unknown account",
			setup: func(t *testing.T) Options {
				return Options{File: writeFile(t, "c.yaml", sampleYAML), EnvFile: noEnvFile(t), Account: "nope"}
			},
		},
		{
			name: "unknown persona weight",
			setup: func(t *testing.T) Options {
				creds(t)
				return Options{File: writeFile(t, "c.yaml", "personas:\n  weights:\n    oracle: 1\n"), EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "missing config file",
			setup: func(t *testing.T) Options {
				return Options{File: filepath.Join(t.TempDir(), "absent.yaml"), EnvFile: noEnvFile(t)}
			},
		},
		{
			name: "bad jitter",
			setup: func(t *testing.T) Options {
				creds(t)
				return Options{File: writeFile(t, "c.yaml", "monitor:\n  jitter: 1.5\n"), EnvFile: noEnvFile(t)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			_, err := Load(tt.setup(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15", 15 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{" 2 ", 2 * time.Second, false},
		{"-1", 0, true},
		{"15s", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSeconds(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestValidateRateLimits(t *testing.T) {
	cfg := Default()
	cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Passphrase = "k", "s", "p"
	require.NoError(t, Validate(&cfg))

	delete(cfg.Exchange.Limits, exchange.ClassOrder)
	assert.ErrorIs(t, Validate(&cfg), ErrInvalid)
}
