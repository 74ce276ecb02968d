package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/exchange"
	"github.com/rovshanmuradov/position-monitor/internal/logger"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
	"github.com/rovshanmuradov/position-monitor/internal/persona"
	"github.com/rovshanmuradov/position-monitor/internal/status"
)

// ErrInvalid marks every configuration failure.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables read after the config file.
const (
	EnvAPIKey     = "EXCHANGE_API_KEY"
	EnvAPISecret  = "EXCHANGE_API_SECRET"
	EnvPassphrase = "EXCHANGE_API_PASSPHRASE"
	EnvBaseURL    = "EXCHANGE_BASE_URL"
	EnvInterval   = "MONITOR_INTERVAL_SECONDS"
	EnvMode       = "MONITOR_MODE"
)

// AccountConfig overrides the exchange section for one account id.
type AccountConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	Passphrase   string `mapstructure:"passphrase"`
	ProductType  string `mapstructure:"product_type"`
	MarginCoin   string `mapstructure:"margin_coin"`
	PositionMode string `mapstructure:"position_mode"`
}

type PersonaConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

type FibConfig struct {
	SigmaRatio float64 `mapstructure:"sigma_ratio" validate:"gt=0,lt=1"`
}

type CacheConfig struct {
	Epsilon float64 `mapstructure:"epsilon" validate:"gte=0"`
}

type JournalConfig struct {
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

type SinksConfig struct {
	RingSize int                `mapstructure:"ring_size" validate:"gte=1"`
	Redis    events.RedisConfig `mapstructure:"redis"`
	Kafka    events.KafkaConfig `mapstructure:"kafka"`
}

type HistoryConfig struct {
	Size          int           `mapstructure:"size" validate:"gte=1"`
	CSVPath       string        `mapstructure:"csv_path"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

// Config is the full process configuration.
type Config struct {
	Account  string                   `mapstructure:"-"`
	Exchange exchange.Config          `mapstructure:"exchange"`
	Accounts map[string]AccountConfig `mapstructure:"accounts"`
	Monitor  monitor.Config           `mapstructure:"monitor"`
	Personas PersonaConfig            `mapstructure:"personas"`
	Fib      FibConfig                `mapstructure:"fib"`
	Cache    CacheConfig              `mapstructure:"cache"`
	Journal  JournalConfig            `mapstructure:"journal"`
	Sinks    SinksConfig              `mapstructure:"sinks"`
	Status   status.Config            `mapstructure:"status"`
	History  HistoryConfig            `mapstructure:"history"`
	Log      logger.Config            `mapstructure:"log"`
}

const (
	DefaultJournalFlush = time.Second
	DefaultHistorySize  = 256
	DefaultRingSize     = 512
	DefaultSigmaRatio   = 0.005
	DefaultEpsilon      = 1e-8
)

// Default returns the built-in configuration without credentials.
func Default() Config {
	return Config{
		Exchange: exchange.DefaultConfig(),
		Monitor:  monitor.DefaultConfig(),
		Personas: PersonaConfig{Weights: map[string]float64{}},
		Fib:      FibConfig{SigmaRatio: DefaultSigmaRatio},
		Cache:    CacheConfig{Epsilon: DefaultEpsilon},
		Journal:  JournalConfig{FlushInterval: DefaultJournalFlush},
		Sinks: SinksConfig{
			RingSize: DefaultRingSize,
			Redis:    events.RedisConfig{Stream: "position-monitor:events", MaxLen: 10000, Buffer: 1024, WriteTimeout: 5 * time.Second},
			Kafka:    events.KafkaConfig{Topic: "position-monitor.events", WriteTimeout: 5 * time.Second},
		},
		Status:  status.DefaultConfig(),
		History: HistoryConfig{Size: DefaultHistorySize, FlushInterval: 5 * time.Second},
		Log:     logger.Config{Level: "info", Format: "pretty"},
	}
}

// Options select the sources Load reads.
type Options struct {
	// File is an optional yaml/json/toml config file.
	File string
	// EnvFile is loaded into the environment first when it exists.
	EnvFile string
	// Account selects an entry of the accounts section.
	Account string
	// Flags, when set, override everything else for the flags that were
	// changed: mode and interval (seconds).
	Flags *pflag.FlagSet
}

// Load builds the configuration from defaults, the config file, the
// selected account, the environment and finally flags, then validates it.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	defaults := map[string]interface{}{
		"monitor.mode":     string(monitor.ModeAdvise),
		"monitor.interval": "15s",
		"monitor.jitter":   0.1,
		"log.level":        "info",
		"log.format":       "pretty",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, opts.File, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Account = opts.Account

	if err := applyAccount(&cfg, opts.Account); err != nil {
		return nil, err
	}
	if err := loadEnvironmentVariables(&cfg); err != nil {
		return nil, err
	}
	if err := applyFlags(&cfg, opts.Flags); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrInvalid, path, err)
	}
	return nil
}

func applyAccount(cfg *Config, id string) error {
	if id == "" {
		return nil
	}
	acct, ok := cfg.Accounts[id]
	if !ok {
		// a lone account may be configured entirely through the exchange
		// section and the environment
		if len(cfg.Accounts) == 0 {
			return nil
		}
		return fmt.Errorf("%w: unknown account %q", ErrInvalid, id)
	}

	ex := &cfg.Exchange
	overrides := []struct {
		dst *string
		src string
	}{
		{&ex.BaseURL, acct.BaseURL},
		{&ex.APIKey, acct.APIKey},
		{&ex.APISecret, acct.APISecret},
		{&ex.Passphrase, acct.Passphrase},
		{&ex.ProductType, acct.ProductType},
		{&ex.MarginCoin, acct.MarginCoin},
		{&ex.PositionMode, acct.PositionMode},
	}
	for _, o := range overrides {
		if o.src != "" {
			*o.dst = o.src
		}
	}
	return nil
}

func loadEnvironmentVariables(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{EnvAPIKey, &cfg.Exchange.APIKey},
		{EnvAPISecret, &cfg.Exchange.APISecret},
		{EnvPassphrase, &cfg.Exchange.Passphrase},
		{EnvBaseURL, &cfg.Exchange.BaseURL},
	}
	for _, s := range strs {
		if val := strings.TrimSpace(os.Getenv(s.env)); val != "" {
			*s.dst = val
		}
	}

	if val := strings.TrimSpace(os.Getenv(EnvMode)); val != "" {
		mode, err := monitor.ParseMode(val)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvMode, err)
		}
		cfg.Monitor.Mode = mode
	}
	if val := strings.TrimSpace(os.Getenv(EnvInterval)); val != "" {
		d, err := ParseSeconds(val)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvInterval, err)
		}
		cfg.Monitor.Interval = d
	}
	return nil
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	if f := flags.Lookup("mode"); f != nil && f.Changed {
		mode, err := monitor.ParseMode(f.Value.String())
		if err != nil {
			return fmt.Errorf("%w: --mode: %v", ErrInvalid, err)
		}
		cfg.Monitor.Mode = mode
	}
	if f := flags.Lookup("interval"); f != nil && f.Changed {
		d, err := ParseSeconds(f.Value.String())
		if err != nil {
			return fmt.Errorf("%w: --interval: %v", ErrInvalid, err)
		}
		cfg.Monitor.Interval = d
	}
	return nil
}

// ParseSeconds parses a positive, possibly fractional, number of seconds.
func ParseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable interval %q", s)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	known := make(map[string]bool, len(persona.Order))
	for _, id := range persona.Order {
		known[string(id)] = true
	}
	for id, w := range cfg.Personas.Weights {
		if !known[id] {
			return fmt.Errorf("%w: unknown persona %q in weights", ErrInvalid, id)
		}
		if w < 0 {
			return fmt.Errorf("%w: persona %q weight %v is negative", ErrInvalid, id, w)
		}
	}

	for _, class := range []exchange.Class{exchange.ClassMarket, exchange.ClassAccount, exchange.ClassOrder} {
		if _, ok := cfg.Exchange.Limits[class]; !ok {
			return fmt.Errorf("%w: missing rate limit for %s requests", ErrInvalid, class)
		}
	}

	if cfg.Sinks.Kafka.Topic == "" && len(cfg.Sinks.Kafka.Brokers) > 0 {
		return fmt.Errorf("%w: kafka brokers set without a topic", ErrInvalid)
	}
	if cfg.Sinks.Redis.Addr != "" && cfg.Sinks.Redis.Stream == "" && cfg.Sinks.Redis.Channel == "" {
		return fmt.Errorf("%w: redis sink needs a stream or a channel", ErrInvalid)
	}
	return nil
}
