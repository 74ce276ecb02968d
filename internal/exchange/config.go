package exchange

import "time"

// Endpoints are the request paths for each operation.
type Endpoints struct {
	ServerTime string `mapstructure:"server_time" validate:"required,startswith=/"`
	Accounts   string `mapstructure:"accounts" validate:"required,startswith=/"`
	Positions  string `mapstructure:"positions" validate:"required,startswith=/"`
	PlaceOrder string `mapstructure:"place_order" validate:"required,startswith=/"`
}

// RetryPolicy bounds the exponential backoff applied to retryable failures.
type RetryPolicy struct {
	BaseDelay      time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay       time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	TotalTimeout   time.Duration `mapstructure:"total_timeout" validate:"gt=0"`
}

// Config describes one venue account.
type Config struct {
	BaseURL      string           `mapstructure:"base_url" validate:"required,url"`
	APIKey       string           `mapstructure:"api_key" validate:"required"`
	APISecret    string           `mapstructure:"api_secret" validate:"required"`
	Passphrase   string           `mapstructure:"passphrase" validate:"required"`
	ProductType  string           `mapstructure:"product_type" validate:"required"`
	MarginCoin   string           `mapstructure:"margin_coin" validate:"required"`
	MarginMode   string           `mapstructure:"margin_mode" validate:"oneof=crossed isolated"`
	PositionMode string           `mapstructure:"position_mode" validate:"oneof=one_way hedge"`
	Locale       string           `mapstructure:"locale"`
	Headers      HeaderNames      `mapstructure:"headers"`
	Endpoints    Endpoints        `mapstructure:"endpoints"`
	Limits       map[Class]Bucket `mapstructure:"limits" validate:"dive"`
	Retry        RetryPolicy      `mapstructure:"retry"`
	MaxClockSkew time.Duration    `mapstructure:"max_clock_skew" validate:"gte=0"`
	SuccessCode  string           `mapstructure:"success_code"`
	ExpiredCodes []string         `mapstructure:"expired_codes"`
	AuthCodes    []string         `mapstructure:"auth_codes"`
}

// DefaultConfig returns a configuration for the Bitget v2 USDT futures API
// without credentials.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.bitget.com",
		ProductType:  "USDT-FUTURES",
		MarginCoin:   "USDT",
		MarginMode:   "crossed",
		PositionMode: "hedge",
		Locale:       "en-US",
		Headers:      DefaultHeaderNames(),
		Endpoints: Endpoints{
			ServerTime: "/api/v2/public/time",
			Accounts:   "/api/v2/mix/account/accounts",
			Positions:  "/api/v2/mix/position/all-position",
			PlaceOrder: "/api/v2/mix/order/place-order",
		},
		Limits: DefaultBuckets(),
		Retry: RetryPolicy{
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       8 * time.Second,
			MaxAttempts:    5,
			AttemptTimeout: 10 * time.Second,
			TotalTimeout:   45 * time.Second,
		},
		MaxClockSkew: 5 * time.Second,
		SuccessCode:  "00000",
		ExpiredCodes: []string{"40008"},
		AuthCodes:    []string{"40006", "40009", "40012", "40037"},
	}
}
