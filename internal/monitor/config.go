package monitor

import (
	"fmt"
	"time"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// Mode selects whether recommendations are acted upon.
type Mode string

const (
	ModeAdvise  Mode = "advise"
	ModeExecute Mode = "execute"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAdvise, ModeExecute:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want advise or execute)", s)
	}
}

// OrderConfig controls exit orders in execute mode.
type OrderConfig struct {
	Type            domain.OrderType `mapstructure:"type" validate:"oneof=market limit"`
	PartialFraction float64          `mapstructure:"partial_fraction" validate:"gt=0,lte=1"`
	SizeScale       int32            `mapstructure:"size_scale" validate:"gte=0,lte=12"`
	Cooldown        time.Duration    `mapstructure:"cooldown" validate:"gte=0"`
}

// Config is the loop configuration.
type Config struct {
	Mode     Mode          `mapstructure:"mode" validate:"oneof=advise execute"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Jitter   float64       `mapstructure:"jitter" validate:"gte=0,lt=1"`
	Seed     uint64        `mapstructure:"seed"`
	// MaxConsecutiveDegraded stops Run after that many failed polls in a
	// row. Zero keeps polling forever.
	MaxConsecutiveDegraded int         `mapstructure:"max_consecutive_degraded" validate:"gte=0"`
	Order                  OrderConfig `mapstructure:"order"`
}

// DefaultConfig returns the advise-mode defaults.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeAdvise,
		Interval: 15 * time.Second,
		Jitter:   0.1,
		Order: OrderConfig{
			Type:            domain.OrderTypeMarket,
			PartialFraction: 0.5,
			SizeScale:       4,
			Cooldown:        5 * time.Minute,
		},
	}
}
