package exchange

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Class groups endpoints that share a venue rate limit.
type Class string

const (
	ClassMarket  Class = "market"
	ClassAccount Class = "account"
	ClassOrder   Class = "order"
)

// Bucket is a token bucket: Rate tokens per second up to Burst.
type Bucket struct {
	Rate  float64 `mapstructure:"rate" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"gte=1"`
}

// DefaultBuckets mirrors the venue's documented per-class limits.
func DefaultBuckets() map[Class]Bucket {
	return map[Class]Bucket{
		ClassMarket:  {Rate: 10, Burst: 20},
		ClassAccount: {Rate: 5, Burst: 10},
		ClassOrder:   {Rate: 5, Burst: 10},
	}
}

// Limiters holds one token bucket per endpoint class.
type Limiters struct {
	buckets map[Class]*rate.Limiter
}

// NewLimiters builds limiters for the given buckets. Classes missing from
// the map fall back to the defaults.
func NewLimiters(buckets map[Class]Bucket) *Limiters {
	l := &Limiters{buckets: make(map[Class]*rate.Limiter)}
	for class, b := range DefaultBuckets() {
		if override, ok := buckets[class]; ok {
			b = override
		}
		l.buckets[class] = rate.NewLimiter(rate.Limit(b.Rate), b.Burst)
	}
	return l
}

// Wait blocks until a token for class is available or ctx is done.
func (l *Limiters) Wait(ctx context.Context, class Class) error {
	lim, ok := l.buckets[class]
	if !ok {
		return fmt.Errorf("unknown endpoint class %q", class)
	}
	return lim.Wait(ctx)
}
