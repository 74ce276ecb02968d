package exchange

import (
	"strconv"
	"sync/atomic"
	"time"
)

// skewClock produces request timestamps corrected by the last measured
// offset from the venue clock.
type skewClock struct {
	now     func() time.Time
	offset  atomic.Int64
	maxSkew time.Duration
}

func newSkewClock(now func() time.Time, maxSkew time.Duration) *skewClock {
	if now == nil {
		now = time.Now
	}
	return &skewClock{now: now, maxSkew: maxSkew}
}

// Timestamp returns milliseconds since epoch as a decimal string.
func (c *skewClock) Timestamp() string {
	t := c.now().Add(c.Offset())
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (c *skewClock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Adjust records a server time observed between sent and received and
// returns the applied offset, clamped to ±maxSkew.
func (c *skewClock) Adjust(server, sent, received time.Time) time.Duration {
	mid := sent.Add(received.Sub(sent) / 2)
	off := server.Sub(mid)
	if off > c.maxSkew {
		off = c.maxSkew
	}
	if off < -c.maxSkew {
		off = -c.maxSkew
	}
	c.offset.Store(int64(off))
	return off
}
