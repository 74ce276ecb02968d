package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

func TestActionGuardCooldown(t *testing.T) {
	g := NewActionGuard(time.Minute, zap.NewNop())

	assert.True(t, g.Allow("P1", domain.VerdictExitPartial, epoch))
	g.Record("P1", domain.VerdictExitPartial, epoch)

	assert.False(t, g.Allow("P1", domain.VerdictExitPartial, epoch.Add(30*time.Second)))
	assert.True(t, g.Allow("P1", domain.VerdictExitFull, epoch.Add(30*time.Second)))
	assert.True(t, g.Allow("P2", domain.VerdictExitPartial, epoch.Add(30*time.Second)))
	assert.True(t, g.Allow("P1", domain.VerdictExitPartial, epoch.Add(time.Minute)))
	assert.Equal(t, uint64(1), g.Suppressed())

	g.Forget("P1")
	assert.True(t, g.Allow("P1", domain.VerdictExitPartial, epoch.Add(time.Second)))
}

func TestActionGuardZeroCooldown(t *testing.T) {
	g := NewActionGuard(0, zap.NewNop())
	g.Record("P1", domain.VerdictExitFull, epoch)
	assert.True(t, g.Allow("P1", domain.VerdictExitFull, epoch))
}

func TestActionGuardConcurrentAccess(t *testing.T) {
	g := NewActionGuard(time.Hour, zap.NewNop())

	var wg sync.WaitGroup
	numGoroutines := 10
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				now := epoch.Add(time.Duration(j) * time.Second)
				if g.Allow("P1", domain.VerdictExitFull, now) {
					g.Record("P1", domain.VerdictExitFull, now)
				}
				if j%10 == 0 {
					g.Forget("P2")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, g.Allow("P1", domain.VerdictExitFull, epoch.Add(time.Minute)))
}
