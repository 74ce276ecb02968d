package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// ActionGuard suppresses repeated exit orders for the same position and
// verdict inside a cooldown window.
type ActionGuard struct {
	mu       sync.Mutex
	cooldown time.Duration
	logger   *zap.Logger

	// position id -> verdict -> last submission
	history map[string]map[domain.Verdict]time.Time

	suppressed uint64
}

// NewActionGuard creates a guard. A zero cooldown allows every action.
func NewActionGuard(cooldown time.Duration, logger *zap.Logger) *ActionGuard {
	return &ActionGuard{
		cooldown: cooldown,
		logger:   logger.Named("guard"),
		history:  make(map[string]map[domain.Verdict]time.Time),
	}
}

// Allow reports whether an order for positionID/verdict may be submitted at
// now. A full exit is never blocked by an earlier partial one.
func (g *ActionGuard) Allow(positionID string, verdict domain.Verdict, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cooldown <= 0 {
		return true
	}
	last, ok := g.history[positionID][verdict]
	if !ok || now.Sub(last) >= g.cooldown {
		return true
	}

	g.suppressed++
	g.logger.Debug("Action suppressed by cooldown",
		zap.String("position_id", positionID),
		zap.String("verdict", string(verdict)),
		zap.Duration("remaining", g.cooldown-now.Sub(last)))
	return false
}

// Record marks a submission attempt.
func (g *ActionGuard) Record(positionID string, verdict domain.Verdict, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byVerdict, ok := g.history[positionID]
	if !ok {
		byVerdict = make(map[domain.Verdict]time.Time, len(domain.Verdicts))
		g.history[positionID] = byVerdict
	}
	byVerdict[verdict] = now
}

// Forget drops the cooldown state of a closed position.
func (g *ActionGuard) Forget(positionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.history, positionID)
}

// Suppressed returns how many actions were blocked.
func (g *ActionGuard) Suppressed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}
