package cache

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// EvictAfter is the number of consecutive missed polls after which a
// position is considered closed.
const EvictAfter = 2

// DefaultEpsilon is the absolute tolerance for decimal change detection.
var DefaultEpsilon = decimal.New(1, -8)

// Entry is the per-position state kept between polls.
type Entry struct {
	Snapshot    domain.Snapshot  `json:"snapshot"`
	Prior       *domain.Snapshot `json:"prior,omitempty"`
	High        decimal.Decimal  `json:"high_since_open"`
	Low         decimal.Decimal  `json:"low_since_open"`
	MissedPolls int              `json:"missed_polls"`
	// PriorPnLSign is the sign of the latest non-zero unrealized PnL seen
	// before the current snapshot, 0 if there was none.
	PriorPnLSign int `json:"prior_pnl_sign"`
}

func (e *Entry) clone() Entry {
	c := *e
	if e.Prior != nil {
		p := *e.Prior
		c.Prior = &p
	}
	return c
}

// Positions maps position id to its latest snapshot. It has a single
// writer (Ingest); readers always receive copies.
type Positions struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	epsilon decimal.Decimal
}

// New creates an empty cache. A zero epsilon selects DefaultEpsilon.
func New(epsilon decimal.Decimal) *Positions {
	if epsilon.IsZero() {
		epsilon = DefaultEpsilon
	}
	return &Positions{
		entries: make(map[string]*Entry),
		epsilon: epsilon,
	}
}

// Ingest applies one poll's snapshots and returns the resulting delta.
// present lists ids the venue still reported but that could not be turned
// into snapshots; their entries keep the last good snapshot and are never
// counted as missed. The whole update is applied under one write lock, so
// readers observe either the state before or after the poll, never a mix.
func (p *Positions) Ingest(snapshots []domain.Snapshot, present ...string) domain.Delta {
	p.mu.Lock()
	defer p.mu.Unlock()

	var delta domain.Delta
	seen := make(map[string]struct{}, len(snapshots))
	reported := make(map[string]struct{}, len(present))
	for _, id := range present {
		if id != "" {
			reported[id] = struct{}{}
		}
	}

	for _, snap := range snapshots {
		id := snap.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		mark := snap.Position.MarkPrice

		entry, ok := p.entries[id]
		if !ok {
			entry = &Entry{
				Snapshot: snap,
				High:     decimal.Max(snap.Position.EntryPrice, mark),
				Low:      decimal.Min(snap.Position.EntryPrice, mark),
			}
			p.entries[id] = entry
			delta.Opened = append(delta.Opened, snap)
			continue
		}

		prior := entry.Snapshot
		if sign := prior.Position.UnrealizedPnL.Sign(); sign != 0 {
			entry.PriorPnLSign = sign
		}
		entry.Prior = &prior
		entry.Snapshot = snap
		entry.MissedPolls = 0
		entry.High = decimal.Max(entry.High, mark)
		entry.Low = decimal.Min(entry.Low, mark)

		if fields := prior.Position.ChangedFields(snap.Position, p.epsilon); len(fields) > 0 {
			delta.Changed = append(delta.Changed, domain.Change{
				Prior:   prior,
				Current: snap,
				Fields:  fields,
			})
		}
	}

	for id, entry := range p.entries {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := reported[id]; ok {
			entry.MissedPolls = 0
			continue
		}
		entry.MissedPolls++
		if entry.MissedPolls >= EvictAfter {
			delta.Closed = append(delta.Closed, entry.Snapshot)
			delete(p.entries, id)
		}
	}

	sortSnapshots(delta.Opened)
	sortSnapshots(delta.Closed)
	slices.SortFunc(delta.Changed, func(a, b domain.Change) int {
		return compareSnapshots(a.Current, b.Current)
	})
	return delta
}

// Get returns the latest snapshot for id.
func (p *Positions) Get(id string) (domain.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[id]
	if !ok {
		return domain.Snapshot{}, false
	}
	return entry.Snapshot, true
}

// Entry returns a copy of the full state kept for id.
func (p *Positions) Entry(id string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[id]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// All returns every tracked snapshot ordered by opened_at, then id.
func (p *Positions) All() []domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry.Snapshot)
	}
	sortSnapshots(out)
	return out
}

// Entries returns copies of every entry in All() order.
func (p *Positions) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry.clone())
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return compareSnapshots(a.Snapshot, b.Snapshot)
	})
	return out
}

// Extremes returns the highest and lowest mark seen since the position
// opened, seeded with the entry price.
func (p *Positions) Extremes(id string) (high, low decimal.Decimal, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, found := p.entries[id]
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return entry.High, entry.Low, true
}

// Len returns the number of tracked positions.
func (p *Positions) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func sortSnapshots(s []domain.Snapshot) {
	slices.SortFunc(s, compareSnapshots)
}

func compareSnapshots(a, b domain.Snapshot) int {
	if c := a.Position.OpenedAt.Compare(b.Position.OpenedAt); c != 0 {
		return c
	}
	switch {
	case a.ID() < b.ID():
		return -1
	case a.ID() > b.ID():
		return 1
	}
	return 0
}
