package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/logger"
)

// HistoryEntry is one recorded recommendation.
type HistoryEntry struct {
	TS             time.Time             `json:"ts"`
	Recommendation domain.Recommendation `json:"recommendation"`
}

// HistoryStats holds aggregate counters over every recorded recommendation.
type HistoryStats struct {
	Total     int                    `json:"total"`
	ByVerdict map[domain.Verdict]int `json:"by_verdict"`
	Positions int                    `json:"positions"`
}

// CSVHeaders returns the column layout of the recommendation CSV.
func CSVHeaders() []string {
	return []string{
		"ts", "poll_seq", "position_id", "symbol", "verdict",
		"aggregate_confidence", "dissent_count", "votes",
	}
}

// History keeps the most recent recommendations in memory and optionally
// mirrors every one of them to a CSV file.
type History struct {
	mu        sync.RWMutex
	csvWriter *logger.SafeCSVWriter
	entries   []HistoryEntry
	maxSize   int
	logger    *zap.Logger

	total     int
	byVerdict map[domain.Verdict]int
	latest    map[string]int // position id -> index into entries, -1 once evicted
}

// NewHistory creates a history holding up to maxSize entries. csvPath may be
// empty to disable the CSV mirror.
func NewHistory(maxSize int, csvPath string, flushInterval time.Duration, zapLogger *zap.Logger) (*History, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("history size must be positive, got %d", maxSize)
	}

	h := &History{
		entries:   make([]HistoryEntry, 0, maxSize),
		maxSize:   maxSize,
		logger:    zapLogger.Named("history"),
		byVerdict: make(map[domain.Verdict]int, len(domain.Verdicts)),
		latest:    make(map[string]int),
	}

	if csvPath != "" {
		w, err := logger.NewSafeCSVWriter(csvPath, CSVHeaders(), flushInterval, zapLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV writer: %w", err)
		}
		h.csvWriter = w
		h.logger.Info("Recommendation history mirrored to CSV", zap.String("csv_file", csvPath))
	}

	return h, nil
}

// Add records rec observed at ts.
func (h *History) Add(ts time.Time, rec domain.Recommendation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.maxSize {
		h.entries = h.entries[1:]
		for id, idx := range h.latest {
			h.latest[id] = idx - 1
		}
	}
	h.entries = append(h.entries, HistoryEntry{TS: ts, Recommendation: rec})
	h.latest[rec.PositionID] = len(h.entries) - 1

	h.total++
	h.byVerdict[rec.Verdict]++

	if h.csvWriter == nil {
		return nil
	}
	if err := h.csvWriter.WriteRecord(HistoryEntry{TS: ts, Recommendation: rec}.ToCSV()); err != nil {
		h.logger.Error("Failed to write recommendation to CSV",
			zap.String("position_id", rec.PositionID),
			zap.Uint64("poll_seq", rec.PollSeq),
			zap.Error(err))
		return fmt.Errorf("failed to write recommendation: %w", err)
	}
	return nil
}

// ToCSV converts the entry into a CSV row matching CSVHeaders.
func (e HistoryEntry) ToCSV() []string {
	rec := e.Recommendation
	votes := make([]string, 0, len(rec.Votes))
	for _, v := range rec.Votes {
		votes = append(votes, v.PersonaID+"="+string(v.Decision)+":"+v.Confidence.String())
	}
	return []string{
		e.TS.UTC().Format(time.RFC3339Nano),
		strconv.FormatUint(rec.PollSeq, 10),
		rec.PositionID,
		rec.Symbol,
		string(rec.Verdict),
		rec.AggregateConfidence.String(),
		strconv.Itoa(rec.DissentCount),
		strings.Join(votes, ";"),
	}
}

// Recent returns up to limit entries, oldest first. A non-positive limit
// returns everything retained.
func (h *History) Recent(limit int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	result := make([]HistoryEntry, limit)
	copy(result, h.entries[len(h.entries)-limit:])
	return result
}

// Latest returns the most recent retained recommendation for positionID.
func (h *History) Latest(positionID string) (HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	idx, ok := h.latest[positionID]
	if !ok || idx < 0 {
		return HistoryEntry{}, false
	}
	return h.entries[idx], true
}

// Stats returns aggregate counters.
func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HistoryStats{
		Total:     h.total,
		ByVerdict: make(map[domain.Verdict]int, len(h.byVerdict)),
		Positions: len(h.latest),
	}
	for v, n := range h.byVerdict {
		stats.ByVerdict[v] = n
	}
	return stats
}

// Close flushes and closes the CSV mirror.
func (h *History) Close() error {
	stats := h.Stats()
	h.logger.Info("Closing recommendation history",
		zap.Int("total", stats.Total),
		zap.Int("positions", stats.Positions))

	if h.csvWriter == nil {
		return nil
	}
	return h.csvWriter.Close()
}
