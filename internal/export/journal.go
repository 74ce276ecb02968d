package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
)

// maxLine bounds a single journal line.
const maxLine = 4 << 20

type journalLine struct {
	TS         time.Time       `json:"ts"`
	PollSeq    uint64          `json:"poll_seq"`
	Kind       events.Kind     `json:"kind"`
	PositionID string          `json:"position_id"`
	Payload    json.RawMessage `json:"payload"`
}

// ReadJournal extracts the recommendation records of an NDJSON event
// journal. Lines that do not decode are skipped and counted.
func ReadJournal(r io.Reader, logger *zap.Logger) ([]monitor.HistoryEntry, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var (
		entries []monitor.HistoryEntry
		skipped int
		lineNo  int
	)
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line journalLine
		if err := json.Unmarshal(raw, &line); err != nil {
			skipped++
			logger.Debug("Skipping undecodable journal line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if line.Kind != events.KindRecommendation {
			continue
		}

		var rec domain.Recommendation
		if err := json.Unmarshal(line.Payload, &rec); err != nil {
			skipped++
			logger.Debug("Skipping undecodable recommendation", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		entries = append(entries, monitor.HistoryEntry{TS: line.TS, Recommendation: rec})
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("read journal: %w", err)
	}
	return entries, skipped, nil
}

// ReadJournalFile opens path and reads it with ReadJournal.
func ReadJournalFile(path string, logger *zap.Logger) ([]monitor.HistoryEntry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	return ReadJournal(f, logger)
}
