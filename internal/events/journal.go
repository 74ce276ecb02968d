package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/logger"
)

// Journal appends records as newline-delimited JSON.
type Journal struct {
	writer *logger.SafeFileWriter
}

// NewJournal opens (or creates) the event log at path.
func NewJournal(path string, flushInterval time.Duration, log *zap.Logger) (*Journal, error) {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	w, err := logger.NewSafeFileWriter(path, flushInterval, log.Named("journal"))
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	return &Journal{writer: w}, nil
}

// Handle writes one record.
func (j *Journal) Handle(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return j.writer.WriteLine(string(line))
}

// Flush forces buffered records to disk.
func (j *Journal) Flush() error {
	return j.writer.Flush()
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	return j.writer.Close()
}
