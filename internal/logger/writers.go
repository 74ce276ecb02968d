package logger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// flusher runs fn on every tick until stop is called.
type flusher struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func startFlusher(interval time.Duration, fn func()) *flusher {
	f := &flusher{ticker: time.NewTicker(interval), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-f.ticker.C:
				fn()
			case <-f.done:
				return
			}
		}
	}()
	return f
}

func (f *flusher) stop() {
	f.once.Do(func() {
		f.ticker.Stop()
		close(f.done)
	})
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// SafeFileWriter is a buffered, mutex-guarded appender with periodic
// flushing. It backs the NDJSON event journal and the optional JSON log file.
type SafeFileWriter struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	file     *os.File
	flusher  *flusher
	logger   *zap.Logger
	filePath string
	closed   bool

	writtenLines uint64
	flushCount   uint64
}

// NewSafeFileWriter opens filePath for appending.
func NewSafeFileWriter(filePath string, flushInterval time.Duration, logger *zap.Logger) (*SafeFileWriter, error) {
	file, err := openAppend(filePath)
	if err != nil {
		return nil, err
	}

	sfw := &SafeFileWriter{
		writer:   bufio.NewWriter(file),
		file:     file,
		logger:   logger,
		filePath: filePath,
	}
	sfw.flusher = startFlusher(flushInterval, func() {
		if err := sfw.Flush(); err != nil {
			sfw.logger.Error("Periodic flush failed",
				zap.String("file", sfw.filePath),
				zap.Error(err))
		}
	})
	return sfw, nil
}

// Write implements io.Writer so the writer can back a zap core.
func (sfw *SafeFileWriter) Write(data []byte) (int, error) {
	sfw.mu.Lock()
	defer sfw.mu.Unlock()

	if sfw.closed {
		return 0, os.ErrClosed
	}
	n, err := sfw.writer.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write data: %w", err)
	}
	sfw.writtenLines++
	return n, nil
}

// Sync flushes buffered data; it lets the writer serve as a zapcore.WriteSyncer.
func (sfw *SafeFileWriter) Sync() error {
	return sfw.Flush()
}

// WriteLine writes line followed by a newline as one unit.
func (sfw *SafeFileWriter) WriteLine(line string) error {
	sfw.mu.Lock()
	defer sfw.mu.Unlock()

	if sfw.closed {
		return os.ErrClosed
	}
	if _, err := sfw.writer.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	sfw.writtenLines++
	return nil
}

// Flush writes buffered data and syncs the file.
func (sfw *SafeFileWriter) Flush() error {
	sfw.mu.Lock()
	defer sfw.mu.Unlock()

	if sfw.closed {
		return nil
	}
	if err := sfw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := sfw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	sfw.flushCount++
	return nil
}

// Close flushes and closes the file. Later calls are no-ops.
func (sfw *SafeFileWriter) Close() error {
	sfw.flusher.stop()

	sfw.mu.Lock()
	defer sfw.mu.Unlock()

	if sfw.closed {
		return nil
	}
	sfw.closed = true

	if err := sfw.writer.Flush(); err != nil {
		sfw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := sfw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	sfw.logger.Debug("Safe file writer closed",
		zap.String("file", sfw.filePath),
		zap.Uint64("writtenLines", sfw.writtenLines),
		zap.Uint64("flushCount", sfw.flushCount))
	return nil
}

// GetStats returns writer statistics.
func (sfw *SafeFileWriter) GetStats() (lines, flushes uint64) {
	sfw.mu.Lock()
	defer sfw.mu.Unlock()
	return sfw.writtenLines, sfw.flushCount
}

// SafeCSVWriter appends CSV records with periodic flushing. The header is
// written only when the file is new.
type SafeCSVWriter struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	flusher  *flusher
	logger   *zap.Logger
	filePath string
	closed   bool

	writtenRecords uint64
	flushCount     uint64
}

// NewSafeCSVWriter opens filePath for appending and writes header if the
// file is empty.
func NewSafeCSVWriter(filePath string, header []string, flushInterval time.Duration, logger *zap.Logger) (*SafeCSVWriter, error) {
	file, err := openAppend(filePath)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	scw := &SafeCSVWriter{
		writer:   csv.NewWriter(file),
		file:     file,
		logger:   logger,
		filePath: filePath,
	}

	if stat.Size() == 0 && len(header) > 0 {
		if err := scw.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		scw.writer.Flush()
	}

	scw.flusher = startFlusher(flushInterval, func() {
		if err := scw.Flush(); err != nil {
			scw.logger.Error("Periodic CSV flush failed",
				zap.String("file", scw.filePath),
				zap.Error(err))
		}
	})
	return scw, nil
}

// WriteRecord writes one CSV record.
func (scw *SafeCSVWriter) WriteRecord(record []string) error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return os.ErrClosed
	}
	if err := scw.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	scw.writtenRecords++
	return nil
}

// Flush writes buffered records and syncs the file.
func (scw *SafeCSVWriter) Flush() error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return nil
	}
	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := scw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	scw.flushCount++
	return nil
}

// Close flushes and closes the file. Later calls are no-ops.
func (scw *SafeCSVWriter) Close() error {
	scw.flusher.stop()

	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return nil
	}
	scw.closed = true

	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		scw.file.Close()
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := scw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// GetStats returns CSV writer statistics.
func (scw *SafeCSVWriter) GetStats() (records, flushes uint64) {
	scw.mu.Lock()
	defer scw.mu.Unlock()
	return scw.writtenRecords, scw.flushCount
}
