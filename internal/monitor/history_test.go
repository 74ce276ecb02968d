package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

func recommendation(id string, seq uint64, verdict domain.Verdict) domain.Recommendation {
	return domain.Recommendation{
		PositionID:          id,
		Symbol:              "BTCUSDT",
		PollSeq:             seq,
		Verdict:             verdict,
		AggregateConfidence: dec("0.6"),
		DissentCount:        2,
		Votes: []domain.Vote{
			{PersonaID: "strategic", Decision: verdict, Confidence: dec("1")},
			{PersonaID: "patient", Decision: domain.VerdictHold, Confidence: dec("0")},
		},
	}
}

func TestHistoryBoundedRing(t *testing.T) {
	h, err := NewHistory(3, "", time.Second, zap.NewNop())
	require.NoError(t, err)
	defer h.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		id := "P1"
		if seq == 2 {
			id = "P2"
		}
		require.NoError(t, h.Add(epoch, recommendation(id, seq, domain.VerdictHold)))
	}

	recent := h.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(3), recent[0].Recommendation.PollSeq)
	assert.Equal(t, uint64(5), recent[2].Recommendation.PollSeq)

	last := h.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, uint64(5), last[0].Recommendation.PollSeq)

	latest, ok := h.Latest("P1")
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.Recommendation.PollSeq)
	_, ok = h.Latest("P2")
	assert.False(t, ok)

	stats := h.Stats()
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 5, stats.ByVerdict[domain.VerdictHold])
}

func TestHistoryCSVMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "recommendations.csv")
	h, err := NewHistory(10, path, time.Hour, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, h.Add(epoch, recommendation("P1", 2, domain.VerdictExitPartial)))
	require.NoError(t, h.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CSVHeaders(), rows[0])
	assert.Equal(t, []string{
		"2026-03-01T12:00:00Z", "2", "P1", "BTCUSDT", "exit_partial", "0.6", "2",
		"strategic=exit_partial:1;patient=hold:0",
	}, rows[1])
}

func TestHistoryConcurrentAccess(t *testing.T) {
	h, err := NewHistory(100, "", time.Second, zap.NewNop())
	require.NoError(t, err)
	defer h.Close()

	var wg sync.WaitGroup
	numGoroutines := 10
	wg.Add(numGoroutines * 2)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, h.Add(epoch, recommendation(fmt.Sprintf("P%d", id), uint64(j), domain.VerdictHold)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.Recent(10)
				_ = h.Stats()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*50, h.Stats().Total)
	assert.Len(t, h.Recent(0), 100)
}

func TestHistoryRejectsNonPositiveSize(t *testing.T) {
	_, err := NewHistory(0, "", time.Second, zap.NewNop())
	assert.Error(t, err)
}
