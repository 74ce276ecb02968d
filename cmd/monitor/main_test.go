package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/position-monitor/internal/app"
)

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
		out  string
	}{
		{"no command", nil, app.ExitConfig, "Usage:"},
		{"unknown command", []string{"watch"}, app.ExitConfig, `unknown command "watch"`},
		{"unknown flag", []string{"once", "--verbose"}, app.ExitConfig, "unknown flag"},
		{"mode is run only", []string{"once", "--mode", "execute"}, app.ExitConfig, "unknown flag"},
		{"bad interval", []string{"run", "--interval", "soon", "--env-file", "missing.env"}, app.ExitConfig, "interval"},
		{"bad mode", []string{"run", "--mode", "yolo", "--env-file", "missing.env"}, app.ExitConfig, "mode"},
		{"missing config file", []string{"once", "--config", "does-not-exist.yaml", "--env-file", "missing.env"}, app.ExitConfig, "does-not-exist.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.want, run(tt.args, &stdout, &stderr))
			assert.Contains(t, stderr.String(), tt.out)
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, app.ExitOK, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "monitor once")
}

func TestRunExport(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "events.ndjson")
	lines := `{"ts":"2026-03-01T09:00:00Z","poll_seq":1,"kind":"open","position_id":"P1","payload":{}}
{"ts":"2026-03-01T09:00:00Z","poll_seq":1,"kind":"recommendation","position_id":"P1","payload":{"position_id":"P1","symbol":"BTCUSDT","poll_seq":1,"verdict":"exit_full","aggregate_confidence":"0.9","dissent_count":0,"votes":[]}}
`
	require.NoError(t, os.WriteFile(journal, []byte(lines), 0o644))

	out := filepath.Join(dir, "out")
	var stdout, stderr bytes.Buffer
	code := run([]string{"export", "--journal", journal, "--format", "json", "--out", out, "--log-level", "error"}, &stdout, &stderr)
	require.Equal(t, app.ExitOK, code, stderr.String())

	path := strings.TrimSpace(stdout.String())
	assert.True(t, strings.HasPrefix(path, out), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exit_full"`)
}

func TestRunExportErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, app.ExitConfig, run([]string{"export"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--journal is required")

	stderr.Reset()
	assert.Equal(t, app.ExitConfig, run([]string{"export", "--journal", "x", "--verdict", "sell"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown verdict")
}
