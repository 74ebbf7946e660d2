package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var entries []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestLogStructuredEntry(t *testing.T) {
	buf := captureLogs(t)

	Warn("probe failed", "list", "news@lists.example.com", "status", 500)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "probe failed", entries[0]["msg"])
	assert.Equal(t, "500", entries[0]["status"])
	assert.Equal(t, "ne***@lists.example.com", entries[0]["list"])
	assert.NotEmpty(t, entries[0]["time"])
}

func TestLogRedactsIdentifier(t *testing.T) {
	buf := captureLogs(t)

	Info("access", "identifier", "jane.doe@example.com")
	Info("access", "identifier", "user-12345")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "ja***@example.com", entries[0]["identifier"])
	assert.Equal(t, "us***", entries[1]["identifier"])
}

func TestLogWithoutRedaction(t *testing.T) {
	buf := captureLogs(t)
	SetRedactPII(false)

	Info("access", "identifier", "jane.doe@example.com")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "jane.doe@example.com", entries[0]["identifier"])
}

func TestLogLevelFilter(t *testing.T) {
	buf := captureLogs(t)
	SetLevel(WARN)

	Debug("hidden")
	Info("hidden")
	Warn("shown")
	Error("shown")

	assert.Len(t, decodeEntries(t, buf), 2)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactIdentifier(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactIdentifier("john.doe@example.com"))
	assert.Equal(t, "ab***", RedactIdentifier("abcdef"))
	assert.Equal(t, "***", RedactIdentifier("ab"))
}
