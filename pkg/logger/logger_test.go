package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name  string
		emit  func()
		color string
	}{
		{"error", func() { log.Error("failed") }, colorRed},
		{"warn", func() { log.Warn("careful") }, colorYellow},
		{"debug", func() { log.Debug("details") }, colorGray},
		{"highlight", func() { log.Info("Prediction finished", "documents", 3) }, colorGreen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.emit()
			out := buf.String()
			assert.True(t, strings.HasPrefix(out, tt.color), out)
			assert.True(t, strings.HasSuffix(out, colorReset), out)
		})
	}

	buf.Reset()
	log.With("run_id", "r1").Info("Evaluated batch")
	assert.NotContains(t, buf.String(), "\033[")
	assert.Contains(t, buf.String(), "run_id=r1")
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "JSON", nil)).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
