// Package logger provides the slog handlers used by the command line tools.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// highlights are message prefixes printed in green at info level.
var highlights = []string{"Loss evaluation finished", "Prediction finished", "Report saved", "Predictions written"}

// ColorHandler is a text handler that colours each record by level.
// Errors are red, warnings yellow, debug gray, and a few completion messages
// green.
type ColorHandler struct {
	handler slog.Handler
	w       io.Writer
	mu      *sync.Mutex
}

// NewColorHandler creates a ColorHandler writing to w.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	return &ColorHandler{
		handler: slog.NewTextHandler(w, opts),
		w:       w,
		mu:      &sync.Mutex{},
	}
}

// Enabled implements slog.Handler
func (h *ColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	color := colorFor(r)
	h.mu.Lock()
	defer h.mu.Unlock()
	if color == "" {
		return h.handler.Handle(ctx, r)
	}
	if _, err := io.WriteString(h.w, color); err != nil {
		return err
	}
	err := h.handler.Handle(ctx, r)
	if _, werr := io.WriteString(h.w, colorReset); err == nil {
		err = werr
	}
	return err
}

// WithAttrs implements slog.Handler
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorHandler{handler: h.handler.WithAttrs(attrs), w: h.w, mu: h.mu}
}

// WithGroup implements slog.Handler
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	return &ColorHandler{handler: h.handler.WithGroup(name), w: h.w, mu: h.mu}
}

func colorFor(r slog.Record) string {
	switch {
	case r.Level >= slog.LevelError:
		return colorRed
	case r.Level >= slog.LevelWarn:
		return colorYellow
	case r.Level < slog.LevelInfo:
		return colorGray
	}
	for _, p := range highlights {
		if strings.HasPrefix(r.Message, p) {
			return colorGreen
		}
	}
	return ""
}

// NewHandler returns a JSON handler for format "json" and a ColorHandler
// otherwise.
func NewHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return NewColorHandler(w, opts)
}

// NewDefaultLogger creates a colored logger on stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown
// values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
