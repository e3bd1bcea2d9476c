// ABOUTME: Logger setup for the opsdesk CLI
// ABOUTME: JSON handler for machines, a console handler for terminals

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/quorvo/opsdesk/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newConsoleHandler(os.Stdout, level))
}

// consoleHandler writes one line per record: timestamp, level, the
// subsystem name in brackets, message, then key=value attrs. Every
// engine subsystem tags itself with a "component" attr; pulling it out
// of the attr list keeps the lines scannable when several subsystems
// interleave.
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Level
	component string
	attrs     []slog.Attr
	groups    []string
}

func newConsoleHandler(out io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func levelTag(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return color.MagentaString("DBG")
	case slog.LevelWarn:
		return color.YellowString("WRN")
	case slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	default:
		return color.CyanString("INF")
	}
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	prefix := strings.Join(h.groups, ".")

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteByte(' ')
	buf.WriteString(levelTag(r.Level))
	buf.WriteByte(' ')

	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && component == "" {
			component = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	})

	if component != "" {
		buf.WriteString(color.CyanString("[" + component + "]"))
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Message)

	// Attrs bound via WithAttrs carry their group prefix already.
	for _, a := range h.attrs {
		writeAttr(&buf, a.Key, a.Value)
	}
	for _, a := range rest {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		writeAttr(&buf, key, a.Value)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, key string, value slog.Value) {
	buf.WriteString(color.HiBlackString(" " + key + "="))
	buf.WriteString(value.String())
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = h.attrs[:len(h.attrs):len(h.attrs)]
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if a.Key == "component" && next.component == "" {
			next.component = a.Value.String()
			continue
		}
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(next.groups[:len(next.groups):len(next.groups)], name)
	return &next
}
