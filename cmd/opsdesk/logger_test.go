// ABOUTME: Tests for the console log handler
// ABOUTME: Covers component extraction, group prefixes, level filtering

package main

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func plainColors(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestConsoleHandlerRendersComponentAndGroups(t *testing.T) {
	plainColors(t)

	var out strings.Builder
	logger := slog.New(newConsoleHandler(&out, slog.LevelDebug)).
		With("component", "livefeed", "attempt", 3)

	logger.WithGroup("conn").Info("push channel connected", "url", "ws://backend/ws")

	line := out.String()
	assert.Contains(t, line, "INF [livefeed] push channel connected")
	assert.Contains(t, line, " attempt=3")
	assert.Contains(t, line, " conn.url=ws://backend/ws")
}

func TestConsoleHandlerPullsComponentFromRecordAttrs(t *testing.T) {
	plainColors(t)

	var out strings.Builder
	logger := slog.New(newConsoleHandler(&out, slog.LevelDebug))

	logger.Warn("reconcile poll failed", "component", "poller", "error", "boom")

	line := out.String()
	assert.Contains(t, line, "WRN [poller] reconcile poll failed")
	assert.Contains(t, line, " error=boom")
	assert.NotContains(t, line, "component=")
}

func TestConsoleHandlerFiltersBelowLevel(t *testing.T) {
	plainColors(t)

	var out strings.Builder
	logger := slog.New(newConsoleHandler(&out, slog.LevelInfo))

	logger.Debug("hidden")
	assert.Empty(t, out.String())
}
