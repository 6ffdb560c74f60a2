package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/databio/refgenies/internal/config"
)

func resolvedWith(level, format string) *config.Resolved {
	cfg := config.DefaultConfig()
	cfg.LogLevel = level
	cfg.LogFormat = format

	return &config.Resolved{Config: *cfg}
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		flags   CLIFlags
		enabled slog.Level
		muted   slog.Level
	}{
		{"config info", "info", CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"config error", "error", CLIFlags{}, slog.LevelError, slog.LevelWarn},
		{"verbose wins", "error", CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet wins", "debug", CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := buildLogger(&bytes.Buffer{}, resolvedWith(tt.level, config.LogFormatText), tt.flags)

			assert.True(t, logger.Handler().Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Handler().Enabled(context.Background(), tt.muted))
		})
	}
}

func TestBuildLogger_Format(t *testing.T) {
	var buf bytes.Buffer

	buildLogger(&buf, resolvedWith("info", config.LogFormatJSON), CLIFlags{}).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	buildLogger(&buf, resolvedWith("info", config.LogFormatText), CLIFlags{}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	// auto: a non-terminal writer gets JSON.
	buf.Reset()
	buildLogger(&buf, resolvedWith("info", config.LogFormatAuto), CLIFlags{}).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"archive", "verify", "history"})
	assert.NotNil(t, cmd.PersistentFlags().ShorthandLookup("c"))
}
