package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/peerchat/internal/config"
	"github.com/spf13/cobra"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "default empty", input: "", want: slog.LevelInfo},
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning alias", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "trimmed uppercase", input: "  DEBUG  ", want: slog.LevelDebug},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseLogLevel(%q) expected error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLogLevel(%q) error = %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("parseLogLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestRootCmdRejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()

	_, stderr, err := executeCLI(t, "--log-level", "trace", "version")
	if err == nil {
		t.Fatalf("expected invalid --log-level to fail")
	}
	if !strings.Contains(err.Error(), "invalid --log-level") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "invalid --log-level") {
		t.Fatalf("stderr should include invalid --log-level, got %q", stderr)
	}
}

func TestLoggerFromConfigUsesConfiguredLevel(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetErr(&stderr)

	logger, err := loggerFromConfig(cmd, &config.Config{LogLevel: "warn"})
	if err != nil {
		t.Fatalf("loggerFromConfig() error = %v", err)
	}
	logger.Info("quiet line")
	logger.Warn("loud line")
	out := stderr.String()
	if strings.Contains(out, "quiet line") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "loud line") {
		t.Fatalf("warn line missing: %q", out)
	}

	if _, err := loggerFromConfig(cmd, &config.Config{LogLevel: "verbose"}); err == nil {
		t.Fatalf("loggerFromConfig(verbose) expected error")
	}
}

func TestConfigFileLogLevel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.DefaultFileName), []byte("log_level = \"trace\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, err := executeCLI(t, "--dir", dir, "init")
	if err == nil || !strings.Contains(err.Error(), "invalid --log-level") {
		t.Fatalf("init with log_level=trace error = %v, want invalid --log-level", err)
	}

	if _, stderr, err := executeCLI(t, "--dir", dir, "--log-level", "info", "init"); err != nil {
		t.Fatalf("init with --log-level override error = %v, stderr=%s", err, stderr)
	}
}
