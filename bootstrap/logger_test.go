package bootstrap_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/bootstrap"
	"github.com/xancrypt/xancrypt/config"
)

func zerologDiscard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		wantText string
		wantJSON bool
	}{
		{"json", config.LoggingConfig{Level: "info", Format: "json"}, `"message":"hello"`, true},
		{"console", config.LoggingConfig{Level: "info", Format: "console"}, "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, closer := bootstrap.SetupLogger(tt.cfg, &buf)
			defer closer.Close()

			logger.Info().Msg("hello")
			logger.Debug().Msg("hidden")

			out := buf.String()
			if !strings.Contains(out, tt.wantText) {
				t.Errorf("output %q does not contain %q", out, tt.wantText)
			}
			if strings.Contains(out, "hidden") {
				t.Error("debug message should be filtered at info level")
			}
			if got := strings.HasPrefix(out, "{"); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v", got, tt.wantJSON)
			}
		})
	}
}

func TestSetupLogger_File(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	path := filepath.Join(t.TempDir(), "xancrypt.log")
	var buf bytes.Buffer
	logger, closer := bootstrap.SetupLogger(config.LoggingConfig{
		Level:      "warn",
		Format:     "json",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, &buf)

	logger.Warn().Msg("disk is filling up")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "disk is filling up") {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(buf.String(), "disk is filling up") {
		t.Error("stdout should receive the message too")
	}
}
