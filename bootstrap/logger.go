package bootstrap

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xancrypt/xancrypt/config"
)

// SetupLogger builds the process logger from cfg and sets the global level.
// When a log file is configured, output is duplicated into a rotating file.
// The returned closer releases the file and is safe to call when no file is used.
func SetupLogger(cfg config.LoggingConfig, stdout io.Writer) (zerolog.Logger, io.Closer) {
	if stdout == nil {
		stdout = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = stdout
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}

	if cfg.File == "" {
		return zerolog.New(console).With().Timestamp().Logger(), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	out := zerolog.MultiLevelWriter(console, file)
	return zerolog.New(out).With().Timestamp().Logger(), file
}

// applyLogLevel switches the global level; unknown levels are ignored.
func applyLogLevel(level string, logger zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logger.Warn().Str("level", level).Msg("ignoring unknown log level")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
