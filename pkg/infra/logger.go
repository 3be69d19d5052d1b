package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Guizzs26/go-lead-dialler/internal/config"
)

var logFile *os.File

func SetupLogger(cfg *config.Config) *slog.Logger {
	return slog.New(NewHandler(cfg, openLogFile(cfg.LogFile)))
}

// NewHandler builds the text or JSON handler configured by LOG_LEVEL and LOG_FORMAT.
// Output always goes to stdout, plus extra when it is non-nil
func NewHandler(cfg *config.Config, extra io.Writer) slog.Handler {
	var w io.Writer = os.Stdout
	if extra != nil {
		w = io.MultiWriter(os.Stdout, extra)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CloseLogger flushes and closes the log file opened by SetupLogger
func CloseLogger() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

func openLogFile(path string) io.Writer {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Warn("Could not open log file, logging to stdout only", "path", path, "error", err)
		return nil
	}
	logFile = f
	return f
}
