package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/btouchard/burrow/internal/config"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleHandler renders colored text on a terminal and JSON otherwise.
func consoleHandler(w io.Writer, fd uintptr, level slog.Level) slog.Handler {
	if term.IsTerminal(int(fd)) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func setupLogging(cfg *config.Config, verbose int) {
	level := parseLevel(cfg.Server.LogLevel)
	if verbose > 0 {
		level = min(level, slog.LevelDebug)
	}

	handlers := []slog.Handler{
		consoleHandler(os.Stderr, os.Stderr.Fd(), level),
	}

	if cfg.Server.LogFile != "" {
		path := config.ExpandHome(cfg.Server.LogFile)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640) //nolint:gosec // path comes from config
		if err != nil {
			slog.Warn("failed to open log file, using stderr only", "path", path, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}
