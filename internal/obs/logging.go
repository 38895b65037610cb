// Package obs contains observability utilities such as logging.
package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global structured logger used by the service.
//
// Logger is exported to allow other packages to use it for logging.
var Logger *slog.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// InitLogger initializes the global Logger with a JSON handler at the given
// level ("debug", "info", "warn", "error"). When path is non-empty the log
// is also copied to that file; rotation is left to the process manager.
func InitLogger(level, path string) {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("log file unavailable, using stdout only", "path", path, "error", err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	Logger = slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
