// Package logging sets up the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New builds a tint-formatted slog.Logger writing to os.Stderr, matching the
// colorized-when-a-terminal convention used across this project's tooling.
func New(level string) *slog.Logger {
	lv := &slog.LevelVar{}
	lv.Set(parseLevel(level))

	var w io.Writer = colorable.NewColorable(os.Stderr)
	noColor := !isatty.IsTerminal(os.Stderr.Fd())

	h := tint.NewHandler(w, &tint.Options{
		Level:      lv,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch s {
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
