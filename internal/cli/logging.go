package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/recsync/internal/config"
)

// newLogger builds the slog logger for a command. --verbose forces
// debug level.
func newLogger(w io.Writer, settings config.Log, verbose bool) (*slog.Logger, error) {
	level, err := config.ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if settings.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}
