package app

import (
	"io"
	"log/slog"
	"os"

	"github.com/tpodg/staticnet/internal/config"
)

type App struct {
	Logger *slog.Logger
	Config *config.Config
}

// New builds the App. Logs go to stderr so stdout stays free for reports.
func New(cfg *config.Config) *App {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with a custom log destination.
func NewWithWriter(cfg *config.Config, w io.Writer) *App {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))

	return &App{
		Logger: logger,
		Config: cfg,
	}
}
