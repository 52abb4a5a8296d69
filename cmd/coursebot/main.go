package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/coursebot/internal/app"
	"github.com/markdave123-py/coursebot/internal/config"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coursebot",
	Short: "Keep course files searchable",
	Long: `coursebot mirrors the files of one Canvas course into Postgres:
it extracts their text, splits it into chunks, embeds every chunk and
removes resources that disappeared from the course.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)
		return nil
	},
}

// openApp connects to the database and builds every configured component.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return a, nil
}

func main() {
	// SIGINT/SIGTERM cancel in-flight runs.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
