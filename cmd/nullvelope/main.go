package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gabibdods/NullVelope/internal/config"
	"github.com/gabibdods/NullVelope/internal/logging"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var rootCmd = &cobra.Command{
	Use:          "nullvelope",
	Short:        "nullvelope receives mail for throwaway addresses and keeps it for a while",
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "Dotenv files to read before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sendCmd)
}

// Reads the settings and installs the logger they describe.
func setup(cmd *cobra.Command) (*config.Settings, error) {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return nil, err
	}

	settings, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	if settings.Core.Debug {
		settings.Logging.Level = "debug"
	}
	slog.SetDefault(logging.New(settings.Logging))

	return settings, nil
}

func openDB(ctx context.Context, settings *config.Settings, migrate bool) (*bun.DB, error) {
	db, err := store.Open(settings.Core.DBURI)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := store.CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("created tables")
	}

	return db, nil
}
