// Command studioctl administers the studio database: it applies the
// schema, seeds the catalogue from a TOML file and creates administrator
// accounts, which the HTTP API never does.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "Studio booking administration tool",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "deadline for the whole command")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session opens the database and a console logger for one command.  The
// returned cleanup closes both.
func session(cmd *cobra.Command) (context.Context, *sql.DB, *zap.Logger, func(), error) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	log, err := logger.New("dev", "info")
	if err != nil {
		return nil, nil, nil, nil, err
	}
	db, err := database.Open(config.LoadDB())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	cleanup := func() {
		cancel()
		_ = db.Close()
		_ = log.Sync()
	}
	return ctx, db, log, cleanup, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables from the embedded schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, db, log, cleanup, err := session(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("schema applied", zap.Int("statements", len(database.Statements())))
			return nil
		},
	}
}
