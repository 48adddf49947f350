package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/persistence"
	"LiftoffLedger/internal/projection"
)

var (
	postgresURL   string
	migrationsDir string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the ledger database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&postgresURL, "dsn",
		envOrDefault("LIFTOFF_POSTGRES_DSN", "postgres://localhost:5432/liftoff?sslmode=disable"),
		"Postgres connection string")
	root.PersistentFlags().StringVar(&migrationsDir, "dir",
		envOrDefault("LIFTOFF_MIGRATIONS_DIR", "migrations"),
		"path to the migrations directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, logger zerolog.Logger) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, logger zerolog.Logger) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, _ zerolog.Logger) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tAPPLIED\tAT\tFILE")
				for _, s := range statuses {
					at := "-"
					if s.Applied {
						at = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", s.Version, s.Applied, at, s.Filename)
				}
				return w.Flush()
			}),
		},
		&cobra.Command{
			Use:   "rebuild-balances",
			Short: "Recompute projected balances from the journal",
			RunE: withMigrator(func(ctx context.Context, _ *persistence.Migrator, db *sql.DB, logger zerolog.Logger) error {
				if err := projection.RebuildBalances(ctx, db); err != nil {
					return fmt.Errorf("rebuild balances: %w", err)
				}
				logger.Info().Msg("balance projection rebuilt")
				return nil
			}),
		},
	)
	return root
}

type migratorFunc func(ctx context.Context, m *persistence.Migrator, db *sql.DB, logger zerolog.Logger) error

// withMigrator opens the database for the duration of one subcommand.
func withMigrator(fn migratorFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logger := observability.NewLogger("migrate")

		db, err := sql.Open("postgres", postgresURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		return fn(ctx, persistence.NewMigrator(db, migrationsDir, logger), db, logger)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
