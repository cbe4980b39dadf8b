package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"HookLedger/internal/observability"
	"HookLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		pgURL         string
		migrationsDir string
	)

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manages the HookLedger Postgres schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&pgURL, "postgres-url", envOrDefault("POSTGRES_URL",
		"postgres://localhost:5432/hookledger?sslmode=disable"), "Postgres connection string")
	root.PersistentFlags().StringVar(&migrationsDir, "dir", envOrDefault("MIGRATIONS_DIR", "migrations"),
		"path to the migrations directory")

	withMigrator := func(fn func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", pgURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return fn(cmd.Context(), persistence.NewMigrator(db, migrationsDir, observability.NewLogger("migrate")))
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tFILE\tAPPLIED")
				for _, s := range status {
					applied := "pending"
					if s.Applied {
						applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
				}
				return tw.Flush()
			}),
		},
	)
	return root
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
