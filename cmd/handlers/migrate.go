package handlers

import (
	"context"
	"fmt"

	"podpipe/internal/config"
	"podpipe/internal/logger"
	"podpipe/internal/persistence"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Manage PostgreSQL schema migrations.

Migrations are embedded in the binary and applied inside the configured
schema (database.schema). Applied versions are tracked in
<schema>.schema_migrations. The SQLite backend creates its tables on open
and needs no migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status
  rollback Roll back the last migration (use with caution!)`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration",
		Long: `Roll back the last applied migration.

WARNING: This only removes the migration record from schema_migrations.
You must manually revert any database schema changes!
Use --force to skip confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

// postgresStore opens the networked backend; migrations only exist there
func postgresStore(ctx context.Context) (*persistence.PostgresStore, error) {
	cfg := config.Get()
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("migrations apply to PostgreSQL only (database.driver is %q)", cfg.Database.Driver)
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return backend.(*persistence.PostgresStore), nil
}

func runMigrateUp(ctx context.Context) error {
	logger.Info("Starting database migration")

	// opening the store already applies pending migrations
	pg, err := postgresStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrations().Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(okStyle.Render(fmt.Sprintf("✓ All migrations applied in schema %q", pg.Schema())))
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	pg, err := postgresStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	status, err := pg.Migrations().Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	printHeading(fmt.Sprintf("Migration status (schema %s)", pg.Schema()))
	w := newTable()
	fmt.Fprintf(w, "Version\tStatus\tDescription\n")

	applied, pending := 0, 0
	for _, m := range status {
		state := warnStyle.Render("pending")
		if m.Applied {
			state = okStyle.Render("applied")
			applied++
		} else {
			pending++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, state, m.Description)
	}
	w.Flush()

	fmt.Printf("\nApplied: %d | Pending: %d | Total: %d\n", applied, pending, len(status))
	if pending > 0 {
		fmt.Println("\nRun 'podpipe migrate up' to apply pending migrations")
	}
	return nil
}

func runMigrateRollback(ctx context.Context, force bool) error {
	if !force {
		fmt.Println(warnStyle.Render("WARNING: Rolling back migrations is dangerous!"))
		fmt.Println("This will only remove the migration record from schema_migrations.")
		fmt.Println("You must manually revert any database schema changes.")
		fmt.Print("\nAre you sure you want to proceed? (yes/no): ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if response != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	pg, err := postgresStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	version, err := pg.Migrations().Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	logger.Warn("Migration record removed - remember to manually revert database changes", "version", version)
	fmt.Printf("Migration %d record removed. You must manually revert database changes\n", version)
	return nil
}
