package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateCmd.PersistentFlags().String("path", "migrations", "path to migrations directory")
	migrateCmd.PersistentFlags().Int("steps", 0, "number of steps (0 = all)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, 1)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, -1)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrator(cmd)
		if err != nil {
			return err
		}
		defer m.Close()
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %v\n", v, dirty)
		return nil
	},
}

func newMigrator(cmd *cobra.Command) (*migrate.Migrate, error) {
	dsn, err := databaseURL()
	if err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("path")
	m, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// runMigration moves the schema in direction (1 up, -1 down) by --steps, or all the way.
func runMigration(cmd *cobra.Command, direction int) error {
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 0 {
		return fmt.Errorf("--steps must not be negative")
	}
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	switch {
	case steps > 0:
		err = m.Steps(direction * steps)
	case direction > 0:
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, _ := m.Version()
	fmt.Fprintf(cmd.OutOrStdout(), "migration %s complete (version: %d, dirty: %v)\n", cmd.Name(), v, dirty)
	return nil
}
