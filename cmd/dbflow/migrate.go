package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/dbflow/config"
	"github.com/BaSui01/dbflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "reset":
		runMigrateReset(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  dbflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  dbflow migrate up
  dbflow migrate up --config /etc/dbflow/config.yaml
  dbflow migrate down --all
  dbflow migrate status`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		parsed, err := migration.ParseDatabaseType(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{
			DatabaseType: parsed,
			DatabaseURL:  *dbURL,
		})
	}

	// Otherwise, load from config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migratorFromDatabaseConfig(cfg.Database)
}

// migratorFromDatabaseConfig builds a migrator from the database section.
func migratorFromDatabaseConfig(db config.DatabaseConfig) (*migration.DefaultMigrator, error) {
	parsed, err := migration.ParseDatabaseType(db.DriverName())
	if err != nil {
		return nil, err
	}
	return migration.NewMigrator(&migration.Config{
		DatabaseType: parsed,
		DatabaseURL:  db.DSN(),
	})
}

// runMigrateUp applies all pending migrations
func runMigrateUp(args []string) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrator.Up(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}

// runMigrateDown rolls back the last migration, or all with --all
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")

	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	ctx := context.Background()
	if *all {
		err = migrator.DownAll(ctx)
	} else {
		err = migrator.Down(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Rollback complete")
}

// runMigrateStatus shows the status of all migrations
func runMigrateStatus(args []string) {
	fs := flag.NewFlagSet("migrate status", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	statuses, err := migrator.Status(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Version  Applied  Dirty  Name")
	for _, s := range statuses {
		fmt.Printf("%-7d  %-7t  %-5t  %s\n", s.Version, s.Applied, s.Dirty, s.Name)
	}
}

// runMigrateVersion shows the current migration version
func runMigrateVersion(args []string) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	version, dirty, err := migrator.Version(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get version: %v\n", err)
		os.Exit(1)
	}

	if version == 0 {
		fmt.Println("No migrations applied")
		return
	}
	fmt.Printf("Version: %d (dirty: %t)\n", version, dirty)
}

// runMigrateReset rolls back all migrations
func runMigrateReset(args []string) {
	fs := flag.NewFlagSet("migrate reset", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrator.DownAll(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All migrations rolled back")
}
