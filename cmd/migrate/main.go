// Package main provides the ClickHouse migration CLI for the log ingestion
// pipeline's persistence layer (C6).
//
// Usage Examples:
//
//	migrate up                    # Run all pending migrations
//	migrate down                  # Rollback 1 migration (with confirmation)
//	migrate down -steps 5         # Rollback 5 migrations (with confirmation)
//	migrate status                # Show migration status
//	migrate goto -version 5       # Migrate to specific version (with confirmation)
//	migrate force -version 3      # Force version (with confirmation)
//	migrate drop                  # Drop all tables (with confirmation)
//	migrate steps -steps 2        # Run 2 steps forward
//	migrate steps -steps -1       # Run 1 step backward
//	migrate create -name "add_logs_table"
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"logpipe/internal/config"
	"logpipe/internal/migration"
)

type MigrateFlags struct {
	Steps   int
	Version int
	Name    string
	DryRun  bool
}

func parseFlags(args []string) (*MigrateFlags, string, error) {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" || arg == "help" {
			return nil, "help", nil
		}
	}

	if len(args) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := &MigrateFlags{}
	fs.IntVar(&flags.Steps, "steps", 0, "Number of migration steps (0 = all)")
	fs.IntVar(&flags.Version, "version", 0, "Target version for goto/force commands")
	fs.StringVar(&flags.Name, "name", "", "Migration name for create command")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "Show what would be migrated without executing")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	remainingArgs := fs.Args()
	if len(remainingArgs) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}

	command := remainingArgs[0]

	if len(remainingArgs) > 1 {
		if err := fs.Parse(remainingArgs[1:]); err != nil {
			return nil, "", err
		}
	}

	return flags, command, nil
}

func main() {
	flags, command, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("error parsing flags: %v", err)
	}

	if command == "help" || command == "" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	manager, err := migration.NewManager(cfg)
	if err != nil {
		log.Fatalf("failed to initialize migration manager: %v", err)
	}
	defer manager.Shutdown()

	ctx := context.Background()

	switch command {
	case "up":
		if err := manager.MigrateUp(ctx, flags.Steps, flags.DryRun); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		fmt.Println("migrations completed successfully")

	case "down":
		downSteps := flags.Steps
		if downSteps == 0 {
			downSteps = 1
		}
		if !confirmDestructiveOperation(fmt.Sprintf("rollback %d migration(s)", downSteps)) {
			fmt.Println("operation cancelled")
			return
		}
		if err := manager.MigrateDown(ctx, downSteps, flags.DryRun); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		fmt.Println("rollback completed successfully")

	case "status":
		if err := manager.ShowStatus(ctx); err != nil {
			log.Fatalf("failed to show status: %v", err)
		}

	case "goto":
		if flags.Version == 0 {
			log.Fatal("version must be specified for goto command (use -version flag)")
		}
		if !confirmDestructiveOperation(fmt.Sprintf("migrate to version %d", flags.Version)) {
			fmt.Println("operation cancelled")
			return
		}
		if err := manager.Goto(uint(flags.Version)); err != nil {
			log.Fatalf("failed to migrate to version %d: %v", flags.Version, err)
		}
		fmt.Printf("migrated to version %d successfully\n", flags.Version)

	case "force":
		if flags.Version == 0 {
			log.Fatal("version must be specified for force command (use -version flag)")
		}
		if !confirmDestructiveOperation(fmt.Sprintf("FORCE migration to version %d (DANGEROUS)", flags.Version)) {
			fmt.Println("operation cancelled")
			return
		}
		if err := manager.Force(flags.Version); err != nil {
			log.Fatalf("failed to force migration to version %d: %v", flags.Version, err)
		}
		fmt.Printf("forced migration to version %d successfully\n", flags.Version)

	case "drop":
		if !confirmDestructiveOperation("DROP ALL TABLES (PERMANENT DATA LOSS)") {
			fmt.Println("operation cancelled")
			return
		}
		if err := manager.Drop(); err != nil {
			log.Fatalf("failed to drop tables: %v", err)
		}
		fmt.Println("tables dropped successfully")

	case "steps":
		if flags.Steps == 0 {
			log.Fatal("steps must be specified for steps command (use -steps flag)")
		}
		if flags.Steps < 0 && !confirmDestructiveOperation(fmt.Sprintf("rollback %d migration steps", -flags.Steps)) {
			fmt.Println("operation cancelled")
			return
		}
		if err := manager.Steps(flags.Steps); err != nil {
			log.Fatalf("failed to run %d migration steps: %v", flags.Steps, err)
		}
		fmt.Printf("ran %d migration steps successfully\n", flags.Steps)

	case "info":
		status := manager.GetStatus()
		fmt.Println("Migration Information")
		fmt.Println(strings.Repeat("=", 40))
		fmt.Printf("  Status:           %s\n", getStatusIcon(status.Status))
		fmt.Printf("  Current Version:  %d\n", status.CurrentVersion)
		fmt.Printf("  Dirty State:      %v\n", status.IsDirty)
		fmt.Printf("  Migrations Path:  %s\n", status.MigrationsPath)
		if status.Error != "" {
			fmt.Printf("  Error:            %s\n", status.Error)
		}

	case "create":
		if flags.Name == "" {
			log.Fatal("migration name is required for create command (use -name flag)")
		}
		if err := manager.CreateMigration(flags.Name); err != nil {
			log.Fatalf("failed to create migration: %v", err)
		}

	default:
		fmt.Printf("unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func confirmDestructiveOperation(operation string) bool {
	fmt.Printf("DANGER: about to %s.\n", operation)
	fmt.Printf("This action cannot be undone and may result in data loss.\n")
	fmt.Print("Type 'yes' to confirm (anything else will cancel): ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes"
}

func getStatusIcon(status string) string {
	switch status {
	case "healthy":
		return "HEALTHY"
	case "dirty":
		return "DIRTY"
	case "error":
		return "ERROR"
	default:
		return strings.ToUpper(status)
	}
}

func printUsage() {
	fmt.Println("logpipe migration tool - ClickHouse schema migration CLI")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  migrate <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  up                    Run all pending migrations")
	fmt.Println("  down                  Rollback 1 migration (use -steps for more)")
	fmt.Println("  status                Show migration status")
	fmt.Println("  goto -version N       Migrate to specific version (with confirmation)")
	fmt.Println("  force -version N      Force version without migration (DANGEROUS)")
	fmt.Println("  drop                  Drop all tables (DANGEROUS)")
	fmt.Println("  steps -steps N        Run N migration steps (negative for rollback)")
	fmt.Println("  info                  Show detailed migration information")
	fmt.Println("  create -name NAME     Create new migration files")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -steps int           Number of migration steps")
	fmt.Println("  -version int         Target version for goto/force commands")
	fmt.Println("  -name string         Migration name for create command")
	fmt.Println("  -dry-run             Show what would happen without executing")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  migrate up                     # Run all pending migrations")
	fmt.Println("  migrate status                 # Show migration status")
	fmt.Println("  migrate down -steps 5          # Rollback 5 migrations")
	fmt.Println("  migrate goto -version 5        # Go to version 5 with confirmation")
	fmt.Println("  migrate create -name add_logs_table")
	fmt.Println("  migrate up -dry-run            # Preview migrations")
	fmt.Println()
	fmt.Println("SAFETY:")
	fmt.Println("  Destructive operations require explicit 'yes' confirmation")
	fmt.Println("  Use -dry-run to preview changes safely")
	fmt.Println("  Check 'status' and 'info' before running migrations")
}
