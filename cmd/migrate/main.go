package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/db"
	"github.com/blagoySimandov/arqrender/internal/logger"
	"github.com/blagoySimandov/arqrender/migrations"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun/migrate"
)

var errUsage = errors.New("unknown command")

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Configure(cfg.LogLevel)

	bdb, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	migrator := migrate.NewMigrator(bdb, migrations.Migrations)
	err = run(context.Background(), migrator, cfg.DBDriver, os.Args[1:], os.Stdout)
	bdb.Close()

	if errors.Is(err, errUsage) {
		fmt.Println("Usage: migrate [up|down|status|create <name>]")
		fmt.Println("  up     - Run all pending migrations")
		fmt.Println("  down   - Rollback the last migration group")
		fmt.Println("  status - Show migration status")
		fmt.Println("  create - Create new SQL migration files")
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

// run executes one migrate command. It returns instead of exiting so the
// migration lock is always released.
func run(ctx context.Context, migrator *migrate.Migrator, driver string, args []string, out io.Writer) error {
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("initialize migrator: %w", err)
	}

	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "up":
		return withLock(ctx, migrator, func() error {
			group, err := migrator.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.IsZero() {
				fmt.Fprintln(out, "No new migrations to run (database is up to date)")
				return nil
			}
			fmt.Fprintf(out, "Migrated to %s\n", group)
			return nil
		})

	case "down":
		return withLock(ctx, migrator, func() error {
			group, err := migrator.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if group.IsZero() {
				fmt.Fprintln(out, "No migrations to rollback")
				return nil
			}
			fmt.Fprintf(out, "Rolled back %s\n", group)
			return nil
		})

	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return fmt.Errorf("get migration status: %w", err)
		}
		fmt.Fprintf(out, "Migrations (driver %s):\n", driver)
		for _, m := range ms {
			status := "pending"
			if m.IsApplied() {
				status = "applied"
			}
			fmt.Fprintf(out, "  %s: %s\n", m.Name, status)
		}
		return nil

	case "create":
		name := "migration"
		if len(args) > 1 {
			name = strings.Join(args[1:], "_")
		}
		files, err := migrator.CreateTxSQLMigrations(ctx, name)
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		for _, f := range files {
			fmt.Fprintf(out, "Created migration: %s\n", f.Path)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", errUsage, cmd)
	}
}

func withLock(ctx context.Context, migrator *migrate.Migrator, fn func() error) (err error) {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if unlockErr := migrator.Unlock(ctx); unlockErr != nil {
			log.Error().Err(unlockErr).Msg("failed to release migration lock")
			err = errors.Join(err, unlockErr)
		}
	}()
	return fn()
}
