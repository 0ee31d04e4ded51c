package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/prepbook/internal/logger"
	"github.com/liamcoop/prepbook/store"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (required)")
	flag.StringVar(&migrationsPath, "path", "", "Migrations directory (default: migrations embedded in the binary)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, steps, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	m, err := open(databaseURL, migrationsPath)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		logger.Fatal("migration failed", "command", command, "error", err)
	}
}

func open(databaseURL, path string) (*migrate.Migrate, error) {
	if path == "" {
		logger.Info("using embedded migrations")
		return store.NewMigrator(databaseURL)
	}
	logger.Info("using migrations directory", "path", path)
	return migrate.New(fmt.Sprintf("file://%s", path), databaseURL)
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("rollback completed")

	case "steps":
		n, err := intArg(args, "steps")
		if err != nil {
			return err
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("stepped migrations", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		version, err := intArg(args, "force")
		if err != nil {
			return err
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("forced version", "version", version)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, steps, version, force)", command)
	}
	return nil
}

func intArg(args []string, command string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s requires a number: -command %s <n>", command, command)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return n, nil
}
