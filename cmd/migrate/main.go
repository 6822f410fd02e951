package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"lendinglibrary/internal/config"
	"lendinglibrary/internal/store"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, version, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	config.LoadEnvFiles()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	dir := migrationsDir()

	if *command == "create" {
		if *name == "" {
			fatal(logger, "name is required for 'create' command", nil)
		}
		if err := goose.Create(nil, dir, *name, "sql"); err != nil {
			fatal(logger, "failed to create migration", err)
		}
		logger.Info("migration created", slog.String("name", *name), slog.String("dir", dir))
		return
	}

	ctx := context.Background()
	pool, err := store.OpenPool(ctx, store.PoolConfig{DSN: databaseDSN(), ConnectTimeout: 5 * time.Second})
	if err != nil {
		fatal(logger, "failed to connect to database", err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		fatal(logger, "failed to set dialect", err)
	}

	switch *command {
	case "up":
		err = goose.UpContext(ctx, db, dir)
	case "down":
		err = goose.DownContext(ctx, db, dir)
	case "status":
		err = goose.StatusContext(ctx, db, dir)
	case "version":
		err = goose.VersionContext(ctx, db, dir)
	default:
		fatal(logger, "unknown command, use: up, down, status, version, create", nil)
	}
	if err != nil {
		fatal(logger, "migration command failed", err)
	}
	logger.Info("migration command finished", slog.String("command", *command))
}

func fatal(logger *slog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, slog.Any("error", err))
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
