package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"lendinglibrary/internal/config"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/platform/crypto"
	"lendinglibrary/internal/store"

	"github.com/jackc/pgx/v5"
)

type seedBook struct {
	Title  string
	Author string
	ISBN   string
	Copies int
}

var books = []seedBook{
	{"The Left Hand of Darkness", "Ursula K. Le Guin", "9780441478125", 3},
	{"Kindred", "Octavia E. Butler", "978-0-8070-8369-7", 2},
	{"Dune", "Frank Herbert", "9780441013593", 4},
	{"Beloved", "Toni Morrison", "9781400033416", 1},
	{"The Dispossessed", "Ursula K. Le Guin", "9780061054884", 2},
	{"Parable of the Sower", "Octavia E. Butler", "9781538732182", 1},
}

var devUsers = []struct {
	ID   string
	Role string
}{
	{"member-alice", "member"},
	{"member-bob", "member"},
	{"staff-desk", "staff"},
	{"staff-admin", "superstaff"},
}

func main() {
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed development tokens")
	flag.Parse()

	config.LoadEnvFiles()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := store.OpenPool(ctx, store.PoolConfig{DSN: cfg.DatabaseDSN})
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	batch := &pgx.Batch{}
	for _, b := range books {
		batch.Queue(`
			INSERT INTO books (title, author, isbn, total_count, available_count)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (isbn) DO NOTHING`,
			b.Title, b.Author, inventory.NormalizeISBN(b.ISBN), b.Copies)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		logger.Error("failed to insert books", slog.Any("error", err))
		os.Exit(1)
	}

	var total int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM books").Scan(&total); err != nil {
		logger.Error("failed to count books", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("books seeded", slog.Int("catalog_size", total))

	for _, u := range devUsers {
		token, err := crypto.GenerateToken(cfg.JWTSecret, u.ID, u.Role, *tokenTTL)
		if err != nil {
			logger.Error("failed to issue token", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("%-12s %-10s %s\n", u.ID, u.Role, token)
	}
}
