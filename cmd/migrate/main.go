package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/pkg/distlock"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const (
	lockKey  = "mail-tracker:migrations"
	lockTTL  = 5 * time.Minute
	lockPoll = 2 * time.Second
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Store.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.Store.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			logger.Error("parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	lock := distlock.NewLock(rdb, db, lockKey, lockTTL)
	okCount, errCount, err := migrate(ctx, db, lock, dir)
	if err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

// migrate applies every .sql file in dir in name order, each in its own
// transaction, while holding lock. A failing file is rolled back and
// counted; the rest still run.
func migrate(ctx context.Context, db *sql.DB, lock distlock.DistLock, dir string) (okCount, errCount int, err error) {
	files, err := migrationFiles(dir)
	if err != nil {
		return 0, 0, err
	}

	if err := distlock.AcquireWait(ctx, lock, lockPoll); err != nil {
		return 0, 0, err
	}
	defer func() {
		if rerr := lock.Release(context.Background()); rerr != nil {
			logger.Warn("release migration lock", "error", rerr)
		}
	}()

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return okCount, errCount, fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		name := filepath.Base(path)
		if err := apply(ctx, db, content); err != nil {
			logger.Error("migration failed", "file", name, "error", err)
			errCount++
			continue
		}
		logger.Info("migration applied", "file", name)
		okCount++
	}
	return okCount, errCount, nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func apply(ctx context.Context, db *sql.DB, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
