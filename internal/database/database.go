package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
}

func New(dsn string) (*DB, error) {
	// Add connection timeout if not present
	if !strings.Contains(dsn, "connect_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&connect_timeout=10"
		} else {
			dsn += "?connect_timeout=10"
		}
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) RunMigrations() error {
	migrations := []string{
		"001_jobs_tasks.sql",
	}

	cwd, _ := os.Getwd()
	basePaths := []string{
		"migrations/",
		"../migrations/",
		filepath.Join(filepath.Dir(os.Args[0]), "migrations/"),
		filepath.Join(cwd, "migrations/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, migration := range migrations {
		var migrationSQL []byte
		var err error

		for _, basePath := range basePaths {
			migrationSQL, err = os.ReadFile(basePath + migration)
			if err == nil {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("migration file not found: %s (cwd: %s)", migration, cwd)
		}

		if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
			// Ignore errors from already-applied migrations
			if !strings.Contains(err.Error(), "already exists") &&
				!strings.Contains(err.Error(), "duplicate") {
				return fmt.Errorf("failed to run migration %s: %w", migration, err)
			}
		}
	}

	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
