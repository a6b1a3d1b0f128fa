package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

var ErrUnknownCommand = errors.New("unknown migrate command")

// Commands lists what Migrate accepts.
var Commands = []string{"up", "down", "status", "version", "redo", "reset", "up-to", "down-to"}

// Migrate runs a goose command against dsn using the embedded migrations.
func Migrate(ctx context.Context, dsn, cmd string, version int64) error {
	if dsn == "" {
		return errors.New("postgres: dsn is required")
	}
	pgxCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	pgxCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db := stdlib.OpenDB(*pgxCfg)
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return run(ctx, db, cmd, version)
}

func run(ctx context.Context, db *sql.DB, cmd string, version int64) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	actions := map[string]func() error{
		"up":      func() error { return goose.UpContext(ctx, db, migrationsDir) },
		"down":    func() error { return goose.DownContext(ctx, db, migrationsDir) },
		"status":  func() error { return goose.StatusContext(ctx, db, migrationsDir) },
		"version": func() error { return goose.VersionContext(ctx, db, migrationsDir) },
		"redo":    func() error { return goose.RedoContext(ctx, db, migrationsDir) },
		"reset":   func() error { return goose.ResetContext(ctx, db, migrationsDir) },
		"up-to":   func() error { return goose.UpToContext(ctx, db, migrationsDir, version) },
		"down-to": func() error { return goose.DownToContext(ctx, db, migrationsDir, version) },
	}
	action, ok := actions[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return action()
}
