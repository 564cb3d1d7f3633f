package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrateStatus logs the migration status table.
func (s *Store) MigrateStatus(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	return goose.StatusContext(ctx, s.db.DB, "migrations")
}

// gooseLogger routes goose output through the process logger.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) { util.Fatalf(format, v...) }
func (gooseLogger) Printf(format string, v ...interface{}) { util.Infof(format, v...) }
