package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Store bundles the entity stores over one Postgres pool. The request
// path and the discovery workers each open their own Store so a slow
// scan cannot starve API queries of connections.
type Store struct {
	db          *sqlx.DB
	Jobs        *JobStore
	Devices     *DeviceStore
	Credentials *CredentialStore
	Users       *UserStore
}

// Open connects to Postgres, verifies the connection, and returns a
// Store with the pool sized from cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	util.WithField("host", cfg.Host).Debug("postgres pool opened")
	return NewStore(db), nil
}

// NewStore wraps an existing database handle. Tests use this with a
// mocked driver.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		Jobs:        &JobStore{db: db},
		Devices:     &DeviceStore{db: db},
		Credentials: &CredentialStore{db: db},
		Users:       &UserStore{db: db},
	}
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sqlx.DB { return s.db }

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
