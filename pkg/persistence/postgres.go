package persistence

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/orchestration"
)

const insertAuditSQL = `
INSERT INTO audit_log (ts, event_type, message, details)
VALUES ($1, $2, $3, $4)
`

// PostgresConfig controls the connection and, optionally, the goose
// migrations directory applied at startup.
type PostgresConfig struct {
	DSN           string
	MigrationsDir string
	Timeout       time.Duration
}

// DefaultPostgresConfig bounds a single insert to 3s.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{Timeout: 3 * time.Second}
}

// PostgresSink writes audit entries to a Postgres table, reached through
// pgx's database/sql driver and queried with sqlx.
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
	log     logr.Logger
}

// NewPostgresSink opens a connection pool against cfg.DSN and, if
// cfg.MigrationsDir is set, applies any pending goose migrations before
// returning. A migration failure closes the pool and returns the error:
// unlike WriteAudit, a broken schema is not something the sink can degrade
// past silently.
func NewPostgresSink(cfg PostgresConfig, logger logr.Logger) (*PostgresSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPostgresConfig().Timeout
	}

	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		if err := goose.SetDialect("postgres"); err != nil {
			db.Close()
			return nil, err
		}
		if err := goose.Up(db.DB, cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &PostgresSink{db: db, timeout: cfg.Timeout, log: logger}, nil
}

// NewPostgresSinkFromDB builds a PostgresSink around an already-open sqlx.DB,
// so tests can inject one backed by go-sqlmock.
func NewPostgresSinkFromDB(db *sqlx.DB, timeout time.Duration, logger logr.Logger) *PostgresSink {
	if timeout <= 0 {
		timeout = DefaultPostgresConfig().Timeout
	}
	return &PostgresSink{db: db, timeout: timeout, log: logger}
}

// WriteAudit inserts one entry. A failure is logged and returned, never
// retried synchronously.
func (s *PostgresSink) WriteAudit(ctx context.Context, entry orchestration.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertAuditSQL,
		entry.Timestamp, entry.EventType, entry.Message, marshalDetails(entry.Details))
	if err != nil {
		s.log.Error(err, "postgres audit write failed", "event_type", entry.EventType)
	}
	return err
}

// Run drains ib for audit_log broadcasts and mirrors each to the table
// until ctx is cancelled or the inbox closes.
func (s *PostgresSink) Run(ctx context.Context, ib *bus.Inbox) {
	for {
		msg, ok := ib.Receive(ctx)
		if !ok {
			return
		}
		if msg.Type != orchestration.MsgAuditLog {
			continue
		}
		entry, ok := entryFromMessage(msg.Payload)
		if !ok {
			continue
		}
		_ = s.WriteAudit(ctx, entry)
	}
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
