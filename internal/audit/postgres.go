package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends security events to a durable, queryable table.
// Grounded on the teacher's pgx/pgxpool schema-init-then-exec idiom.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to databaseURL and ensures the schema exists.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initAuditSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

func initAuditSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `CREATE TABLE IF NOT EXISTS security_events (
		id BIGSERIAL PRIMARY KEY,
		error_code TEXT NOT NULL,
		admin_id TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		operation TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_security_events_occurred_at ON security_events (occurred_at DESC);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init security_events schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO security_events (error_code, admin_id, remote_addr, operation, reason, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		evt.Code, evt.AdminID, evt.RemoteAddr, evt.Operation, evt.Reason, evt.At,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
