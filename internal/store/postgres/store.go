package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/agentchat/internal/domain"
)

// Open connects to PostgreSQL, verifies the connection and ensures the
// transcript table exists.
func Open(ctx context.Context, dsn string, maxConns int32, table string) (*TranscriptStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: ping: %w", err)
	}

	s, err := NewTranscriptStore(pool, table)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}

	err = s.EnsureSchema(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}

	return s, nil
}

// wrapErr marks connection-class failures as domain.ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources, 57P: operator intervention.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}

	// Anything that is not a server-reported error never reached the database.
	return true
}
