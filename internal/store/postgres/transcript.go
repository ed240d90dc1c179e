package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/agentchat/internal/domain"
)

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`) //nolint:gochecknoglobals // compiled once

// TranscriptStore keeps one row per session with the transcript in a JSONB
// array. Appends are a single INSERT ... ON CONFLICT statement, so concurrent
// writers to the same session never lose a message or a cost delta.
type TranscriptStore struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
	now   func() time.Time
}

func NewTranscriptStore(pool *pgxpool.Pool, table string) (*TranscriptStore, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("postgres.NewTranscriptStore: invalid table name %q", table)
	}
	return &TranscriptStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		now:   time.Now,
	}, nil
}

func (s *TranscriptStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		session_id     TEXT PRIMARY KEY,
		messages       JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return wrapErr("postgres.TranscriptStore.EnsureSchema", err)
	}
	return nil
}

func (s *TranscriptStore) Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error {
	now := s.now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.ToolCalls == nil {
		msg.ToolCalls = []domain.ToolCall{}
	}

	payload, err := json.Marshal([]domain.MessageRecord{msg})
	if err != nil {
		return fmt.Errorf("postgres.TranscriptStore.Append: marshal: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` AS t (session_id, messages, created_at, updated_at, total_cost_usd)
		 VALUES ($1, $2::jsonb, $3, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET
		   messages       = t.messages || EXCLUDED.messages,
		   updated_at     = EXCLUDED.updated_at,
		   total_cost_usd = t.total_cost_usd + EXCLUDED.total_cost_usd`,
		sessionID, string(payload), now, costDelta,
	)
	if err != nil {
		return wrapErr("postgres.TranscriptStore.Append", err)
	}

	return nil
}

func (s *TranscriptStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var (
		sess     = domain.Session{SessionID: sessionID}
		messages []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT messages, created_at, updated_at, total_cost_usd FROM `+s.table+` WHERE session_id = $1`,
		sessionID,
	).Scan(&messages, &sess.CreatedAt, &sess.UpdatedAt, &sess.TotalCostUSD)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres.TranscriptStore.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("postgres.TranscriptStore.Get", err)
	}

	if err := json.Unmarshal(messages, &sess.Messages); err != nil {
		return nil, fmt.Errorf("postgres.TranscriptStore.Get: decode messages: %w", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()

	return &sess, nil
}

func (s *TranscriptStore) Close() error {
	s.pool.Close()
	return nil
}
