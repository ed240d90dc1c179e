// Package sqlite stores transcripts in a local SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/gosuda/agentchat/internal/domain"
)

const (
	busyTimeoutMs  = 5000
	retryInitial   = 20 * time.Millisecond
	retryMaxElapse = 5 * time.Second
)

type sessionRow struct {
	SessionID    string    `gorm:"primaryKey;type:varchar(128);column:session_id"`
	CreatedAt    time.Time `gorm:"not null;column:created_at"`
	UpdatedAt    time.Time `gorm:"not null;column:updated_at"`
	TotalCostUSD float64   `gorm:"not null;default:0;column:total_cost_usd"`
}

type messageRow struct {
	ID        uint64            `gorm:"primaryKey;autoIncrement"`
	SessionID string            `gorm:"type:varchar(128);index;not null;column:session_id"`
	Role      string            `gorm:"type:varchar(16);not null"`
	Content   string            `gorm:"type:text;not null"`
	ToolCalls []domain.ToolCall `gorm:"type:text;serializer:json;column:tool_calls"`
	Timestamp time.Time         `gorm:"not null"`
}

// TranscriptStore keeps one row per session plus one row per message,
// ordered by insertion id. Appends run in a single immediate transaction so
// the session upsert, the cost increment and the message insert commit
// together.
type TranscriptStore struct {
	db       *gorm.DB
	sessions string
	messages string
	now      func() time.Time
}

// Open opens (creating if needed) the database file at path and migrates
// the tables <collection> and <collection>_messages.
func Open(ctx context.Context, path, collection string) (*TranscriptStore, error) {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMs))
	q.Set("_journal_mode", "WAL")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	// One writer per process; cross-process contention is handled by the
	// busy timeout and the retry loop.
	sqlDB.SetMaxOpenConns(1)

	s := &TranscriptStore{
		db:       db,
		sessions: collection,
		messages: collection + "_messages",
		now:      time.Now,
	}

	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	return s, nil
}

func (s *TranscriptStore) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.sessions).AutoMigrate(&sessionRow{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", s.sessions, err)
	}
	if err := s.db.WithContext(ctx).Table(s.messages).AutoMigrate(&messageRow{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", s.messages, err)
	}
	return nil
}

func (s *TranscriptStore) Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error {
	now := s.now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	toolCalls := msg.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCall{}
	}

	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		err := tx.Table(s.sessions).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&sessionRow{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}).Error
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		err = tx.Table(s.sessions).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"updated_at":     now,
				"total_cost_usd": gorm.Expr("total_cost_usd + ?", costDelta),
			}).Error
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		err = tx.Table(s.messages).Create(&messageRow{
			SessionID: sessionID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			ToolCalls: toolCalls,
			Timestamp: msg.Timestamp.UTC(),
		}).Error
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		return nil
	})
	if err != nil {
		return s.wrapErr("sqlite.TranscriptStore.Append", err)
	}

	return nil
}

func (s *TranscriptStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var (
		row  sessionRow
		msgs []messageRow
	)

	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		if err := tx.Table(s.sessions).Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
			return err //nolint:wrapcheck // classified by wrapErr
		}
		return tx.Table(s.messages).Where("session_id = ?", sessionID).Order("id ASC").Find(&msgs).Error //nolint:wrapcheck // classified by wrapErr
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("sqlite.TranscriptStore.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrapErr("sqlite.TranscriptStore.Get", err)
	}

	sess := &domain.Session{
		SessionID:    row.SessionID,
		Messages:     make([]domain.MessageRecord, 0, len(msgs)),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		TotalCostUSD: row.TotalCostUSD,
	}
	for _, m := range msgs {
		toolCalls := m.ToolCalls
		if toolCalls == nil {
			toolCalls = []domain.ToolCall{}
		}
		sess.Messages = append(sess.Messages, domain.MessageRecord{
			Role:      domain.Role(m.Role),
			Content:   m.Content,
			ToolCalls: toolCalls,
			Timestamp: m.Timestamp.UTC(),
		})
	}

	return sess, nil
}

// withRetry runs fn in a transaction, retrying with exponential backoff
// while the database reports lock contention.
func (s *TranscriptStore) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	b.MaxElapsedTime = retryMaxElapse

	attempt := 0
	op := func() error {
		attempt++
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isBusy(err) {
			log.Debug().Err(err).Int("attempt", attempt).Msg("sqlite.TranscriptStore: database busy, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(op, backoff.WithContext(b, ctx)) //nolint:wrapcheck // callers wrap
}

func (s *TranscriptStore) wrapErr(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func (s *TranscriptStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite.TranscriptStore.Close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("sqlite.TranscriptStore.Close: %w", err)
	}
	return nil
}
