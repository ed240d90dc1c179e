// Package store opens the configured transcript store backend.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/config"
	"github.com/gosuda/agentchat/internal/domain"
	"github.com/gosuda/agentchat/internal/store/firestore"
	"github.com/gosuda/agentchat/internal/store/postgres"
	"github.com/gosuda/agentchat/internal/store/sqlite"
)

const openTimeout = 10 * time.Second

// Backend is a transcript store that holds resources until closed.
type Backend interface {
	domain.TranscriptStore
	Close() error
}

// Opener connects a backend.
type Opener func(ctx context.Context) (Backend, error)

// Lazy opens its backend on first use and shares it across callers. A failed
// open is retried by the next call.
type Lazy struct {
	open Opener

	mu      sync.RWMutex
	backend Backend
	closed  bool
}

var _ domain.TranscriptStore = (*Lazy)(nil)

func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

// Open returns a Lazy store for the configured driver. No connection is made
// until the first Append or Get.
func Open(cfg *config.Config) *Lazy {
	storeCfg := cfg.Store
	dbCfg := cfg.Database

	return NewLazy(func(ctx context.Context) (Backend, error) {
		switch storeCfg.Driver {
		case config.DriverPostgres:
			return postgres.Open(ctx, dbCfg.DSN(), int32(dbCfg.MaxConns), storeCfg.Collection) //nolint:gosec // G115: validated >= 1
		case config.DriverFirestore:
			return firestore.Open(ctx, storeCfg.GCPProjectID, storeCfg.Collection)
		case config.DriverSQLite:
			return sqlite.Open(ctx, storeCfg.SQLitePath, storeCfg.Collection)
		default:
			return nil, fmt.Errorf("unknown store driver %q", storeCfg.Driver)
		}
	})
}

// do runs fn against the open backend while holding the read lock, so Close
// waits for calls already in flight instead of closing the backend under them.
func (l *Lazy) do(ctx context.Context, fn func(Backend) error) error {
	for {
		l.mu.RLock()
		if l.closed {
			l.mu.RUnlock()
			return fmt.Errorf("store.Lazy: closed: %w", domain.ErrStoreUnavailable)
		}
		if l.backend != nil {
			defer l.mu.RUnlock()
			return fn(l.backend)
		}
		l.mu.RUnlock()

		if err := l.ensureOpen(ctx); err != nil {
			return err
		}
	}
}

func (l *Lazy) ensureOpen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.backend != nil {
		return nil
	}

	// The open must not be cut short by one caller's request context.
	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
	defer cancel()

	backend, err := l.open(openCtx)
	if err != nil {
		log.Error().Err(err).Msg("store.Lazy: failed to open transcript store")
		return fmt.Errorf("store.Lazy: open: %w: %w", domain.ErrStoreUnavailable, err)
	}

	l.backend = backend
	return nil
}

func (l *Lazy) Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error {
	return l.do(ctx, func(b Backend) error {
		return b.Append(ctx, sessionID, msg, costDelta) //nolint:wrapcheck // backends wrap their own errors
	})
}

func (l *Lazy) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := l.do(ctx, func(b Backend) error {
		var err error
		sess, err = b.Get(ctx, sessionID)
		return err //nolint:wrapcheck // backends wrap their own errors
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Close releases the backend if it was opened, after in-flight calls finish.
// It is safe to call more than once and on a store that was never used.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.backend == nil {
		return nil
	}
	err := l.backend.Close()
	l.backend = nil
	if err != nil {
		return fmt.Errorf("store.Lazy.Close: %w", err)
	}
	return nil
}
