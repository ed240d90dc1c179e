// Package redis relays live turn events between the orchestrator and
// websocket subscribers. Every session has its own channel, so a subscriber
// only ever sees the turns of the session it asked for.
package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/config"
	"github.com/gosuda/agentchat/internal/domain"
)

const (
	sessionChannelPrefix = "session:"
	subscriberBuffer     = 64
)

// SessionChannel returns the channel carrying live events for one session.
func SessionChannel(sessionID string) string {
	return sessionChannelPrefix + sessionID
}

// SessionPubSub publishes and subscribes to per-session event channels.
type SessionPubSub struct {
	client *redis.Client
}

// New connects to the configured Redis server and verifies it with a ping.
func New(ctx context.Context, cfg config.RedisConfig) (*SessionPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping %s: %w", cfg.Addr, err)
	}

	return &SessionPubSub{client: client}, nil
}

func (ps *SessionPubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.SessionPubSub.Close: %w", err)
	}
	return nil
}

// PublishSession sends one event payload to the subscribers of sessionID.
func (ps *SessionPubSub) PublishSession(ctx context.Context, sessionID string, payload []byte) error {
	if !domain.ValidSessionID(sessionID) {
		return fmt.Errorf("redis.SessionPubSub.PublishSession: %w", domain.ErrInvalidSessionID)
	}
	if err := ps.client.Publish(ctx, SessionChannel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("redis.SessionPubSub.PublishSession: %w", err)
	}
	return nil
}

// SubscribeSession delivers the events of sessionID until ctx is done or the
// returned stop func is called. The subscription is confirmed before it
// returns, so nothing published afterwards is missed. A reader that falls
// more than subscriberBuffer events behind loses the overflow rather than
// stalling the shared Redis connection.
func (ps *SessionPubSub) SubscribeSession(ctx context.Context, sessionID string) (<-chan []byte, func(), error) {
	if !domain.ValidSessionID(sessionID) {
		return nil, nil, fmt.Errorf("redis.SessionPubSub.SubscribeSession: %w", domain.ErrInvalidSessionID)
	}

	sub := ps.client.Subscribe(ctx, SessionChannel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.SessionPubSub.SubscribeSession: confirm: %w", err)
	}

	s := &subscription{
		sessionID: sessionID,
		sub:       sub,
		out:       make(chan []byte, subscriberBuffer),
		done:      make(chan struct{}),
	}
	go s.relay(ctx)

	return s.out, s.stop, nil
}

type subscription struct {
	sessionID string
	sub       *redis.PubSub
	out       chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	dropped   atomic.Uint64
}

func (s *subscription) relay(ctx context.Context) {
	defer close(s.out)

	messages := s.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			default:
				s.dropped.Add(1)
			}
		}
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.sub.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", s.sessionID).Msg("redis.SessionPubSub: close subscription")
		}
		if n := s.dropped.Load(); n > 0 {
			log.Warn().Uint64("dropped", n).Str("session_id", s.sessionID).Msg("redis.SessionPubSub: subscriber lagged, events dropped")
		}
	})
}
