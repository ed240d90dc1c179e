// Package firestore stores transcripts as one Firestore document per session.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gosuda/agentchat/internal/domain"
)

type sessionDoc struct {
	SessionID    string       `firestore:"session_id"`
	Messages     []messageDoc `firestore:"messages"`
	CreatedAt    time.Time    `firestore:"created_at"`
	UpdatedAt    time.Time    `firestore:"updated_at"`
	TotalCostUSD float64      `firestore:"total_cost_usd"`
}

// messageDoc carries an id so ArrayUnion never merges two identical messages.
type messageDoc struct {
	ID        string            `firestore:"id"`
	Role      string            `firestore:"role"`
	Content   string            `firestore:"content"`
	ToolCalls []domain.ToolCall `firestore:"tool_calls"`
	Timestamp time.Time         `firestore:"timestamp"`
}

// TranscriptStore appends with Create and, when the document already exists,
// an Update built from ArrayUnion and Increment. Both are atomic on the
// server, so racing creators end up in one document.
type TranscriptStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// Open creates a client for projectID. The client honours
// FIRESTORE_EMULATOR_HOST.
func Open(ctx context.Context, projectID, collection string) (*TranscriptStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.Open: %w", err)
	}
	return NewTranscriptStore(client, collection), nil
}

func NewTranscriptStore(client *firestore.Client, collection string) *TranscriptStore {
	return &TranscriptStore{
		client:     client,
		collection: collection,
		now:        time.Now,
	}
}

func (s *TranscriptStore) Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error {
	if !domain.ValidSessionID(sessionID) {
		return fmt.Errorf("firestore.TranscriptStore.Append: %w", domain.ErrInvalidSessionID)
	}

	now := s.now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	toolCalls := msg.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCall{}
	}
	entry := messageDoc{
		ID:        uuid.NewString(),
		Role:      string(msg.Role),
		Content:   msg.Content,
		ToolCalls: toolCalls,
		Timestamp: msg.Timestamp.UTC(),
	}

	doc := s.client.Collection(s.collection).Doc(sessionID)

	_, err := doc.Create(ctx, sessionDoc{
		SessionID:    sessionID,
		Messages:     []messageDoc{entry},
		CreatedAt:    now,
		UpdatedAt:    now,
		TotalCostUSD: costDelta,
	})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return wrapErr("firestore.TranscriptStore.Append: create", err)
	}

	_, err = doc.Update(ctx, []firestore.Update{
		{Path: "messages", Value: firestore.ArrayUnion(entry)},
		{Path: "updated_at", Value: now},
		{Path: "total_cost_usd", Value: firestore.Increment(costDelta)},
	})
	if err != nil {
		return wrapErr("firestore.TranscriptStore.Append: update", err)
	}

	return nil
}

func (s *TranscriptStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if !domain.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("firestore.TranscriptStore.Get: %w", domain.ErrNotFound)
	}

	snap, err := s.client.Collection(s.collection).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("firestore.TranscriptStore.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("firestore.TranscriptStore.Get", err)
	}

	var data sessionDoc
	if err := snap.DataTo(&data); err != nil {
		return nil, fmt.Errorf("firestore.TranscriptStore.Get: decode: %w", err)
	}

	sess := &domain.Session{
		SessionID:    data.SessionID,
		Messages:     make([]domain.MessageRecord, 0, len(data.Messages)),
		CreatedAt:    data.CreatedAt.UTC(),
		UpdatedAt:    data.UpdatedAt.UTC(),
		TotalCostUSD: data.TotalCostUSD,
	}
	if sess.SessionID == "" {
		sess.SessionID = sessionID
	}
	for _, m := range data.Messages {
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

func (s *TranscriptStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("firestore.TranscriptStore.Close: %w", err)
	}
	return nil
}

// wrapErr marks transport-level failures as domain.ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
