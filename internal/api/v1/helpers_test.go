package v1_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock TranscriptStore
// ---------------------------------------------------------------------------

type appendCall struct {
	SessionID string
	Msg       domain.MessageRecord
	CostDelta float64
}

type mockStore struct {
	mu         sync.Mutex
	appends    []appendCall
	appendFunc func(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error
	getFunc    func(ctx context.Context, sessionID string) (*domain.Session, error)
}

func (m *mockStore) Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error {
	m.mu.Lock()
	m.appends = append(m.appends, appendCall{SessionID: sessionID, Msg: msg, CostDelta: costDelta})
	m.mu.Unlock()

	if m.appendFunc == nil {
		return nil
	}
	return m.appendFunc(ctx, sessionID, msg, costDelta)
}

func (m *mockStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.getFunc(ctx, sessionID)
}

func (m *mockStore) calls() []appendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]appendCall(nil), m.appends...)
}

// ---------------------------------------------------------------------------
// Mock ChatOrchestrator
// ---------------------------------------------------------------------------

type mockOrchestrator struct {
	runFunc func(ctx context.Context, message, resumeSessionID string) domain.TurnResult
}

func (m *mockOrchestrator) Run(ctx context.Context, message, resumeSessionID string) domain.TurnResult {
	return m.runFunc(ctx, message, resumeSessionID)
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func ptr[T any](v T) *T { return &v }
