package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/domain"
	"github.com/gosuda/agentchat/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.TranscriptStore {
	t.Helper()

	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "transcripts.db"), "sessions")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTranscriptStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTranscriptStore_AppendAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	result := "Weather in Rome: 72°F, Sunny, Humidity: 45%"
	userAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Append(ctx, "sess-1", domain.MessageRecord{
		Role:      domain.RoleUser,
		Content:   "What's the weather in Rome?",
		Timestamp: userAt,
	}, 0))
	require.NoError(t, s.Append(ctx, "sess-1", domain.MessageRecord{
		Role:    domain.RoleAssistant,
		Content: "It is sunny in Rome.",
		ToolCalls: []domain.ToolCall{{
			ToolName:   "mcp__weather__get_weather",
			ToolInput:  map[string]any{"city": "Rome"},
			ToolResult: &result,
		}},
	}, 0.0123))

	sess, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", sess.SessionID)
	assert.InDelta(t, 0.0123, sess.TotalCostUSD, 1e-9)
	require.Len(t, sess.Messages, 2)

	assert.Equal(t, domain.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, userAt, sess.Messages[0].Timestamp)
	assert.Empty(t, sess.Messages[0].ToolCalls)
	assert.NotNil(t, sess.Messages[0].ToolCalls)

	assistant := sess.Messages[1]
	assert.Equal(t, domain.RoleAssistant, assistant.Role)
	assert.False(t, assistant.Timestamp.IsZero())
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "mcp__weather__get_weather", assistant.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{"city": "Rome"}, assistant.ToolCalls[0].ToolInput)
	require.NotNil(t, assistant.ToolCalls[0].ToolResult)
	assert.Equal(t, result, *assistant.ToolCalls[0].ToolResult)

	assert.False(t, sess.UpdatedAt.Before(sess.CreatedAt))
}

func TestTranscriptStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	const n = 20

	ctx := context.Background()
	s := openStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Append(ctx, "race", domain.MessageRecord{
				Role:    domain.RoleUser,
				Content: fmt.Sprintf("msg-%d", i),
			}, 0.01)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	sess, err := s.Get(ctx, "race")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, n)
	assert.InDelta(t, 0.2, sess.TotalCostUSD, 1e-9)

	seen := make(map[string]bool, n)
	for _, m := range sess.Messages {
		seen[m.Content] = true
	}
	assert.Len(t, seen, n)
}

func TestTranscriptStore_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Append(ctx, "a", domain.MessageRecord{Role: domain.RoleUser, Content: "one"}, 1))
	require.NoError(t, s.Append(ctx, "b", domain.MessageRecord{Role: domain.RoleUser, Content: "two"}, 2))

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	b, err := s.Get(ctx, "b")
	require.NoError(t, err)

	require.Len(t, a.Messages, 1)
	require.Len(t, b.Messages, 1)
	assert.Equal(t, "one", a.Messages[0].Content)
	assert.Equal(t, "two", b.Messages[0].Content)
	assert.InDelta(t, 1.0, a.TotalCostUSD, 1e-9)
	assert.InDelta(t, 2.0, b.TotalCostUSD, 1e-9)
}

func TestTranscriptStore_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transcripts.db")

	s, err := sqlite.Open(ctx, path, "sessions")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "keep", domain.MessageRecord{Role: domain.RoleUser, Content: "hi"}, 0.5))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(ctx, path, "sessions")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sess, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.InDelta(t, 0.5, sess.TotalCostUSD, 1e-9)
}
