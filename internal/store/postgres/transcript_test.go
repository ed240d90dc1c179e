package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/domain"
	"github.com/gosuda/agentchat/internal/store/postgres"
)

func openTestStore(t *testing.T) *postgres.TranscriptStore {
	t.Helper()

	dsn := os.Getenv("AGENTCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENTCHAT_TEST_POSTGRES_DSN not set")
	}

	table := "sessions_" + uuid.NewString()[:8]
	s, err := postgres.Open(context.Background(), dsn, 4, table)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewTranscriptStore_RejectsBadTable(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "1abc", "drop table;", "a-b"} {
		_, err := postgres.NewTranscriptStore(nil, name)
		assert.Error(t, err, name)
	}
}

func TestTranscriptStore_AppendAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "sess")
	require.ErrorIs(t, err, domain.ErrNotFound)

	result := "Weather in Rome: 72°F, Sunny, Humidity: 45%"
	require.NoError(t, s.Append(ctx, "sess", domain.MessageRecord{Role: domain.RoleUser, Content: "weather in Rome?"}, 0))
	require.NoError(t, s.Append(ctx, "sess", domain.MessageRecord{
		Role:    domain.RoleAssistant,
		Content: "Sunny.",
		ToolCalls: []domain.ToolCall{{
			ToolName:   "mcp__weather__get_weather",
			ToolInput:  map[string]any{"city": "Rome"},
			ToolResult: &result,
		}},
	}, 0.02))

	sess, err := s.Get(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.InDelta(t, 0.02, sess.TotalCostUSD, 1e-9)
	require.Len(t, sess.Messages[1].ToolCalls, 1)
	assert.Equal(t, result, *sess.Messages[1].ToolCalls[0].ToolResult)
}

func TestTranscriptStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	const n = 16

	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Append(ctx, "race", domain.MessageRecord{Role: domain.RoleUser, Content: "x"}, 0.5)
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
	assert.InDelta(t, 8.0, sess.TotalCostUSD, 1e-9)
}
