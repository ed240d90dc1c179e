package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/agentchat/internal/api/v1"
	"github.com/gosuda/agentchat/internal/domain"
)

func newSessionTestAPI(t *testing.T) (humatest.TestAPI, *mockStore) {
	t.Helper()

	_, api := humatest.New(t)
	store := &mockStore{}

	v1.RegisterSessionRoutes(api, store)

	return api, store
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		api, store := newSessionTestAPI(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		store.getFunc = func(_ context.Context, id string) (*domain.Session, error) {
			assert.Equal(t, "sess-1", id)
			return &domain.Session{
				SessionID: "sess-1",
				Messages: []domain.MessageRecord{
					{Role: domain.RoleUser, Content: "hi", ToolCalls: []domain.ToolCall{}, Timestamp: now},
					{Role: domain.RoleAssistant, Content: "hello", ToolCalls: []domain.ToolCall{}, Timestamp: now},
				},
				CreatedAt:    now,
				UpdatedAt:    now,
				TotalCostUSD: 0.01,
			}, nil
		}

		resp := api.Get("/sessions/sess-1")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var body domain.Session
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "sess-1", body.SessionID)
		assert.Len(t, body.Messages, 2)
		assert.InDelta(t, 0.01, body.TotalCostUSD, 1e-12)
		assert.Equal(t, now, body.CreatedAt)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		api, store := newSessionTestAPI(t)
		store.getFunc = func(context.Context, string) (*domain.Session, error) {
			return nil, fmt.Errorf("sqlite.TranscriptStore.Get: %w", domain.ErrNotFound)
		}

		resp := api.Get("/sessions/nope")
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "session not found", parseErrorBody(t, resp.Body.Bytes())["detail"])
	})

	t.Run("unavailable", func(t *testing.T) {
		t.Parallel()

		api, store := newSessionTestAPI(t)
		store.getFunc = func(context.Context, string) (*domain.Session, error) {
			return nil, domain.ErrStoreUnavailable
		}

		resp := api.Get("/sessions/sess-1")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("internal_error", func(t *testing.T) {
		t.Parallel()

		api, store := newSessionTestAPI(t)
		store.getFunc = func(context.Context, string) (*domain.Session, error) {
			return nil, errors.New("decode: bad json")
		}

		resp := api.Get("/sessions/sess-1")
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}
