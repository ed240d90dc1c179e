package domain_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/domain"
)

func TestRole_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role domain.Role
		want bool
	}{
		{domain.RoleUser, true},
		{domain.RoleAssistant, true},
		{domain.Role("system"), false},
		{domain.Role(""), false},
		{domain.Role("USER"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.role.Valid())
		})
	}
}

func TestValidSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "uuid", id: "0b7f3c5e-3c1f-4d0a-9c55-7f1f3f0f2a11", want: true},
		{name: "underscores", id: "sess_01", want: true},
		{name: "empty", id: "", want: false},
		{name: "slash", id: "a/b", want: false},
		{name: "dot segment", id: "..", want: false},
		{name: "space", id: "a b", want: false},
		{name: "too long", id: strings.Repeat("a", 129), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, domain.ValidSessionID(tt.id))
		})
	}
}

func TestTurnResult_CostOrZero(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, domain.TurnResult{}.CostOrZero(), 1e-12)

	cost := 0.0123
	assert.InDelta(t, 0.0123, domain.TurnResult{CostUSD: &cost}.CostOrZero(), 1e-12)
}

func TestMessageRecord_JSONShape(t *testing.T) {
	t.Parallel()

	result := "Weather in Rome: 72°F, Sunny, Humidity: 45%"
	msg := domain.MessageRecord{
		Role:    domain.RoleAssistant,
		Content: "It is sunny in Rome.",
		ToolCalls: []domain.ToolCall{{
			ToolName:   "mcp__weather__get_weather",
			ToolInput:  map[string]any{"city": "Rome"},
			ToolResult: &result,
		}},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"role": "assistant",
		"content": "It is sunny in Rome.",
		"tool_calls": [{
			"tool_name": "mcp__weather__get_weather",
			"tool_input": {"city": "Rome"},
			"tool_result": "Weather in Rome: 72°F, Sunny, Humidity: 45%"
		}],
		"timestamp": "2026-01-02T03:04:05Z"
	}`, string(raw))
}

func TestToolCall_PendingResultIsNull(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(domain.ToolCall{ToolName: "x", ToolInput: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool_name":"x","tool_input":{},"tool_result":null}`, string(raw))
}
