package agent_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/agent"
)

func TestToolResultContent_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantText  string
		wantEmpty bool
		wantErr   bool
	}{
		{name: "string", input: `"72°F"`, wantText: "72°F"},
		{name: "empty string", input: `""`, wantEmpty: true},
		{name: "null", input: `null`, wantEmpty: true},
		{name: "text chunks", input: `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, wantText: "a\nb"},
		{name: "non-text chunks dropped", input: `[{"type":"image","source":{"data":"..."}},{"type":"text","text":"only"}]`, wantText: "only"},
		{name: "empty list", input: `[]`, wantEmpty: true},
		{name: "number rejected", input: `42`, wantErr: true},
		{name: "object rejected", input: `{"text":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var c agent.ToolResultContent
			err := json.Unmarshal([]byte(tt.input), &c)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantEmpty, c.IsEmpty())
			assert.Equal(t, tt.wantText, c.Text())
		})
	}
}

func TestToolResultContent_ListWithOnlyNonTextChunksIsNotEmpty(t *testing.T) {
	t.Parallel()

	c := agent.ChunkContent(agent.ResultChunk{Type: "image"})

	assert.False(t, c.IsEmpty())
	assert.Empty(t, c.Text())
}

func TestEvent_MarshalJSON(t *testing.T) {
	t.Parallel()

	ev := agent.AssistantEvent{Blocks: []agent.ContentBlock{
		agent.TextBlock{Text: "checking"},
		agent.ToolUseBlock{InvocationID: "t1", Name: "get_weather", Input: map[string]any{"city": "Rome"}},
	}}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":[
		{"type":"text","text":"checking"},
		{"type":"tool_use","invocation_id":"t1","name":"get_weather","input":{"city":"Rome"}}
	]}`, string(data))

	user := agent.UserEvent{Results: []agent.ToolResultBlock{
		{InvocationID: "t1", Content: agent.StringContent("sunny")},
		{InvocationID: "t2", Content: agent.ChunkContent(agent.ResultChunk{Type: "text", Text: "x"}), IsError: true},
	}}

	data, err = json.Marshal(user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[
		{"invocation_id":"t1","content":"sunny"},
		{"invocation_id":"t2","content":[{"type":"text","text":"x"}],"is_error":true}
	]}`, string(data))
}

func TestEvent_Kind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, agent.EventKindInit, agent.InitEvent{}.Kind())
	assert.Equal(t, agent.EventKindAssistant, agent.AssistantEvent{}.Kind())
	assert.Equal(t, agent.EventKindUser, agent.UserEvent{}.Kind())
	assert.Equal(t, agent.EventKindResult, agent.ResultEvent{}.Kind())
}
