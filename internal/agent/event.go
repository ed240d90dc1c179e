package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind names the variant of an Event.
type EventKind string

const (
	EventKindInit      EventKind = "init"
	EventKindAssistant EventKind = "assistant"
	EventKindUser      EventKind = "user"
	EventKindResult    EventKind = "result"
)

// Event is one record streamed by the agent runtime during an invocation.
// The set of implementations is closed: InitEvent, AssistantEvent, UserEvent
// and ResultEvent.
type Event interface {
	Kind() EventKind
	sealedEvent()
}

// InitEvent is emitted once when the runtime has started a session. Its
// session id is provisional; the ResultEvent is authoritative.
type InitEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// AssistantEvent carries assistant output: text and tool invocations.
type AssistantEvent struct {
	Blocks []ContentBlock `json:"blocks"`
}

// UserEvent carries tool results fed back to the model.
type UserEvent struct {
	Results []ToolResultBlock `json:"results"`
}

// ResultEvent terminates the stream.
type ResultEvent struct {
	SessionID    string   `json:"session_id"`
	Subtype      string   `json:"subtype,omitempty"`
	IsError      bool     `json:"is_error"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	DurationMs   *int64   `json:"duration_ms"`
	NumTurns     int      `json:"num_turns,omitempty"`
}

func (InitEvent) Kind() EventKind      { return EventKindInit }
func (AssistantEvent) Kind() EventKind { return EventKindAssistant }
func (UserEvent) Kind() EventKind      { return EventKindUser }
func (ResultEvent) Kind() EventKind    { return EventKindResult }

func (InitEvent) sealedEvent()      {}
func (AssistantEvent) sealedEvent() {}
func (UserEvent) sealedEvent()      {}
func (ResultEvent) sealedEvent()    {}

// ContentBlock is a sub-block of an AssistantEvent: TextBlock or ToolUseBlock.
type ContentBlock interface {
	sealedBlock()
}

type TextBlock struct {
	Text string `json:"text"`
}

type ToolUseBlock struct {
	InvocationID string         `json:"invocation_id"`
	Name         string         `json:"name"`
	Input        map[string]any `json:"input"`
}

func (TextBlock) sealedBlock()    {}
func (ToolUseBlock) sealedBlock() {}

func (b TextBlock) MarshalJSON() ([]byte, error) {
	type plain TextBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: "text", plain: plain(b)})
}

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	type plain ToolUseBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: "tool_use", plain: plain(b)})
}

// ToolResultBlock pairs with the ToolUseBlock of the same invocation id.
type ToolResultBlock struct {
	InvocationID string            `json:"invocation_id"`
	Content      ToolResultContent `json:"content"`
	IsError      bool              `json:"is_error,omitempty"`
}

// ResultChunk is one typed element of a list-shaped tool result.
type ResultChunk struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResultContent is either a plain string or a list of typed chunks.
type ToolResultContent struct {
	text   string
	chunks []ResultChunk
	isList bool
}

// StringContent builds string-shaped tool result content.
func StringContent(s string) ToolResultContent {
	return ToolResultContent{text: s}
}

// ChunkContent builds list-shaped tool result content.
func ChunkContent(chunks ...ResultChunk) ToolResultContent {
	return ToolResultContent{chunks: chunks, isList: true}
}

// IsEmpty reports whether the content is an empty string or an empty list.
func (c ToolResultContent) IsEmpty() bool {
	if c.isList {
		return len(c.chunks) == 0
	}
	return c.text == ""
}

// Text returns string content verbatim, or the newline-joined text of the
// "text" chunks of list content. Chunks of any other type are dropped.
func (c ToolResultContent) Text() string {
	if !c.isList {
		return c.text
	}
	parts := make([]string, 0, len(c.chunks))
	for _, ch := range c.chunks {
		if ch.Type == "text" {
			parts = append(parts, ch.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.isList {
		chunks := c.chunks
		if chunks == nil {
			chunks = []ResultChunk{}
		}
		return json.Marshal(chunks)
	}
	return json.Marshal(c.text)
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "" || trimmed == "null":
		*c = ToolResultContent{}
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("agent.ToolResultContent: %w", err)
		}
		*c = StringContent(s)
		return nil
	case trimmed[0] == '[':
		// Chunks may carry arbitrary extra fields (images, sources); only
		// type and text are kept.
		var chunks []ResultChunk
		if err := json.Unmarshal(data, &chunks); err != nil {
			return fmt.Errorf("agent.ToolResultContent: %w", err)
		}
		*c = ChunkContent(chunks...)
		return nil
	default:
		return fmt.Errorf("agent.ToolResultContent: unsupported content %.32q", trimmed)
	}
}
