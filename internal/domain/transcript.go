package domain

import (
	"context"
	"regexp"
	"time"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known message role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ToolCall is one tool invocation observed during a turn. ToolResult stays nil
// until the matching result arrives.
type ToolCall struct {
	ToolName   string         `json:"tool_name" firestore:"tool_name"`
	ToolInput  map[string]any `json:"tool_input" firestore:"tool_input"`
	ToolResult *string        `json:"tool_result" firestore:"tool_result"`
}

// MessageRecord is a single append-only transcript entry.
type MessageRecord struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Timestamp time.Time  `json:"timestamp"`
}

// Session is the stored transcript of one conversation together with its
// running cost. TotalCostUSD is the sum of the cost deltas of every append,
// not a value derived from the messages.
type Session struct {
	SessionID    string          `json:"session_id"`
	Messages     []MessageRecord `json:"messages"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	TotalCostUSD float64         `json:"total_cost_usd"`
}

// TranscriptStore persists sessions. Append must merge into an existing
// session atomically; two appends racing to create the same session yield a
// single session holding both messages.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, msg MessageRecord, costDelta float64) error
	Get(ctx context.Context, sessionID string) (*Session, error)
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`) //nolint:gochecknoglobals // compiled once

// ValidSessionID reports whether id is usable as a storage key in every
// backend (document path segment, primary key).
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
