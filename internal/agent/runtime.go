package agent

import (
	"context"
)

// InvokeRequest describes one agent invocation. An empty ResumeSessionID
// starts a fresh session.
type InvokeRequest struct {
	Prompt          string
	ResumeSessionID string
}

// EventStream yields the events of one invocation in arrival order.
// Next returns io.EOF once the stream is exhausted. Close releases the
// underlying channel and process; it is safe to call more than once.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Runtime is the agent runtime boundary. Invoke returns an error when the
// invocation cannot be started; errors reported by the runtime inside its
// result event are not Go errors.
type Runtime interface {
	Invoke(ctx context.Context, req InvokeRequest) (EventStream, error)
}

// RuntimeOptions configures a runtime built by a RuntimeFactory.
type RuntimeOptions struct {
	CLIPath      string
	Model        string
	SystemPrompt string
	MaxTurns     int
	MaxBudgetUSD float64
	APIKey       string //nolint:gosec // G117: runtime credential passed to the CLI environment

	// MCPServers maps an MCP server name to its streamable HTTP endpoint.
	MCPServers   map[string]string
	AllowedTools []string

	Docker DockerOptions
}

// DockerOptions configures the container launcher.
type DockerOptions struct {
	Host     string
	Image    string
	CPULimit string
	MemLimit string
}
