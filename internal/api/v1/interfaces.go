package v1

import (
	"context"

	"github.com/gosuda/agentchat/internal/domain"
)

// TranscriptStore abstracts session persistence for handler testing.
// *store.Lazy satisfies this interface.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, msg domain.MessageRecord, costDelta float64) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

// ChatOrchestrator runs one conversational turn. It never fails; invocation
// failures come back as a fallback result without a session id.
// *agent.Orchestrator satisfies this interface.
type ChatOrchestrator interface {
	Run(ctx context.Context, message, resumeSessionID string) domain.TurnResult
}
