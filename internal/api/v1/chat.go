package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/domain"
)

type ChatInput struct {
	Body struct {
		Message   string `json:"message" minLength:"1" maxLength:"32000" doc:"User message"`
		SessionID string `json:"session_id,omitempty" required:"false" pattern:"^([A-Za-z0-9_-]{1,128})?$" doc:"Session to resume; omit or leave empty to start a new conversation"`
	}
}

type ChatResponse struct {
	SessionID    string            `json:"session_id"`
	ResponseText string            `json:"response_text"`
	ToolCalls    []domain.ToolCall `json:"tool_calls"`
	IsError      bool              `json:"is_error"`
	CostUSD      *float64          `json:"cost_usd"`
	DurationMs   int64             `json:"duration_ms"`
}

type ChatOutput struct {
	Body ChatResponse
}

func RegisterChatRoutes(api huma.API, store TranscriptStore, orchestrator ChatOrchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Run one conversational turn",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *ChatInput) (*ChatOutput, error) {
		start := time.Now()

		result := orchestrator.Run(ctx, input.Body.Message, input.Body.SessionID)
		if result.SessionID == "" {
			log.Error().
				Str("resume_session_id", input.Body.SessionID).
				Bool("is_error", result.IsError).
				Msg("v1.chat: agent did not return a session ID")
			return nil, huma.Error500InternalServerError("agent did not return a session ID")
		}

		toolCalls := result.ToolCalls
		if toolCalls == nil {
			toolCalls = []domain.ToolCall{}
		}

		// The turn already happened; a client disconnect must not drop it
		// from the transcript.
		persistCtx := context.WithoutCancel(ctx)

		err := store.Append(persistCtx, result.SessionID, domain.MessageRecord{
			Role:    domain.RoleUser,
			Content: input.Body.Message,
		}, 0)
		if err != nil {
			return nil, storeError(result.SessionID, "failed to save user message", err)
		}

		err = store.Append(persistCtx, result.SessionID, domain.MessageRecord{
			Role:      domain.RoleAssistant,
			Content:   result.ResponseText,
			ToolCalls: toolCalls,
		}, result.CostOrZero())
		if err != nil {
			return nil, storeError(result.SessionID, "failed to save assistant message", err)
		}

		durationMs := time.Since(start).Milliseconds()
		if result.DurationMs != nil {
			durationMs = *result.DurationMs
		}

		return &ChatOutput{Body: ChatResponse{
			SessionID:    result.SessionID,
			ResponseText: result.ResponseText,
			ToolCalls:    toolCalls,
			IsError:      result.IsError,
			CostUSD:      result.CostUSD,
			DurationMs:   durationMs,
		}}, nil
	})
}

// storeError maps a transcript store failure to an HTTP error.
func storeError(sessionID, msg string, err error) error {
	log.Error().Err(err).Str("session_id", sessionID).Msg("v1.chat: " + msg)

	if errors.Is(err, domain.ErrStoreUnavailable) {
		return huma.Error503ServiceUnavailable("transcript store unavailable")
	}
	return huma.Error500InternalServerError(msg)
}
