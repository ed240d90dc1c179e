package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/domain"
)

type GetSessionInput struct {
	ID string `path:"id" maxLength:"128" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

func RegisterSessionRoutes(api huma.API, store TranscriptStore) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session transcript",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		sess, err := store.Get(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			log.Error().Err(err).Str("session_id", input.ID).Msg("v1.sessions: failed to get session")
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return nil, huma.Error503ServiceUnavailable("transcript store unavailable")
			}
			return nil, huma.Error500InternalServerError("failed to get session")
		}

		return &GetSessionOutput{Body: sess}, nil
	})
}
