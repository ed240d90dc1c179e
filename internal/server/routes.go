package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/agentchat/internal/api/v1"
	"github.com/gosuda/agentchat/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterChatRoutes(api, deps.Store, deps.Orchestrator)
	v1.RegisterSessionRoutes(api, deps.Store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}
