// Package tools serves the MCP tools the agent is allowed to call.
package tools

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName is the MCP server name; the agent sees its tools as
// mcp__<ServerName>__<tool>.
const ServerName = "weather"

// NewServer returns an MCP server with every tool registered.
func NewServer(version string, metrics *Metrics) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)

	NewWeather().Register(srv, metrics)

	return srv
}

// Handler serves srv over streamable HTTP. Stateless mode lets every agent
// process connect without a prior session handshake surviving restarts.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
}

// AllowedToolNames lists the fully qualified tool names the agent may call.
func AllowedToolNames() []string {
	return []string{"mcp__" + ServerName + "__" + WeatherToolName}
}
