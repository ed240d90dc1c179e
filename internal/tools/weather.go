package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const WeatherToolName = "get_weather"

type WeatherInput struct {
	City string `json:"city" jsonschema:"name of the city" validate:"required,max=128"`
}

// Weather answers get_weather with a fixed report; it exists to give the
// agent a tool round trip, not to forecast anything.
type Weather struct {
	validator *validator.Validate
}

func NewWeather() *Weather {
	return &Weather{validator: validator.New()}
}

func (w *Weather) Register(srv *mcp.Server, metrics *Metrics) {
	tool := &mcp.Tool{
		Name:        WeatherToolName,
		Description: "Get current weather for a city",
	}
	mcp.AddTool(srv, tool, WrapToolHandler(metrics, WeatherToolName, w.Handle))
}

func (w *Weather) Handle(_ context.Context, _ *mcp.CallToolRequest, input WeatherInput) (*mcp.CallToolResult, any, error) {
	input.City = strings.TrimSpace(input.City)
	if err := w.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: WeatherReport(input.City)},
		},
	}, nil, nil
}

func WeatherReport(city string) string {
	return fmt.Sprintf("Weather in %s: 72°F, Sunny, Humidity: 45%%", city)
}
