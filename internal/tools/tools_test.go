package tools_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/agentchat/internal/tools"
)

func connect(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := srv.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestWeatherReport(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Weather in Rome: 72°F, Sunny, Humidity: 45%", tools.WeatherReport("Rome"))
}

func TestAllowedToolNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"mcp__weather__get_weather"}, tools.AllowedToolNames())
}

func TestWeather_Handle(t *testing.T) {
	t.Parallel()

	w := tools.NewWeather()

	tests := []struct {
		name    string
		city    string
		want    string
		wantErr bool
	}{
		{name: "city", city: "Rome", want: "Weather in Rome: 72°F, Sunny, Humidity: 45%"},
		{name: "trimmed", city: "  Oslo ", want: "Weather in Oslo: 72°F, Sunny, Humidity: 45%"},
		{name: "empty", city: "", wantErr: true},
		{name: "blank", city: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, _, err := w.Handle(context.Background(), nil, tools.WeatherInput{City: tt.city})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, textOf(t, res))
		})
	}
}

func TestServer_CallWeather(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cs := connect(t, tools.NewServer("test", tools.MustNewMetrics(reg)))
	ctx := context.Background()

	list, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, tools.WeatherToolName, list.Tools[0].Name)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      tools.WeatherToolName,
		Arguments: map[string]any{"city": "Rome"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Weather in Rome: 72°F, Sunny, Humidity: 45%", textOf(t, res))

	count, err := testutil.GatherAndCount(reg, "agentchat_tools_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWrapToolHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := tools.MustNewMetrics(reg)

	calls := 0
	handler := tools.WrapToolHandler(metrics, "probe",
		func(_ context.Context, _ *mcp.CallToolRequest, in string) (*mcp.CallToolResult, any, error) {
			calls++
			if in == "fail" {
				return nil, nil, errors.New("boom")
			}
			return &mcp.CallToolResult{}, nil, nil
		})

	_, _, err := handler(context.Background(), nil, "ok")
	require.NoError(t, err)
	_, _, err = handler(context.Background(), nil, "fail")
	require.EqualError(t, err, "boom")
	assert.Equal(t, 2, calls)

	count, err := testutil.GatherAndCount(reg, "agentchat_tools_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")
}

func TestHandler_ServesHTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(tools.Handler(tools.NewServer("test", nil)))
	t.Cleanup(ts.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.WeatherToolName,
		Arguments: map[string]any{"city": "Paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Weather in Paris: 72°F, Sunny, Humidity: 45%", textOf(t, res))
}
