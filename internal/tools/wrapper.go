package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics counts tool executions. A nil *Metrics disables collection.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentchat",
				Subsystem: "tools",
				Name:      "calls_total",
				Help:      "MCP tool calls, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentchat",
				Subsystem: "tools",
				Name:      "call_duration_seconds",
				Help:      "Duration of MCP tool calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}

	reg.MustRegister(m.calls, m.duration)

	return m
}

func (m *Metrics) observe(tool string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.calls.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(d.Seconds())
}

// WrapToolHandler wraps a tool handler to log and count every execution.
func WrapToolHandler[In, Out any](
	metrics *Metrics,
	toolName string,
	handler mcp.ToolHandlerFor[In, Out],
) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()

		result, output, err := handler(ctx, req, input)

		duration := time.Since(start)
		failed := err != nil || (result != nil && result.IsError)
		metrics.observe(toolName, !failed, duration)

		evt := log.Info()
		if failed {
			evt = log.Warn().Err(err)
		}
		if req != nil && req.Session != nil {
			evt = evt.Str("mcp_session", req.Session.ID())
		}
		evt.Str("tool", toolName).
			Dur("duration", duration).
			Bool("success", !failed).
			Msg("tools: tool call finished")

		return result, output, err
	}
}
