package domain

// TurnResult is the outcome of a single agent invocation attempt.
// SessionID is assigned by the agent runtime; it is empty when the
// invocation failed before the runtime reported one.
type TurnResult struct {
	SessionID    string     `json:"session_id"`
	ResponseText string     `json:"response_text"`
	ToolCalls    []ToolCall `json:"tool_calls"`
	IsError      bool       `json:"is_error"`
	CostUSD      *float64   `json:"cost_usd"`
	DurationMs   *int64     `json:"duration_ms"`
}

// CostOrZero returns the reported cost, or zero when none was reported.
func (r TurnResult) CostOrZero() float64 {
	if r.CostUSD == nil {
		return 0
	}
	return *r.CostUSD
}
