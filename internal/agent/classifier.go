package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gosuda/agentchat/internal/domain"
)

// ErrNoResult is returned when an event stream ends without a result event.
var ErrNoResult = errors.New("agent: stream ended without a result event") //nolint:gochecknoglobals // sentinel error

// Classifier reduces the events of one invocation into a TurnResult in a
// single pass. It keeps only the text fragments and the pending tool-call
// index, so it can run while events are still arriving.
type Classifier struct {
	result    domain.TurnResult
	texts     []string
	pending   map[string]int // invocation id -> index into result.ToolCalls
	hasResult bool
}

func NewClassifier() *Classifier {
	return &Classifier{
		result:  domain.TurnResult{ToolCalls: []domain.ToolCall{}},
		pending: make(map[string]int),
	}
}

// Observe folds one event into the turn. Events must be observed in arrival order.
func (c *Classifier) Observe(ev Event) {
	switch e := ev.(type) {
	case InitEvent:
		if c.result.SessionID == "" {
			c.result.SessionID = e.SessionID
		}
	case AssistantEvent:
		for _, block := range e.Blocks {
			c.observeBlock(block)
		}
	case UserEvent:
		for _, tr := range e.Results {
			idx, ok := c.pending[tr.InvocationID]
			if !ok || tr.Content.IsEmpty() {
				continue
			}
			text := tr.Content.Text()
			c.result.ToolCalls[idx].ToolResult = &text
		}
	case ResultEvent:
		c.result.SessionID = e.SessionID
		c.result.IsError = e.IsError
		c.result.CostUSD = e.TotalCostUSD
		c.result.DurationMs = e.DurationMs
		c.hasResult = true
	}
}

func (c *Classifier) observeBlock(block ContentBlock) {
	switch b := block.(type) {
	case TextBlock:
		c.texts = append(c.texts, b.Text)
	case ToolUseBlock:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		c.result.ToolCalls = append(c.result.ToolCalls, domain.ToolCall{
			ToolName:  b.Name,
			ToolInput: input,
		})
		c.pending[b.InvocationID] = len(c.result.ToolCalls) - 1
	}
}

// Complete reports whether the terminal result event has been observed.
func (c *Classifier) Complete() bool {
	return c.hasResult
}

// Result returns the turn assembled so far. The returned value shares no
// mutable state with the classifier.
func (c *Classifier) Result() domain.TurnResult {
	out := c.result
	out.ResponseText = strings.Join(c.texts, "\n")
	out.ToolCalls = make([]domain.ToolCall, len(c.result.ToolCalls))
	copy(out.ToolCalls, c.result.ToolCalls)
	return out
}

// Classify reads stream through a new Classifier, calling each observer with
// every event after it has been folded in. It returns as soon as the result
// event arrives and never reads past it; the caller owns closing the stream.
// A stream that fails or reaches io.EOF before the result is an invocation
// failure.
func Classify(ctx context.Context, stream EventStream, observers ...func(Event)) (domain.TurnResult, error) {
	c := NewClassifier()

	for !c.Complete() {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.TurnResult{}, fmt.Errorf("agent.Classify: %w", err)
		}

		c.Observe(ev)
		for _, observe := range observers {
			observe(ev)
		}
	}

	if !c.Complete() {
		return domain.TurnResult{}, fmt.Errorf("agent.Classify: %w", ErrNoResult)
	}

	return c.Result(), nil
}
