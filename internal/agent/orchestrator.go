package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/domain"
)

// FallbackMessage is the user-facing text of the terminal fallback result.
const FallbackMessage = "An error occurred while processing your request."

const publishTimeout = 5 * time.Second

// SessionPublisher delivers live event payloads to the subscribers of one
// session.
type SessionPublisher interface {
	PublishSession(ctx context.Context, sessionID string, payload []byte) error
}

// Orchestrator drives one agent turn per request: it invokes the runtime,
// classifies the streamed events and applies the resume fallback policy.
type Orchestrator struct {
	runtime     Runtime
	publisher   SessionPublisher
	metrics     *Metrics
	turnTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher publishes every classified event to the turn's session.
func WithPublisher(publisher SessionPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

// WithMetrics records turn metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTurnTimeout bounds each invocation attempt. Zero disables the deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.turnTimeout = d
	}
}

func NewOrchestrator(runtime Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{runtime: runtime}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FallbackResult is the terminal result returned when no invocation succeeded.
func FallbackResult() domain.TurnResult {
	return domain.TurnResult{
		IsError:      true,
		ResponseText: FallbackMessage,
		ToolCalls:    []domain.ToolCall{},
	}
}

// Run executes one turn. With an empty resumeSessionID the runtime is invoked
// once. Otherwise a failed resume is retried once as a fresh invocation, whose
// session id may differ from resumeSessionID. Invocation errors never escape:
// they end in FallbackResult. Errors reported by the runtime in its result
// event are returned unchanged in the TurnResult.
func (o *Orchestrator) Run(ctx context.Context, message, resumeSessionID string) domain.TurnResult {
	done := o.metrics.turnStarted()
	defer done()

	mode := ModeFresh
	if resumeSessionID != "" {
		mode = ModeResume
	}

	result, err := o.attempt(ctx, mode, InvokeRequest{Prompt: message, ResumeSessionID: resumeSessionID})
	if err == nil {
		o.finish(mode, result)
		return result
	}

	if resumeSessionID == "" {
		log.Error().Err(err).Msg("agent.Orchestrator.Run: agent invocation failed")
		o.metrics.turnFinished(mode, OutcomeFallback)
		return FallbackResult()
	}

	log.Warn().Err(err).Str("session_id", resumeSessionID).Msg("agent.Orchestrator.Run: resume failed, starting fresh")
	o.metrics.resumeFellBack()

	result, err = o.attempt(ctx, ModeFresh, InvokeRequest{Prompt: message})
	if err == nil {
		o.finish(mode, result)
		return result
	}

	log.Error().Err(err).Str("resume_session_id", resumeSessionID).Msg("agent.Orchestrator.Run: agent invocation failed after resume fallback")
	o.metrics.turnFinished(mode, OutcomeFallback)
	return FallbackResult()
}

func (o *Orchestrator) finish(mode string, result domain.TurnResult) {
	outcome := OutcomeOK
	if result.IsError {
		outcome = OutcomeAgentError
	}
	o.metrics.turnFinished(mode, outcome)
	o.metrics.addCost(result.CostOrZero())
}

// attempt performs a single invocation. The stream is closed on every path,
// which releases the runtime process even when the deadline fires.
func (o *Orchestrator) attempt(ctx context.Context, mode string, req InvokeRequest) (result domain.TurnResult, err error) {
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		o.metrics.observeInvocation(mode, time.Since(start).Seconds())
	}()

	stream, err := o.runtime.Invoke(ctx, req)
	if err != nil {
		return domain.TurnResult{}, fmt.Errorf("agent.Orchestrator.attempt: invoke: %w", err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("agent.Orchestrator.attempt: close stream")
		}
	}()

	sessionID := req.ResumeSessionID
	publish := func(ev Event) {
		switch e := ev.(type) {
		case InitEvent:
			sessionID = e.SessionID
		case ResultEvent:
			sessionID = e.SessionID
		}
		o.publish(sessionID, ev)
	}

	result, err = Classify(ctx, stream, publish)
	if err != nil {
		return domain.TurnResult{}, fmt.Errorf("agent.Orchestrator.attempt: %w", err)
	}

	return result, nil
}

type liveEvent struct {
	Type      EventKind `json:"type"`
	SessionID string    `json:"session_id"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// publish forwards ev to the session channel. Events seen before the session
// id is known are not published.
func (o *Orchestrator) publish(sessionID string, ev Event) {
	if o.publisher == nil || sessionID == "" {
		return
	}

	payload, err := json.Marshal(liveEvent{
		Type:      ev.Kind(),
		SessionID: sessionID,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("agent.Orchestrator.publish: marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if pubErr := o.publisher.PublishSession(ctx, sessionID, payload); pubErr != nil {
		log.Error().Err(pubErr).Str("session_id", sessionID).Msg("agent.Orchestrator.publish: failed to publish event")
	}
}
