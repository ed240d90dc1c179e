package backends

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/agent"
)

const (
	claudeScanBufferSize = 256 * 1024
	claudeMaxLineSize    = 8 * 1024 * 1024
	claudeEventBuffer    = 16
)

// NewClaudeBackend returns a RuntimeFactory result that runs the Claude CLI
// as a host process.
func NewClaudeBackend(opts agent.RuntimeOptions) (agent.Runtime, error) {
	return NewClaudeRuntime(agent.NewExecLauncher(), opts), nil
}

// NewClaudeDockerBackend runs the Claude CLI inside a Docker container.
func NewClaudeDockerBackend(opts agent.RuntimeOptions) (agent.Runtime, error) {
	launcher, err := agent.NewDockerLauncher(opts.Docker)
	if err != nil {
		return nil, fmt.Errorf("agent.NewClaudeDockerBackend: %w", err)
	}
	return NewClaudeRuntime(launcher, opts), nil
}

// ClaudeRuntime implements agent.Runtime on top of the Claude CLI speaking
// stream-json over stdin and stdout. One process is started per invocation;
// stdin stays open until the result event so the CLI can exchange control
// messages mid-turn.
type ClaudeRuntime struct {
	launcher  agent.Launcher
	opts      agent.RuntimeOptions
	transport *ClaudeTransport
}

func NewClaudeRuntime(launcher agent.Launcher, opts agent.RuntimeOptions) *ClaudeRuntime {
	if opts.CLIPath == "" {
		opts.CLIPath = "claude"
	}
	return &ClaudeRuntime{
		launcher:  launcher,
		opts:      opts,
		transport: &ClaudeTransport{},
	}
}

// Args builds the CLI argument vector, program first.
func (r *ClaudeRuntime) Args(req agent.InvokeRequest) ([]string, error) {
	args := []string{
		r.opts.CLIPath,
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	}

	if r.opts.Model != "" {
		args = append(args, "--model", r.opts.Model)
	}
	if r.opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", r.opts.SystemPrompt)
	}
	if r.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(r.opts.MaxTurns))
	}
	if r.opts.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(r.opts.MaxBudgetUSD, 'f', -1, 64))
	}

	if len(r.opts.MCPServers) > 0 {
		cfg, err := mcpConfig(r.opts.MCPServers)
		if err != nil {
			return nil, fmt.Errorf("agent.ClaudeRuntime.Args: %w", err)
		}
		args = append(args, "--mcp-config", cfg)
	}
	if len(r.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(r.opts.AllowedTools, ","))
	}

	if req.ResumeSessionID != "" {
		args = append(args, "--resume="+req.ResumeSessionID)
	}

	return args, nil
}

func mcpConfig(servers map[string]string) (string, error) {
	type server struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
	cfg := struct {
		MCPServers map[string]server `json:"mcpServers"`
	}{MCPServers: make(map[string]server, len(servers))}

	for _, name := range slices.Sorted(maps.Keys(servers)) {
		cfg.MCPServers[name] = server{Type: "http", URL: servers[name]}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("mcp config: %w", err)
	}
	return string(data), nil
}

func (r *ClaudeRuntime) env() []string {
	if r.opts.APIKey == "" {
		return nil
	}
	return []string{"ANTHROPIC_API_KEY=" + r.opts.APIKey}
}

// Invoke starts the CLI, writes the prompt as the first stream-json input
// message and returns the decoded output stream.
func (r *ClaudeRuntime) Invoke(ctx context.Context, req agent.InvokeRequest) (agent.EventStream, error) {
	args, err := r.Args(req)
	if err != nil {
		return nil, err
	}

	prompt, err := r.transport.EncodeUserMessage(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("agent.ClaudeRuntime.Invoke: %w", err)
	}

	proc, err := r.launcher.Launch(ctx, agent.LaunchSpec{
		Args: args,
		Env:  r.env(),
		Stderr: func(line string) {
			log.Info().Str("line", line).Msg("agent.ClaudeRuntime: stderr")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agent.ClaudeRuntime.Invoke: %w", err)
	}

	stream := newClaudeStream(proc, r.transport)
	go stream.read()

	if err := stream.write(prompt); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("agent.ClaudeRuntime.Invoke: write prompt: %w", err)
	}

	return stream, nil
}

// Close releases the launcher.
func (r *ClaudeRuntime) Close() error {
	if err := r.launcher.Close(); err != nil {
		return fmt.Errorf("agent.ClaudeRuntime.Close: %w", err)
	}
	return nil
}

type streamItem struct {
	event agent.Event
	err   error
}

// claudeStream decodes stdout lines into events. The reader goroutine owns
// stdout; stdin writes are serialized through mu.
type claudeStream struct {
	proc      agent.Process
	transport *ClaudeTransport
	started   time.Time

	items    chan streamItem
	done     chan struct{}
	finished chan struct{}

	mu          sync.Mutex
	stdinClosed bool

	closeOnce sync.Once
}

func newClaudeStream(proc agent.Process, transport *ClaudeTransport) *claudeStream {
	return &claudeStream{
		proc:      proc,
		transport: transport,
		started:   time.Now(),
		items:     make(chan streamItem, claudeEventBuffer),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

func (s *claudeStream) Next(ctx context.Context) (agent.Event, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("agent.claudeStream.Next: %w", ctx.Err())
	case item, ok := <-s.items:
		if !ok {
			return nil, io.EOF
		}
		return item.event, item.err
	}
}

// Close kills the process if it is still running and waits for it.
func (s *claudeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeStdin()
		select {
		case <-s.finished:
		default:
			if err := s.proc.Kill(); err != nil {
				log.Warn().Err(err).Msg("agent.claudeStream.Close: kill")
			}
		}
	})
	<-s.finished
	return nil
}

func (s *claudeStream) write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdinClosed {
		return io.ErrClosedPipe
	}
	_, err := s.proc.Stdin().Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("agent.claudeStream.write: %w", err)
	}
	return nil
}

func (s *claudeStream) closeStdin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdinClosed {
		return
	}
	s.stdinClosed = true
	if err := s.proc.Stdin().Close(); err != nil {
		log.Debug().Err(err).Msg("agent.claudeStream: close stdin")
	}
}

func (s *claudeStream) emit(item streamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.done:
		return false
	}
}

func (s *claudeStream) read() {
	defer close(s.finished)
	defer close(s.items)

	sawResult := false
	scanner := bufio.NewScanner(s.proc.Stdout())
	scanner.Buffer(make([]byte, 0, claudeScanBufferSize), claudeMaxLineSize)

	for scanner.Scan() {
		frame, err := s.transport.Decode(scanner.Bytes())
		if err != nil {
			log.Debug().Err(err).Msg("agent.claudeStream.read: skipping non-JSON line")
			continue
		}

		if frame.ControlRequestID != "" {
			s.replyControl(frame)
			continue
		}
		if frame.Event == nil {
			continue
		}

		if res, ok := frame.Event.(agent.ResultEvent); ok {
			if res.DurationMs == nil {
				elapsed := time.Since(s.started).Milliseconds()
				res.DurationMs = &elapsed
			}
			frame.Event = res
			sawResult = true
			// The turn is over; closing stdin lets the CLI exit.
			s.closeStdin()
		}

		if !s.emit(streamItem{event: frame.Event}) {
			break
		}
	}

	scanErr := scanner.Err()
	// Drain so the process is never blocked on a full stdout pipe.
	_, _ = io.Copy(io.Discard, s.proc.Stdout())

	waitErr := s.proc.Wait()

	switch {
	case sawResult:
		if waitErr != nil {
			log.Debug().Err(waitErr).Msg("agent.claudeStream.read: process exit after result")
		}
	case scanErr != nil:
		s.emit(streamItem{err: fmt.Errorf("agent.claudeStream.read: %w", scanErr)})
	case waitErr != nil:
		s.emit(streamItem{err: fmt.Errorf("agent.claudeStream.read: process exited: %w", waitErr)})
	}
}

func (s *claudeStream) replyControl(frame Frame) {
	log.Warn().
		Str("request_id", frame.ControlRequestID).
		Str("subtype", frame.ControlSubtype).
		Msg("agent.claudeStream: unsupported control request")

	reply, err := s.transport.EncodeControlError(frame.ControlRequestID, "unsupported control request: "+frame.ControlSubtype)
	if err != nil {
		log.Error().Err(err).Msg("agent.claudeStream: encode control response")
		return
	}
	if err := s.write(reply); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Error().Err(err).Msg("agent.claudeStream: write control response")
	}
}

// Frame is one decoded stdout line. Exactly one of Event or ControlRequestID
// is set for meaningful lines; both are empty for lines that carry nothing
// the classifier needs.
type Frame struct {
	Event            agent.Event
	ControlRequestID string
	ControlSubtype   string
}

// ClaudeTransport translates between stream-json lines and agent events.
type ClaudeTransport struct{}

func (t *ClaudeTransport) AgentName() string { return "claude" }

type claudeLine struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype"`
	SessionID    string          `json:"session_id"`
	Model        string          `json:"model"`
	Message      *claudeMessage  `json:"message"`
	IsError      bool            `json:"is_error"`
	TotalCostUSD *float64        `json:"total_cost_usd"`
	DurationMs   *int64          `json:"duration_ms"`
	NumTurns     int             `json:"num_turns"`
	RequestID    string          `json:"request_id"`
	Request      json.RawMessage `json:"request"`
}

type claudeMessage struct {
	Content json.RawMessage `json:"content"`
}

type claudeBlock struct {
	Type      string                  `json:"type"`
	Text      string                  `json:"text"`
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Input     map[string]any          `json:"input"`
	ToolUseID string                  `json:"tool_use_id"`
	Content   agent.ToolResultContent `json:"content"`
	IsError   bool                    `json:"is_error"`
}

// Decode parses one stdout line.
func (t *ClaudeTransport) Decode(line []byte) (Frame, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Frame{}, nil
	}

	var l claudeLine
	if err := json.Unmarshal([]byte(trimmed), &l); err != nil {
		return Frame{}, fmt.Errorf("agent.ClaudeTransport.Decode: %w", err)
	}

	switch l.Type {
	case "system":
		if l.Subtype != "init" {
			return Frame{}, nil
		}
		return Frame{Event: agent.InitEvent{SessionID: l.SessionID, Model: l.Model}}, nil

	case "assistant":
		blocks, err := t.blocks(l.Message)
		if err != nil {
			return Frame{}, err
		}
		ev := agent.AssistantEvent{Blocks: make([]agent.ContentBlock, 0, len(blocks))}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				ev.Blocks = append(ev.Blocks, agent.TextBlock{Text: b.Text})
			case "tool_use":
				ev.Blocks = append(ev.Blocks, agent.ToolUseBlock{InvocationID: b.ID, Name: b.Name, Input: b.Input})
			}
		}
		return Frame{Event: ev}, nil

	case "user":
		blocks, err := t.blocks(l.Message)
		if err != nil {
			return Frame{}, err
		}
		ev := agent.UserEvent{}
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			ev.Results = append(ev.Results, agent.ToolResultBlock{
				InvocationID: b.ToolUseID,
				Content:      b.Content,
				IsError:      b.IsError,
			})
		}
		if len(ev.Results) == 0 {
			return Frame{}, nil
		}
		return Frame{Event: ev}, nil

	case "result":
		return Frame{Event: agent.ResultEvent{
			SessionID:    l.SessionID,
			Subtype:      l.Subtype,
			IsError:      l.IsError,
			TotalCostUSD: l.TotalCostUSD,
			DurationMs:   l.DurationMs,
			NumTurns:     l.NumTurns,
		}}, nil

	case "control_request":
		var req struct {
			Subtype string `json:"subtype"`
		}
		if len(l.Request) > 0 {
			if err := json.Unmarshal(l.Request, &req); err != nil {
				return Frame{}, fmt.Errorf("agent.ClaudeTransport.Decode: control request: %w", err)
			}
		}
		return Frame{ControlRequestID: l.RequestID, ControlSubtype: req.Subtype}, nil

	default:
		return Frame{}, nil
	}
}

// blocks decodes message.content. String content (an echoed prompt) has no
// blocks.
func (t *ClaudeTransport) blocks(msg *claudeMessage) ([]claudeBlock, error) {
	if msg == nil || len(msg.Content) == 0 || msg.Content[0] != '[' {
		return nil, nil
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("agent.ClaudeTransport.Decode: content: %w", err)
	}
	return blocks, nil
}

// EncodeUserMessage renders prompt as a stream-json user input line.
func (t *ClaudeTransport) EncodeUserMessage(prompt string) ([]byte, error) {
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("agent.ClaudeTransport.EncodeUserMessage: %w", err)
	}
	return data, nil
}

// EncodeControlError renders an error reply to a control request.
func (t *ClaudeTransport) EncodeControlError(requestID, message string) ([]byte, error) {
	msg := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      message,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("agent.ClaudeTransport.EncodeControlError: %w", err)
	}
	return data, nil
}
