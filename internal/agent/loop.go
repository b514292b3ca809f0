// Package agent implements the core Think→Act loop: ask the model,
// execute any tools it requested, feed the results back, and repeat
// until it answers in plain text or a bound is hit.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelhq/kestrel/internal/history"
	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/tools"
	"github.com/kestrelhq/kestrel/internal/usage"
)

// DefaultSystemPrompt seeds new sessions when config doesn't override it.
const DefaultSystemPrompt = "You are Kestrel, a command-line assistant. " +
	"You can run shell commands, read and write files in your workspace, and synthesize speech when those tools are offered. " +
	"Use tools when they help; answer in plain text when you are done. Be concise."

// Loop defaults.
const (
	DefaultMaxIterations   = 15
	DefaultProviderRetries = 2
	defaultRetryBackoff    = 500 * time.Millisecond
)

// Config bounds one agent loop.
type Config struct {
	Provider     string // provider name, recorded with usage
	Model        string
	SystemPrompt string

	// MaxIterations caps THINK steps per instruction.
	MaxIterations int

	// ProviderRetries bounds retries of retryable provider failures
	// within one THINK step.
	ProviderRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration

	// RunTimeout bounds one whole instruction. Zero means unbounded.
	RunTimeout time.Duration
}

// UsageRecorder receives one record per completed THINK step.
// Typically *usage.Store; nil disables accounting.
type UsageRecorder interface {
	Record(ctx context.Context, r usage.Record) error
}

// Result is the outcome of a terminated loop.
type Result struct {
	FinalText    string
	Model        string
	Iterations   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// state is the loop's position in the Think→Act machine.
type state int

const (
	stateThink state = iota
	stateAct
	stateTerminated
	stateAborted
)

// Loop drives one conversation session. It owns the history — the
// adapter and executor only ever see snapshots and per-call values —
// and processes one instruction at a time.
type Loop struct {
	logger    *slog.Logger
	client    llm.Client
	registry  *tools.Registry
	executor  *tools.Executor
	history   *history.History
	usage     UsageRecorder
	cfg       Config
	sessionID string
}

// NewLoop creates a session-scoped loop. History is seeded with the
// configured system prompt.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, executor *tools.Executor, rec UsageRecorder, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ProviderRetries < 0 {
		cfg.ProviderRetries = DefaultProviderRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Loop{
		logger:    logger.With("component", "agent"),
		client:    client,
		registry:  registry,
		executor:  executor,
		history:   history.New(cfg.SystemPrompt),
		usage:     rec,
		cfg:       cfg,
		sessionID: uuid.New().String(),
	}
}

// History returns a snapshot of the conversation so far. After an
// aborted run this is the partial history for diagnostics.
func (l *Loop) History() []llm.Turn {
	return l.history.Snapshot()
}

// SessionID identifies this session in usage records.
func (l *Loop) SessionID() string {
	return l.sessionID
}

// Run processes one user instruction to completion: it appends the
// user turn, then alternates THINK and ACT until the model stops
// requesting tools (TERMINATED) or a bound or fatal error is hit
// (ABORTED, with the partial history retained).
func (l *Loop) Run(ctx context.Context, userText string) (*Result, error) {
	if l.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.RunTimeout)
		defer cancel()
	}

	if err := l.history.Append(llm.Turn{Role: llm.RoleUser, Content: userText}); err != nil {
		return nil, err
	}

	l.logger.Info("instruction started",
		"session", l.sessionID,
		"history_len", l.history.Len(),
		"tools", l.registry.Len(),
	)

	res := &Result{Model: l.cfg.Model}
	var assistant *llm.AssistantTurn
	var abortErr error

	st := stateThink
	for {
		switch st {
		case stateThink:
			if res.Iterations >= l.cfg.MaxIterations {
				abortErr = &BoundExceededError{Iterations: res.Iterations}
				st = stateAborted
				continue
			}
			res.Iterations++

			turn, err := l.think(ctx)
			if err != nil {
				abortErr = err
				st = stateAborted
				continue
			}
			assistant = turn

			if err := l.history.Append(turn.Turn()); err != nil {
				abortErr = err
				st = stateAborted
				continue
			}

			if turn.Model != "" {
				res.Model = turn.Model
			}
			res.InputTokens += turn.InputTokens
			res.OutputTokens += turn.OutputTokens
			l.recordUsage(ctx, turn)

			if len(turn.ToolCalls) == 0 {
				st = stateTerminated
				continue
			}
			st = stateAct

		case stateAct:
			// Calls execute sequentially, in wire order, each result
			// appended immediately. A call never sees a sibling's
			// result within the same turn; the model sees them all on
			// the next THINK.
			for _, call := range assistant.ToolCalls {
				l.logger.Info("tool call",
					"iteration", res.Iterations,
					"tool", call.Name,
					"call_id", call.ID,
				)
				result := l.executor.Execute(ctx, call)
				if err := l.history.Append(result.Turn()); err != nil {
					abortErr = err
					st = stateAborted
					break
				}
				res.ToolCalls++
			}
			if st == stateAborted {
				continue
			}
			st = stateThink

		case stateTerminated:
			res.FinalText = assistant.Text
			l.logger.Info("instruction completed",
				"session", l.sessionID,
				"iterations", res.Iterations,
				"tool_calls", res.ToolCalls,
				"input_tokens", res.InputTokens,
				"output_tokens", res.OutputTokens,
			)
			return res, nil

		case stateAborted:
			l.logger.Error("instruction aborted",
				"session", l.sessionID,
				"iterations", res.Iterations,
				"history_len", l.history.Len(),
				"error", abortErr,
			)
			return nil, abortErr
		}
	}
}

// think calls the provider, retrying retryable failures a bounded
// number of times with doubling backoff.
func (l *Loop) think(ctx context.Context) (*llm.AssistantTurn, error) {
	backoff := l.cfg.RetryBackoff

	for attempt := 0; ; attempt++ {
		turn, err := l.client.Think(ctx, l.history.Snapshot(), l.registry.Specs())
		if err == nil {
			return turn, nil
		}

		var pe *llm.ProviderError
		if !errors.As(err, &pe) || !pe.Retryable || attempt >= l.cfg.ProviderRetries {
			return nil, err
		}

		l.logger.Warn("provider failure, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (l *Loop) recordUsage(ctx context.Context, turn *llm.AssistantTurn) {
	if l.usage == nil {
		return
	}
	model := turn.Model
	if model == "" {
		model = l.cfg.Model
	}
	err := l.usage.Record(ctx, usage.Record{
		SessionID:    l.sessionID,
		Model:        model,
		Provider:     l.cfg.Provider,
		InputTokens:  turn.InputTokens,
		OutputTokens: turn.OutputTokens,
	})
	if err != nil {
		// Accounting must never break the conversation.
		l.logger.Warn("usage record failed", "error", err)
	}
}
