package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/coday/internal/events"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/observability"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/pkg/models"
)

// DefaultMaxIterations caps model round-trips in one run. When the cap is
// hit the run ends with a budget-exhausted message instead of an error.
const DefaultMaxIterations = 20

// budgetExhaustedText is appended as the agent's final message when the
// iteration cap is reached.
const budgetExhaustedText = "Tool-use budget exhausted."

// interruptedText is published when a run is stopped mid-flight.
const interruptedText = "Processing interrupted."

// ErrStopped reports a run terminated by a stop request rather than
// completion.
var ErrStopped = errors.New("run stopped")

// Loop drives one agent over one thread until the model answers without
// tool calls, the iteration budget runs out, or the run is stopped.
type Loop struct {
	bus           *events.Bus
	logger        *slog.Logger
	maxIterations int
	speakerPrefix string
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithSpeakerPrefix prepends a hint to the speaker name on published
// events. Delegated child runs use it so the UI can attribute their
// output ("-> researcher") while thread entries keep the bare agent name.
func WithSpeakerPrefix(prefix string) LoopOption {
	return func(l *Loop) {
		l.speakerPrefix = prefix
	}
}

// NewLoop creates a run loop publishing to bus.
func NewLoop(bus *events.Bus, opts ...LoopOption) *Loop {
	l := &Loop{
		bus:           bus,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) speaker(ag *Agent) string {
	return l.speakerPrefix + ag.Name()
}

// Run executes the agentic loop. The caller has already appended the
// triggering user entry to the thread. Returns the agent's final text.
func (l *Loop) Run(ctx context.Context, ag *Agent, th *thread.Thread) (string, error) {
	observability.RunsStarted.WithLabelValues(ag.Name()).Inc()
	text, err := l.run(ctx, ag, th)
	switch {
	case errors.Is(err, ErrStopped):
		observability.RunsCompleted.WithLabelValues(ag.Name(), "stopped").Inc()
	case err != nil:
		observability.RunsCompleted.WithLabelValues(ag.Name(), "error").Inc()
	case text == budgetExhaustedText:
		observability.RunsCompleted.WithLabelValues(ag.Name(), "budget_exhausted").Inc()
	default:
		observability.RunsCompleted.WithLabelValues(ag.Name(), "ok").Inc()
	}
	return text, err
}

func (l *Loop) run(ctx context.Context, ag *Agent, th *thread.Thread) (string, error) {
	var lastText string

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return lastText, l.interrupt(th, ag, nil)
		}

		l.bus.Publish(&models.Event{
			Kind:        models.EventThinking,
			Role:        models.RoleAssistant,
			SpeakerName: l.speaker(ag),
		})

		req := ag.Request(model.FromEntries(th.Entries()))
		chunks, err := ag.Client().Complete(ctx, req)
		if err != nil {
			l.publishError(ag, err)
			return lastText, err
		}

		text, calls, streamErr := l.consumeStream(ag, chunks)
		if streamErr != nil {
			if ctx.Err() != nil {
				return lastText, l.interrupt(th, ag, nil)
			}
			l.publishError(ag, streamErr)
			return lastText, streamErr
		}

		if text != "" {
			lastText = text
			if _, err := th.Append(models.ThreadEntry{
				Kind:      models.EntryAgent,
				AgentName: ag.Name(),
				Content:   models.TextContent(text),
			}); err != nil {
				err = fmt.Errorf("append agent message: %w", err)
				l.publishError(ag, err)
				return lastText, err
			}
			l.bus.Publish(&models.Event{
				Kind:        models.EventMessage,
				Role:        models.RoleAssistant,
				SpeakerName: l.speaker(ag),
				Content:     models.TextContent(text),
			})
		}

		if len(calls) == 0 {
			return lastText, nil
		}

		requestEventIDs := make(map[string]string, len(calls))
		for _, call := range calls {
			if _, err := th.Append(models.ThreadEntry{
				Kind:     models.EntryToolRequest,
				ToolName: call.Name,
				CallID:   call.ID,
				Args:     call.Input,
			}); err != nil {
				err = fmt.Errorf("append tool request: %w", err)
				l.publishError(ag, err)
				return lastText, err
			}
			ev := &models.Event{
				Kind:        models.EventToolRequest,
				Role:        models.RoleAssistant,
				SpeakerName: l.speaker(ag),
				ToolName:    call.Name,
				CallID:      call.ID,
				Args:        call.Input,
			}
			l.bus.Publish(ev)
			requestEventIDs[call.ID] = ev.ID
		}

		if ctx.Err() != nil {
			return lastText, l.interrupt(th, ag, requestEventIDs)
		}

		results := ag.ToolSet().ExecuteAll(ctx, calls)

		if ctx.Err() != nil {
			return lastText, l.interrupt(th, ag, requestEventIDs)
		}

		for _, res := range results {
			if _, err := th.Append(models.ThreadEntry{
				Kind:    models.EntryToolResponse,
				CallID:  res.ToolCallID,
				Output:  res.Content,
				IsError: res.IsError,
			}); err != nil {
				err = fmt.Errorf("append tool response: %w", err)
				l.publishError(ag, err)
				return lastText, err
			}
			l.bus.Publish(&models.Event{
				Kind:     models.EventToolResponse,
				ParentID: requestEventIDs[res.ToolCallID],
				CallID:   res.ToolCallID,
				Output:   res.Content,
			})
		}
	}

	// Budget exhausted: close the run with a final agent message so the
	// transcript never ends on a tool response.
	if _, err := th.Append(models.ThreadEntry{
		Kind:      models.EntryAgent,
		AgentName: ag.Name(),
		Content:   models.TextContent(budgetExhaustedText),
	}); err != nil {
		err = fmt.Errorf("append budget message: %w", err)
		l.publishError(ag, err)
		return lastText, err
	}
	l.bus.Publish(&models.Event{
		Kind:        models.EventMessage,
		Role:        models.RoleAssistant,
		SpeakerName: l.speaker(ag),
		Content:     models.TextContent(budgetExhaustedText),
	})
	l.logger.Warn("iteration budget exhausted", "agent", ag.Name(), "thread_id", th.ID())
	return budgetExhaustedText, nil
}

// consumeStream drains one completion, publishing text deltas as they
// arrive and collecting assembled tool calls.
func (l *Loop) consumeStream(ag *Agent, chunks <-chan *model.Chunk) (string, []models.ToolCall, error) {
	var text strings.Builder
	var calls []models.ToolCall

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return "", nil, chunk.Err
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			l.bus.Publish(&models.Event{
				Kind:        models.EventText,
				Role:        models.RoleAssistant,
				SpeakerName: l.speaker(ag),
				Text:        chunk.Text,
			})
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		}
	}
	return strings.TrimSpace(text.String()), calls, nil
}

// interrupt repairs dangling tool requests with synthetic cancelled
// responses and announces the stop.
func (l *Loop) interrupt(th *thread.Thread, ag *Agent, requestEventIDs map[string]string) error {
	for _, callID := range th.Repair() {
		l.bus.Publish(&models.Event{
			Kind:     models.EventToolResponse,
			ParentID: requestEventIDs[callID],
			CallID:   callID,
			Output:   "cancelled",
		})
	}
	l.bus.Publish(&models.Event{
		Kind:        models.EventWarn,
		SpeakerName: l.speaker(ag),
		Message:     interruptedText,
	})
	l.logger.Info("run interrupted", "agent", ag.Name(), "thread_id", th.ID())
	return ErrStopped
}

func (l *Loop) publishError(ag *Agent, err error) {
	l.bus.Publish(&models.Event{
		Kind:        models.EventError,
		SpeakerName: l.speaker(ag),
		Message:     err.Error(),
	})
	l.logger.Error("run failed", "agent", ag.Name(), "error", err)
}
