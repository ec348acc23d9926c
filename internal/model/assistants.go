package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/coday/internal/observability"
	"github.com/haasonsaas/coday/pkg/models"
)

const assistantPollInterval = time.Second

// AssistantsClient runs completions against a hosted OpenAI assistant.
// The assistant carries its own instructions and hosted tools; local tool
// calls still round-trip through the run's requires_action state.
type AssistantsClient struct {
	client      *openai.Client
	assistantID string
	logger      *slog.Logger
	poll        time.Duration

	mu      sync.Mutex
	pending map[string]assistantRun // tool call ID -> suspended run
}

type assistantRun struct {
	threadID string
	runID    string
}

// NewAssistantsClient creates a client bound to one hosted assistant.
func NewAssistantsClient(cfg OpenAIConfig, assistantID string) (*AssistantsClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assistants: API key is required")
	}
	if assistantID == "" {
		return nil, errors.New("assistants: assistant ID is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantsClient{
		client:      openai.NewClientWithConfig(clientCfg),
		assistantID: assistantID,
		logger:      logger,
		poll:        assistantPollInterval,
		pending:     make(map[string]assistantRun),
	}, nil
}

// Name implements Client.
func (c *AssistantsClient) Name() string { return "openai-assistant" }

// Close implements Client.
func (c *AssistantsClient) Close() error { return nil }

// Complete implements Client. When the request's last message carries tool
// results for a suspended run, the outputs are submitted to that run;
// otherwise a fresh hosted thread is seeded with the flattened transcript.
func (c *AssistantsClient) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		if err := c.run(ctx, req, chunks); err != nil {
			observability.ModelCalls.WithLabelValues("openai-assistant", "error").Inc()
			chunks <- &Chunk{Err: err}
			return
		}
		observability.ModelCalls.WithLabelValues("openai-assistant", "ok").Inc()
	}()
	return chunks, nil
}

func (c *AssistantsClient) run(ctx context.Context, req *Request, chunks chan<- *Chunk) error {
	if run, outputs, ok := c.matchPendingRun(req); ok {
		_, err := c.client.SubmitToolOutputs(ctx, run.threadID, run.runID, openai.SubmitToolOutputsRequest{
			ToolOutputs: outputs,
		})
		if err != nil {
			return fmt.Errorf("assistants: submit tool outputs: %w", err)
		}
		return c.awaitRun(ctx, run.threadID, run.runID, chunks)
	}

	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{
		Messages: []openai.ThreadMessage{{
			Role:    openai.ThreadMessageRoleUser,
			Content: flattenTranscript(req),
		}},
	})
	if err != nil {
		return fmt.Errorf("assistants: create thread: %w", err)
	}

	runReq := openai.RunRequest{AssistantID: c.assistantID}
	if req.Model != "" {
		runReq.Model = req.Model
	}
	run, err := c.client.CreateRun(ctx, thread.ID, runReq)
	if err != nil {
		return fmt.Errorf("assistants: create run: %w", err)
	}
	c.logger.Debug("assistant run started",
		"assistant_id", c.assistantID, "thread_id", thread.ID, "run_id", run.ID)
	return c.awaitRun(ctx, thread.ID, run.ID, chunks)
}

// matchPendingRun resolves tool results in the request's last message to a
// suspended run, consuming the pending entries on a full match.
func (c *AssistantsClient) matchPendingRun(req *Request) (assistantRun, []openai.ToolOutput, bool) {
	if len(req.Messages) == 0 {
		return assistantRun{}, nil, false
	}
	last := req.Messages[len(req.Messages)-1]
	if len(last.ToolResults) == 0 {
		return assistantRun{}, nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var run assistantRun
	outputs := make([]openai.ToolOutput, 0, len(last.ToolResults))
	for i, tr := range last.ToolResults {
		pending, ok := c.pending[tr.ToolCallID]
		if !ok || (i > 0 && pending != run) {
			return assistantRun{}, nil, false
		}
		run = pending
		outputs = append(outputs, openai.ToolOutput{
			ToolCallID: tr.ToolCallID,
			Output:     tr.Content,
		})
	}
	for _, tr := range last.ToolResults {
		delete(c.pending, tr.ToolCallID)
	}
	return run, outputs, true
}

func (c *AssistantsClient) awaitRun(ctx context.Context, threadID, runID string, chunks chan<- *Chunk) error {
	deadline := time.NewTimer(maxCallWall)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		run, err := c.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("assistants: retrieve run: %w", err)
		}
		switch run.Status {
		case openai.RunStatusCompleted:
			return c.emitFinalMessage(ctx, threadID, runID, run, chunks)

		case openai.RunStatusRequiresAction:
			if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
				return fmt.Errorf("assistants: run %s requires action without tool calls", runID)
			}
			c.mu.Lock()
			for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
				c.pending[tc.ID] = assistantRun{threadID: threadID, runID: runID}
			}
			c.mu.Unlock()
			for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
				chunks <- &Chunk{ToolCall: toToolCall(tc)}
			}
			chunks <- &Chunk{Done: true}
			return nil

		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled:
			msg := string(run.Status)
			if run.LastError != nil {
				msg = run.LastError.Message
			}
			return fmt.Errorf("assistants: run %s %s: %s", runID, run.Status, msg)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("assistants: run %s exceeded %s", runID, maxCallWall)
		case <-ticker.C:
		}
	}
}

func (c *AssistantsClient) emitFinalMessage(ctx context.Context, threadID, runID string, run openai.Run, chunks chan<- *Chunk) error {
	limit := 1
	order := "desc"
	msgs, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return fmt.Errorf("assistants: list messages: %w", err)
	}
	for _, msg := range msgs.Messages {
		for _, content := range msg.Content {
			if content.Text != nil && content.Text.Value != "" {
				chunks <- &Chunk{Text: content.Text.Value}
			}
		}
	}
	done := &Chunk{Done: true}
	if run.Usage.PromptTokens > 0 {
		done.InputTokens = run.Usage.PromptTokens
		done.OutputTokens = run.Usage.CompletionTokens
	}
	chunks <- done
	return nil
}

// flattenTranscript renders the conversation as one user message; hosted
// assistants keep their own instructions, so the local system prompt rides
// along as context.
func flattenTranscript(req *Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func toToolCall(tc openai.ToolCall) *models.ToolCall {
	input := tc.Function.Arguments
	if input == "" {
		input = "{}"
	}
	return &models.ToolCall{
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: []byte(input),
	}
}
