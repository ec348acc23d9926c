// Package model abstracts streaming LLM providers behind one client
// interface and converts thread transcripts to provider wire formats.
package model

import (
	"context"

	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

// Role identifies a request message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-neutral conversation message. Tool calls ride
// on assistant messages; tool results ride on the following user message.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// Request is a single completion call.
type Request struct {
	// Model is the provider-specific model name.
	Model string

	// System is the composed system prompt.
	System string

	Messages []Message

	Tools []tools.Definition

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens caps the response when positive.
	MaxTokens int
}

// Chunk is one streamed increment of a completion.
type Chunk struct {
	// Text is an incremental piece of the assistant's visible answer.
	Text string

	// Thinking is an incremental piece of extended reasoning.
	Thinking string

	// ToolCall is a fully assembled tool invocation.
	ToolCall *models.ToolCall

	// Done marks normal stream completion, with token usage when known.
	Done         bool
	InputTokens  int
	OutputTokens int

	// Err terminates the stream abnormally.
	Err error
}

// Client streams completions from one provider with one credential set.
type Client interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Complete starts a streamed completion. The returned channel is
	// closed after a Done or Err chunk.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Close releases any held resources.
	Close() error
}

// FromEntries converts a transcript to request messages, pairing each
// tool response with the assistant turn that requested it.
func FromEntries(entries []models.ThreadEntry) []Message {
	var out []Message
	for _, e := range entries {
		switch e.Kind {
		case models.EntryUser:
			out = append(out, Message{Role: RoleUser, Content: entryText(e)})
		case models.EntryAgent:
			out = append(out, Message{Role: RoleAssistant, Content: entryText(e)})
		case models.EntryToolRequest:
			// Attach to the current assistant turn, starting one if the
			// model led with tool calls and no text.
			if n := len(out); n > 0 && out[n-1].Role == RoleAssistant && len(out[n-1].ToolResults) == 0 {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, models.ToolCall{
					ID: e.CallID, Name: e.ToolName, Input: e.Args,
				})
			} else {
				out = append(out, Message{
					Role:      RoleAssistant,
					ToolCalls: []models.ToolCall{{ID: e.CallID, Name: e.ToolName, Input: e.Args}},
				})
			}
		case models.EntryToolResponse:
			result := models.ToolResult{ToolCallID: e.CallID, Content: e.Output, IsError: e.IsError}
			if n := len(out); n > 0 && out[n-1].Role == RoleUser && len(out[n-1].ToolResults) > 0 {
				out[n-1].ToolResults = append(out[n-1].ToolResults, result)
			} else {
				out = append(out, Message{Role: RoleUser, ToolResults: []models.ToolResult{result}})
			}
		}
	}
	return out
}

func entryText(e models.ThreadEntry) string {
	text := e.PlainText()
	if e.Kind == models.EntryUser && e.Speaker != "" {
		return e.Speaker + ": " + text
	}
	return text
}
