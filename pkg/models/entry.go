package models

import (
	"encoding/json"
	"time"
)

// EntryKind discriminates thread entries.
type EntryKind string

const (
	// EntryUser is a message submitted by the user (or a delegating agent).
	EntryUser EntryKind = "user"

	// EntryAgent is a final assistant message produced by an agent.
	EntryAgent EntryKind = "agent"

	// EntryToolRequest is a model-issued tool invocation.
	EntryToolRequest EntryKind = "tool_request"

	// EntryToolResponse is the outcome of a tool invocation.
	EntryToolResponse EntryKind = "tool_response"
)

// ThreadEntry is one element of a thread's ordered transcript.
//
// Entries are strictly ordered; CallIDs are unique within a thread and tie
// each ToolResponse to its ToolRequest. A ToolRequest must be matched by a
// ToolResponse before the next agent message is appended.
type ThreadEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      EntryKind `json:"kind" yaml:"kind"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// User entries.
	Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`

	// Agent and tool entries.
	AgentName string `json:"agent_name,omitempty" yaml:"agentName,omitempty"`

	// User and agent entries.
	Content []ContentPart `json:"content,omitempty" yaml:"content,omitempty"`

	// Tool request entries.
	ToolName string          `json:"tool_name,omitempty" yaml:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty" yaml:"args,omitempty"`

	// Tool request and response entries.
	CallID string `json:"call_id,omitempty" yaml:"callId,omitempty"`

	// Tool response entries. Errors travel as Output text with IsError set;
	// the model sees the failure and may recover.
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty" yaml:"isError,omitempty"`
}

// PlainText returns the concatenated text content of the entry.
func (e *ThreadEntry) PlainText() string {
	return JoinText(e.Content)
}

// ToolCall is a model-issued request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution. Failures are values, not
// transport errors: Content describes the problem and IsError is set.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
