package models

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of an engine event.
type EventKind string

const (
	// EventMessage is a complete message (user, assistant or system).
	EventMessage EventKind = "message"

	// EventText is an incremental text delta from a streaming model response.
	EventText EventKind = "text"

	// EventAnswer is a user submission; when it answers an Invite its
	// ParentID carries the Invite's event ID.
	EventAnswer EventKind = "answer"

	// EventInvite asks the user a free-form question.
	EventInvite EventKind = "invite"

	// EventChoice asks the user to pick one of several options.
	EventChoice EventKind = "choice"

	// EventToolRequest records a model-issued tool invocation.
	EventToolRequest EventKind = "tool_request"

	// EventToolResponse records the outcome of a tool invocation. Its
	// ParentID is always the originating ToolRequest's event ID.
	EventToolResponse EventKind = "tool_response"

	// EventThinking signals that a model call is in flight.
	EventThinking EventKind = "thinking"

	// EventWarn carries a recoverable problem.
	EventWarn EventKind = "warn"

	// EventError carries a failure that aborted the current run.
	EventError EventKind = "error"

	// EventProjectSelected announces a project switch.
	EventProjectSelected EventKind = "project_selected"

	// EventThreadSelected announces a thread switch.
	EventThreadSelected EventKind = "thread_selected"

	// EventFile announces a file mutation performed by a tool.
	EventFile EventKind = "file"

	// EventHeartbeat keeps long-lived transports alive.
	EventHeartbeat EventKind = "heartbeat"
)

// FileOperation describes what a tool did to a file.
type FileOperation string

const (
	FileCreated FileOperation = "created"
	FileUpdated FileOperation = "updated"
	FileDeleted FileOperation = "deleted"
)

// Event is the atomic unit of observable progress on a session bus.
//
// IDs are lexicographically sortable and strictly increasing within a
// session. ParentID links an event to its cause: a ToolResponse to its
// ToolRequest, an Answer to the Invite it resolves. Kind-specific fields
// are populated according to Kind and omitted otherwise.
type Event struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Message / Text
	Role        Role          `json:"role,omitempty"`
	SpeakerName string        `json:"speaker_name,omitempty"`
	Content     []ContentPart `json:"content,omitempty"`
	Text        string        `json:"text,omitempty"`

	// Answer / Invite / Choice
	Answer       string   `json:"answer,omitempty"`
	Invite       string   `json:"invite,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
	Options      []string `json:"options,omitempty"`

	// ToolRequest / ToolResponse
	ToolName string          `json:"tool_name,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Output   string          `json:"output,omitempty"`

	// Warn / Error
	Message string `json:"message,omitempty"`

	// ProjectSelected / ThreadSelected
	ProjectName string `json:"project_name,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	ThreadName  string `json:"thread_name,omitempty"`

	// File
	Filename  string        `json:"filename,omitempty"`
	Operation FileOperation `json:"operation,omitempty"`
	Size      int64         `json:"size,omitempty"`
}

// Role indicates the author type of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PlainText concatenates the text parts of the event content.
func (e *Event) PlainText() string {
	if e.Text != "" {
		return e.Text
	}
	return JoinText(e.Content)
}
