// Package tools defines the tool abstraction exposed to models and the
// ToolSet that validates, executes, and coerces tool calls.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Definition describes a tool to the model and to the execution layer.
type Definition struct {
	// Name is the unique tool name within a ToolSet.
	Name string

	// Description tells the model when to call the tool.
	Description string

	// Integration groups tools for per-agent allow-listing, e.g. "files"
	// or "memory". Empty means always available.
	Integration string

	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage

	// ReadOnly marks tools with no side effects; a batch of exclusively
	// read-only calls may run in parallel.
	ReadOnly bool

	// Timeout overrides the set-wide default when positive.
	Timeout time.Duration
}

// Tool is a callable capability. Execute returns an arbitrary value that
// the ToolSet coerces to text for the model, or an error that travels back
// to the model as an error-flagged result.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Source yields a group of related tools, typically one integration.
// Sources that hold external resources (subprocesses, connections) also
// implement io.Closer and are shut down when the ToolSet is killed.
type Source interface {
	// Integration names the group, matched against agent allow-lists.
	Integration() string

	// Tools returns the source's tools. Called once at ToolSet build time.
	Tools(ctx context.Context) ([]Tool, error)
}

// Func adapts a function into a Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args json.RawMessage) (any, error)
}

// Definition implements Tool.
func (f *Func) Definition() Definition {
	return f.Def
}

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return f.Fn(ctx, args)
}
