package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/coday/internal/observability"
	"github.com/haasonsaas/coday/pkg/models"
)

// DefaultTimeout bounds a single tool execution unless the tool's
// definition overrides it.
const DefaultTimeout = 60 * time.Second

// voidResult is returned to the model when a tool completes without
// producing a value, so the transcript never carries an empty result.
func voidResult(name string) string {
	return fmt.Sprintf("Tool %s finished without error.", name)
}

// AllowFunc decides whether an agent may see a tool. Integration is the
// tool's group name; empty integrations are always allowed.
type AllowFunc func(integration, toolName string) bool

// AllowAll admits every tool.
func AllowAll(string, string) bool { return true }

// ToolSet is an agent's executable tool surface: the filtered union of its
// sources, with argument validation, timeouts, and panic containment.
type ToolSet struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	closers  []io.Closer
	killed   bool
	killCh   chan struct{}
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a ToolSet.
type Option func(*ToolSet)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ToolSet) {
		s.logger = logger
	}
}

// WithDefaultTimeout overrides the set-wide execution timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *ToolSet) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewToolSet builds a set from sources, admitting only tools the allow
// function accepts. A nil allow admits everything. Sources implementing
// io.Closer are closed on Kill.
func NewToolSet(ctx context.Context, sources []Source, allow AllowFunc, opts ...Option) (*ToolSet, error) {
	if allow == nil {
		allow = AllowAll
	}
	s := &ToolSet{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		killCh:  make(chan struct{}),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, src := range sources {
		integration := src.Integration()
		tools, err := src.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("load tools from %q: %w", integration, err)
		}
		if closer, ok := src.(io.Closer); ok {
			s.closers = append(s.closers, closer)
		}
		for _, t := range tools {
			def := t.Definition()
			if def.Integration == "" {
				def.Integration = integration
			}
			if def.Integration != "" && !allow(def.Integration, def.Name) {
				continue
			}
			if _, dup := s.tools[def.Name]; dup {
				return nil, fmt.Errorf("duplicate tool name %q", def.Name)
			}
			s.tools[def.Name] = t
			if len(def.Schema) > 0 {
				schema, err := compileSchema(def.Name, def.Schema)
				if err != nil {
					return nil, fmt.Errorf("schema for tool %q: %w", def.Name, err)
				}
				s.schemas[def.Name] = schema
			}
		}
	}
	return s, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Definitions returns the tool definitions in name order, the shape handed
// to model clients.
func (s *ToolSet) Definitions() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether the set contains a tool.
func (s *ToolSet) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// AllReadOnly reports whether every named tool exists and is read-only.
// Batches of exclusively read-only calls are safe to run in parallel.
func (s *ToolSet) AllReadOnly(names []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		t, ok := s.tools[name]
		if !ok || !t.Definition().ReadOnly {
			return false
		}
	}
	return len(names) > 0
}

// Execute runs one tool call. Failures never surface as Go errors to the
// caller: they are coerced into an error-flagged ToolResult so the model
// can see them and recover.
func (s *ToolSet) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	result := s.execute(ctx, call)
	status := "ok"
	if result.IsError {
		status = "error"
	}
	observability.ToolExecutions.WithLabelValues(call.Name, status).Inc()
	observability.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	return result
}

func (s *ToolSet) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	s.mu.RLock()
	if s.killed {
		s.mu.RUnlock()
		return errorResult(call.ID, ErrKilled.Error())
	}
	tool, ok := s.tools[call.Name]
	schema := s.schemas[call.Name]
	s.mu.RUnlock()

	if !ok {
		return errorResult(call.ID, fmt.Sprintf("tool not found: %s", call.Name))
	}
	def := tool.Definition()

	args := call.Input
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if schema != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return errorResult(call.ID, fmt.Sprintf("invalid JSON arguments for %s: %v", call.Name, err))
		}
		if err := schema.Validate(decoded); err != nil {
			return errorResult(call.ID, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
		}
	}

	timeout := s.timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", r,
					"stack", string(debug.Stack()))
				done <- outcome{err: NewError(call.Name, ErrorPanic, fmt.Errorf("%w: %v", ErrToolPanic, r))}
			}
		}()
		value, err := tool.Execute(execCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return errorResult(call.ID, out.err.Error())
		}
		return models.ToolResult{ToolCallID: call.ID, Content: coerce(call.Name, out.value)}
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return errorResult(call.ID, fmt.Sprintf("tool %s cancelled: %v", call.Name, ctx.Err()))
		}
		return errorResult(call.ID, fmt.Sprintf("tool %s timed out after %s", call.Name, timeout))
	case <-s.killCh:
		return errorResult(call.ID, ErrKilled.Error())
	}
}

// ExecuteAll runs a batch of calls, in parallel when every call targets a
// read-only tool and serially otherwise. Results keep the input order.
func (s *ToolSet) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	results := make([]models.ToolResult, len(calls))
	if len(calls) > 1 && s.AllReadOnly(names) {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(idx int, tc models.ToolCall) {
				defer wg.Done()
				results[idx] = s.Execute(ctx, tc)
			}(i, call)
		}
		wg.Wait()
		return results
	}
	for i, call := range calls {
		results[i] = s.Execute(ctx, call)
	}
	return results
}

// Kill terminates the set: running executions are abandoned with an
// error result and source resources (MCP subprocesses) are closed.
// Safe to call more than once.
func (s *ToolSet) Kill() {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	close(s.killCh)
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("closing tool source", "error", err)
		}
	}
}

// coerce turns a tool's return value into transcript text.
func coerce(toolName string, value any) string {
	switch v := value.(type) {
	case nil:
		return voidResult(toolName)
	case string:
		if v == "" {
			return voidResult(toolName)
		}
		return v
	case []byte:
		if len(v) == 0 {
			return voidResult(toolName)
		}
		return string(v)
	case error:
		return v.Error()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func errorResult(callID, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, Content: msg, IsError: true}
}
