package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/coday/pkg/models"
)

// staticSource serves a fixed tool list under one integration name.
type staticSource struct {
	integration string
	tools       []Tool
	closed      atomic.Bool
}

func (s *staticSource) Integration() string { return s.integration }

func (s *staticSource) Tools(ctx context.Context) ([]Tool, error) {
	return s.tools, nil
}

func (s *staticSource) Close() error {
	s.closed.Store(true)
	return nil
}

func echoTool(name string, readOnly bool) Tool {
	return &Func{
		Def: Definition{
			Name:        name,
			Description: "echoes its input",
			ReadOnly:    readOnly,
			Schema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in.Text, nil
		},
	}
}

func newSet(t *testing.T, src Source, allow AllowFunc, opts ...Option) *ToolSet {
	t.Helper()
	set, err := NewToolSet(context.Background(), []Source{src}, allow, opts...)
	if err != nil {
		t.Fatalf("new toolset: %v", err)
	}
	return set
}

func TestExecute_CoercesResults(t *testing.T) {
	src := &staticSource{integration: "test", tools: []Tool{
		echoTool("echo", true),
		&Func{
			Def: Definition{Name: "void"},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				return nil, nil
			},
		},
		&Func{
			Def: Definition{Name: "structured"},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				return map[string]int{"count": 3}, nil
			},
		},
	}}
	set := newSet(t, src, nil)

	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)})
	if res.IsError || res.Content != "hi" {
		t.Errorf("echo = %+v", res)
	}

	res = set.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "void"})
	if res.IsError || res.Content != "Tool void finished without error." {
		t.Errorf("void = %+v", res)
	}

	res = set.Execute(context.Background(), models.ToolCall{ID: "c3", Name: "structured"})
	if res.IsError || res.Content != `{"count":3}` {
		t.Errorf("structured = %+v", res)
	}
}

func TestExecute_ValidatesArguments(t *testing.T) {
	set := newSet(t, &staticSource{integration: "test", tools: []Tool{echoTool("echo", true)}}, nil)

	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"wrong":1}`)})
	if !res.IsError || !strings.Contains(res.Content, "invalid arguments") {
		t.Errorf("expected validation failure, got %+v", res)
	}

	res = set.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "echo", Input: json.RawMessage(`not json`)})
	if !res.IsError {
		t.Errorf("expected JSON parse failure, got %+v", res)
	}
}

func TestExecute_UnknownToolIsErrorResult(t *testing.T) {
	set := newSet(t, &staticSource{integration: "test"}, nil)
	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "nope"})
	if !res.IsError || !strings.Contains(res.Content, "tool not found") {
		t.Errorf("got %+v", res)
	}
}

func TestExecute_ErrorBecomesErrorResult(t *testing.T) {
	src := &staticSource{integration: "test", tools: []Tool{
		&Func{
			Def: Definition{Name: "fails"},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				return nil, errors.New("disk on fire")
			},
		},
	}}
	set := newSet(t, src, nil)
	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "fails"})
	if !res.IsError || !strings.Contains(res.Content, "disk on fire") {
		t.Errorf("got %+v", res)
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	src := &staticSource{integration: "test", tools: []Tool{
		&Func{
			Def: Definition{Name: "boom"},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				panic("kaboom")
			},
		},
	}}
	set := newSet(t, src, nil)
	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "boom"})
	if !res.IsError || !strings.Contains(res.Content, "kaboom") {
		t.Errorf("got %+v", res)
	}
}

func TestExecute_Timeout(t *testing.T) {
	src := &staticSource{integration: "test", tools: []Tool{
		&Func{
			Def: Definition{Name: "slow", Timeout: 20 * time.Millisecond},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				select {
				case <-time.After(5 * time.Second):
					return "done", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}}
	set := newSet(t, src, nil)
	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "slow"})
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("got %+v", res)
	}
}

func TestAllowFunc_FiltersTools(t *testing.T) {
	src := &staticSource{integration: "files", tools: []Tool{
		echoTool("read_file", true),
		echoTool("write_file", false),
	}}
	allow := func(integration, toolName string) bool {
		return integration == "files" && toolName == "read_file"
	}
	set := newSet(t, src, allow)

	defs := set.Definitions()
	if len(defs) != 1 || defs[0].Name != "read_file" {
		t.Errorf("definitions = %+v", defs)
	}
	if set.Has("write_file") {
		t.Error("write_file should be filtered out")
	}
}

func TestExecuteAll_ParallelForReadOnlyBatch(t *testing.T) {
	var concurrent, peak int32
	probe := func(name string, readOnly bool) Tool {
		return &Func{
			Def: Definition{Name: name, ReadOnly: readOnly},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return name, nil
			},
		}
	}
	src := &staticSource{integration: "test", tools: []Tool{probe("a", true), probe("b", true)}}
	set := newSet(t, src, nil)

	results := set.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "a"},
		{ID: "c2", Name: "b"},
	})
	if len(results) != 2 || results[0].Content != "a" || results[1].Content != "b" {
		t.Fatalf("results = %+v", results)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("read-only batch should overlap, peak = %d", peak)
	}
}

func TestExecuteAll_SerialWhenAnyWrites(t *testing.T) {
	var concurrent, peak int32
	probe := func(name string, readOnly bool) Tool {
		return &Func{
			Def: Definition{Name: name, ReadOnly: readOnly},
			Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return name, nil
			},
		}
	}
	src := &staticSource{integration: "test", tools: []Tool{probe("reader", true), probe("writer", false)}}
	set := newSet(t, src, nil)

	set.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "reader"},
		{ID: "c2", Name: "writer"},
	})
	if atomic.LoadInt32(&peak) != 1 {
		t.Errorf("mixed batch must run serially, peak = %d", peak)
	}
}

func TestKill_ClosesSourcesAndRejectsCalls(t *testing.T) {
	src := &staticSource{integration: "test", tools: []Tool{echoTool("echo", true)}}
	set := newSet(t, src, nil)

	set.Kill()
	set.Kill() // idempotent

	if !src.closed.Load() {
		t.Error("source should be closed on kill")
	}
	res := set.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text":"x"}`)})
	if !res.IsError {
		t.Errorf("execute after kill should fail, got %+v", res)
	}
}
