package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/coday/internal/events"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

// scriptedClient replays canned chunk sequences, one per Complete call.
// The last script repeats once the list is exhausted.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  [][]*model.Chunk
	requests []*model.Request
	err      error
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (<-chan *model.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	idx := len(c.requests)
	c.requests = append(c.requests, req)
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	script := c.scripts[idx]

	ch := make(chan *model.Chunk, len(script)+1)
	for i, chunk := range script {
		// Tool call IDs must be unique per thread; re-key repeats.
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			tc.ID = fmt.Sprintf("%s-%d-%d", tc.ID, len(c.requests), i)
			chunk = &model.Chunk{ToolCall: &tc}
		}
		ch <- chunk
	}
	ch <- &model.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) Close() error { return nil }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type scriptedSource struct {
	tools []tools.Tool
}

func (s *scriptedSource) Integration() string { return "test" }

func (s *scriptedSource) Tools(ctx context.Context) ([]tools.Tool, error) {
	return s.tools, nil
}

func newLoopAgent(t *testing.T, client model.Client, toolFns ...tools.Tool) *Agent {
	t.Helper()
	ts, err := tools.NewToolSet(context.Background(),
		[]tools.Source{&scriptedSource{tools: toolFns}}, tools.AllowAll)
	if err != nil {
		t.Fatalf("NewToolSet: %v", err)
	}
	def := &models.AgentDefinition{Name: "tester"}
	return New(def, client, ts, PromptEnv{})
}

func echoTool() tools.Tool {
	return &tools.Func{
		Def: tools.Definition{
			Name:        "echo",
			Description: "Echoes its input.",
			Integration: "test",
			Schema:      json.RawMessage(`{"type":"object"}`),
			ReadOnly:    true,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "echoed", nil
		},
	}
}

func seedThread(t *testing.T, prompt string) *thread.Thread {
	t.Helper()
	th := thread.New()
	if _, err := th.Append(models.ThreadEntry{
		Kind:    models.EntryUser,
		Speaker: "dev",
		Content: models.TextContent(prompt),
	}); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	return th
}

func eventKinds(evs []*models.Event) []models.EventKind {
	kinds := make([]models.EventKind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestRunPlainAnswer(t *testing.T) {
	client := &scriptedClient{scripts: [][]*model.Chunk{{
		{Text: "Hello "},
		{Text: "there."},
	}}}
	ag := newLoopAgent(t, client)
	th := seedThread(t, "hi")
	bus := events.NewBus()

	text, err := NewLoop(bus).Run(context.Background(), ag, th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "Hello there." {
		t.Fatalf("text = %q", text)
	}

	entries := th.Entries()
	if len(entries) != 2 || entries[1].Kind != models.EntryAgent {
		t.Fatalf("entries = %+v", entries)
	}
	if got := entries[1].PlainText(); got != "Hello there." {
		t.Fatalf("agent entry = %q", got)
	}

	want := []models.EventKind{
		models.EventThinking, models.EventText, models.EventText, models.EventMessage,
	}
	got := eventKinds(bus.History())
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	client := &scriptedClient{scripts: [][]*model.Chunk{
		{{ToolCall: &models.ToolCall{ID: "call", Name: "echo", Input: json.RawMessage(`{}`)}}},
		{{Text: "Echo says: echoed"}},
	}}
	ag := newLoopAgent(t, client, echoTool())
	th := seedThread(t, "use the tool")
	bus := events.NewBus()

	text, err := NewLoop(bus).Run(context.Background(), ag, th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "Echo says: echoed" {
		t.Fatalf("text = %q", text)
	}
	if client.callCount() != 2 {
		t.Fatalf("model calls = %d, want 2", client.callCount())
	}

	entries := th.Entries()
	kinds := make([]models.EntryKind, len(entries))
	for i := range entries {
		kinds[i] = entries[i].Kind
	}
	want := []models.EntryKind{
		models.EntryUser, models.EntryToolRequest, models.EntryToolResponse, models.EntryAgent,
	}
	if len(kinds) != len(want) {
		t.Fatalf("entry kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("entry[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if entries[2].Output != "echoed" || entries[2].IsError {
		t.Fatalf("tool response = %+v", entries[2])
	}

	// The tool response event points back at its request event.
	var reqID string
	for _, ev := range bus.History() {
		switch ev.Kind {
		case models.EventToolRequest:
			reqID = ev.ID
		case models.EventToolResponse:
			if reqID == "" || ev.ParentID != reqID {
				t.Fatalf("tool response parent = %q, want %q", ev.ParentID, reqID)
			}
		}
	}
	if reqID == "" {
		t.Fatal("no tool request event published")
	}
}

func TestRunIterationBudget(t *testing.T) {
	client := &scriptedClient{scripts: [][]*model.Chunk{
		{{ToolCall: &models.ToolCall{ID: "again", Name: "echo", Input: json.RawMessage(`{}`)}}},
	}}
	ag := newLoopAgent(t, client, echoTool())
	th := seedThread(t, "loop forever")
	bus := events.NewBus()

	text, err := NewLoop(bus, WithMaxIterations(3)).Run(context.Background(), ag, th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != budgetExhaustedText {
		t.Fatalf("text = %q, want %q", text, budgetExhaustedText)
	}
	if client.callCount() != 3 {
		t.Fatalf("model calls = %d, want 3", client.callCount())
	}

	entries := th.Entries()
	last := entries[len(entries)-1]
	if last.Kind != models.EntryAgent || last.PlainText() != budgetExhaustedText {
		t.Fatalf("final entry = %+v", last)
	}
	if pending := th.PendingToolRequests(); len(pending) != 0 {
		t.Fatalf("pending requests after budget exit: %v", pending)
	}
}

func TestRunStoppedDuringTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopper := &tools.Func{
		Def: tools.Definition{
			Name:        "stopper",
			Description: "Cancels the run from inside.",
			Integration: "test",
			Schema:      json.RawMessage(`{"type":"object"}`),
		},
		Fn: func(c context.Context, args json.RawMessage) (any, error) {
			cancel()
			return "too late", nil
		},
	}
	client := &scriptedClient{scripts: [][]*model.Chunk{
		{{ToolCall: &models.ToolCall{ID: "call", Name: "stopper", Input: json.RawMessage(`{}`)}}},
	}}
	ag := newLoopAgent(t, client, stopper)
	th := seedThread(t, "stop me")
	bus := events.NewBus()

	_, err := NewLoop(bus).Run(ctx, ag, th)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}

	// The dangling request got a synthetic cancelled response.
	entries := th.Entries()
	last := entries[len(entries)-1]
	if last.Kind != models.EntryToolResponse || last.Output != "cancelled" || !last.IsError {
		t.Fatalf("repaired entry = %+v", last)
	}
	if pending := th.PendingToolRequests(); len(pending) != 0 {
		t.Fatalf("pending requests after stop: %v", pending)
	}

	var sawCancelled, sawWarn bool
	var reqID string
	for _, ev := range bus.History() {
		switch ev.Kind {
		case models.EventToolRequest:
			reqID = ev.ID
		case models.EventToolResponse:
			if ev.Output == "cancelled" {
				sawCancelled = true
				if ev.ParentID != reqID {
					t.Fatalf("cancelled response parent = %q, want %q", ev.ParentID, reqID)
				}
			}
		case models.EventWarn:
			if ev.Message == interruptedText {
				sawWarn = true
			}
		}
	}
	if !sawCancelled || !sawWarn {
		t.Fatalf("cancelled=%v warn=%v, want both", sawCancelled, sawWarn)
	}
}

func TestRunCompleteError(t *testing.T) {
	client := &scriptedClient{err: errors.New("provider down")}
	ag := newLoopAgent(t, client)
	th := seedThread(t, "hi")
	bus := events.NewBus()

	_, err := NewLoop(bus).Run(context.Background(), ag, th)
	if err == nil || err.Error() != "provider down" {
		t.Fatalf("err = %v", err)
	}

	var sawError bool
	for _, ev := range bus.History() {
		if ev.Kind == models.EventError && ev.Message == "provider down" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no error event published")
	}
}

func TestRunAppendFailurePublishesError(t *testing.T) {
	client := &scriptedClient{scripts: [][]*model.Chunk{{{Text: "answer"}}}}
	ag := newLoopAgent(t, client)
	th := seedThread(t, "hi")
	// A dangling tool request blocks the agent message append.
	if _, err := th.Append(models.ThreadEntry{
		Kind: models.EntryToolRequest, ToolName: "echo", CallID: "c1",
		Args: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	bus := events.NewBus()

	_, err := NewLoop(bus).Run(context.Background(), ag, th)
	if !errors.Is(err, thread.ErrPendingToolRequest) {
		t.Fatalf("err = %v, want pending tool request", err)
	}

	var sawError bool
	for _, ev := range bus.History() {
		if ev.Kind == models.EventError && strings.Contains(ev.Message, "append agent message") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("append failure must surface as an error event")
	}
}

func TestRunParallelToolCalls(t *testing.T) {
	client := &scriptedClient{scripts: [][]*model.Chunk{
		{
			{ToolCall: &models.ToolCall{ID: "a", Name: "echo", Input: json.RawMessage(`{}`)}},
			{ToolCall: &models.ToolCall{ID: "b", Name: "echo", Input: json.RawMessage(`{}`)}},
		},
		{{Text: "both done"}},
	}}
	ag := newLoopAgent(t, client, echoTool())
	th := seedThread(t, "fan out")
	bus := events.NewBus()

	text, err := NewLoop(bus).Run(context.Background(), ag, th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "both done" {
		t.Fatalf("text = %q", text)
	}

	// Both requests precede both responses, and responses keep call order.
	var kinds []models.EntryKind
	for _, e := range th.Entries() {
		kinds = append(kinds, e.Kind)
	}
	want := []models.EntryKind{
		models.EntryUser,
		models.EntryToolRequest, models.EntryToolRequest,
		models.EntryToolResponse, models.EntryToolResponse,
		models.EntryAgent,
	}
	if len(kinds) != len(want) {
		t.Fatalf("entry kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("entry[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}
