package main

import (
	"strings"
	"testing"

	"github.com/haasonsaas/coday/pkg/models"
)

func TestRenderEvents(t *testing.T) {
	ch := make(chan *models.Event, 16)
	ch <- &models.Event{Kind: models.EventAnswer, Answer: "hi"}
	ch <- &models.Event{Kind: models.EventThinking}
	ch <- &models.Event{Kind: models.EventText, SpeakerName: "coday", Text: "Hello "}
	ch <- &models.Event{Kind: models.EventText, SpeakerName: "coday", Text: "there."}
	ch <- &models.Event{
		Kind: models.EventMessage, Role: models.RoleAssistant,
		SpeakerName: "coday", Content: models.TextContent("Hello there."),
	}
	ch <- &models.Event{Kind: models.EventToolRequest, ToolName: "read_file", Args: []byte(`{"path":"README.md"}`)}
	ch <- &models.Event{Kind: models.EventWarn, Message: "slow down"}
	ch <- &models.Event{Kind: models.EventFile, Operation: models.FileCreated, Filename: "notes.md"}
	close(ch)

	var b strings.Builder
	renderEvents(&b, ch, nil)
	out := b.String()

	if !strings.Contains(out, "coday> Hello there.\n") {
		t.Errorf("missing streamed line:\n%s", out)
	}
	if strings.Count(out, "Hello there.") != 1 {
		t.Errorf("final message must not duplicate streamed text:\n%s", out)
	}
	if !strings.Contains(out, `[read_file {"path":"README.md"}]`) {
		t.Errorf("missing tool line:\n%s", out)
	}
	if !strings.Contains(out, "warn: slow down") {
		t.Errorf("missing warn:\n%s", out)
	}
	if !strings.Contains(out, "[file created notes.md]") {
		t.Errorf("missing file line:\n%s", out)
	}
	if strings.Contains(out, "thinking") {
		t.Errorf("thinking must be silent:\n%s", out)
	}
}

func TestRenderNonStreamedMessage(t *testing.T) {
	ch := make(chan *models.Event, 2)
	ch <- &models.Event{
		Kind: models.EventMessage, Role: models.RoleSystem,
		SpeakerName: "coday", Content: models.TextContent(`Thread auto-renamed to "Greeting"`),
	}
	close(ch)

	var b strings.Builder
	renderEvents(&b, ch, nil)
	if !strings.Contains(b.String(), `coday> Thread auto-renamed to "Greeting"`) {
		t.Errorf("missing system message:\n%s", b.String())
	}
}
