// Package memory exposes the memorize/recall tool group backed by the
// persistent memory store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	memstore "github.com/haasonsaas/coday/internal/memory"
	"github.com/haasonsaas/coday/internal/tools"
)

// Integration is the allow-list group name for memory tools.
const Integration = "memory"

// Source builds the memory tool group.
type Source struct {
	store *memstore.Store
}

// NewSource creates a memory tool source over the given store.
func NewSource(store *memstore.Store) *Source {
	return &Source{store: store}
}

// Integration implements tools.Source.
func (s *Source) Integration() string { return Integration }

// Tools implements tools.Source.
func (s *Source) Tools(ctx context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		&tools.Func{
			Def: tools.Definition{
				Name:        "memorize",
				Description: "Store a titled memory for future conversations. Writing an existing title replaces its content. Use level USER for facts about the user, PROJECT for facts about this project.",
				Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"},"level":{"type":"string","enum":["USER","PROJECT"]}},"required":["title","content","level"]}`),
			},
			Fn: s.memorize,
		},
		&tools.Func{
			Def: tools.Definition{
				Name:        "recall_memories",
				Description: "List all stored memory titles, or retrieve one memory's full content by title.",
				ReadOnly:    true,
				Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string","description":"Omit to list all titles."}}}`),
			},
			Fn: s.recall,
		},
		&tools.Func{
			Def: tools.Definition{
				Name:        "forget_memory",
				Description: "Delete a stored memory by title and level.",
				Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"level":{"type":"string","enum":["USER","PROJECT"]}},"required":["title","level"]}`),
			},
			Fn: s.forget,
		},
	}, nil
}

func (s *Source) memorize(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Level   string `json:"level"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	err := s.store.Upsert(memstore.Memory{
		Title:   in.Title,
		Content: in.Content,
		Level:   memstore.Level(in.Level),
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Memorized %q at %s level.", in.Title, in.Level), nil
}

func (s *Source) recall(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Title string `json:"title"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
	}
	if in.Title != "" {
		m, err := s.store.Get(in.Title)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("[%s] %s\n%s", m.Level, m.Title, m.Content), nil
	}

	mems, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return "No memories stored.", nil
	}
	var b strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&b, "[%s] %s\n", m.Level, m.Title)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Source) forget(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Title string `json:"title"`
		Level string `json:"level"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if err := s.store.Delete(memstore.Level(in.Level), in.Title); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Forgot %q.", in.Title), nil
}
