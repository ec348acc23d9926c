// Package files exposes project-jailed file tools: reads, writes, and
// directory listings rooted at the project directory.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

// Integration is the allow-list group name for file tools.
const Integration = "files"

// maxReadSize caps read_file output so a stray binary cannot flood the
// model context.
const maxReadSize = 512 << 10

// Notifier receives a notification after each successful mutation, so the
// frontend can surface file activity as it happens.
type Notifier func(op models.FileOperation, relPath string, size int64)

// Source builds the file tool group rooted at a project directory.
type Source struct {
	root   string
	notify Notifier
}

// NewSource creates a file tool source jailed to root. notify may be nil.
func NewSource(root string, notify Notifier) *Source {
	if notify == nil {
		notify = func(models.FileOperation, string, int64) {}
	}
	return &Source{root: root, notify: notify}
}

// Integration implements tools.Source.
func (s *Source) Integration() string { return Integration }

// Tools implements tools.Source.
func (s *Source) Tools(ctx context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		&tools.Func{
			Def: tools.Definition{
				Name:        "read_file",
				Description: "Read a text file from the project. Returns the file content.",
				ReadOnly:    true,
				Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the project root."}},"required":["path"]}`),
			},
			Fn: s.readFile,
		},
		&tools.Func{
			Def: tools.Definition{
				Name:        "write_file",
				Description: "Create or overwrite a text file in the project with the given content.",
				Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
			},
			Fn: s.writeFile,
		},
		&tools.Func{
			Def: tools.Definition{
				Name:        "delete_file",
				Description: "Delete a file from the project.",
				Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
			},
			Fn: s.deleteFile,
		},
		&tools.Func{
			Def: tools.Definition{
				Name:        "list_files",
				Description: "List files under a project directory, one relative path per line.",
				ReadOnly:    true,
				Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory relative to the project root. Defaults to the root."}}}`),
			},
			Fn: s.listFiles,
		},
	}, nil
}

// resolve jails a relative path under the source root.
func (s *Source) resolve(rel string) (abs, cleaned string, err error) {
	cleaned = filepath.Clean(strings.TrimSpace(rel))
	if cleaned == "." {
		cleaned = ""
	}
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path escapes the project root: %s", rel)
	}
	return filepath.Join(s.root, cleaned), cleaned, nil
}

func (s *Source) readFile(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	abs, _, err := s.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.Path, err)
	}
	if info.Size() > maxReadSize {
		return nil, fmt.Errorf("%s is too large to read (%d bytes)", in.Path, info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.Path, err)
	}
	return string(data), nil
}

func (s *Source) writeFile(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	abs, rel, err := s.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	op := models.FileCreated
	if _, statErr := os.Stat(abs); statErr == nil {
		op = models.FileUpdated
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("write %s: %w", in.Path, err)
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", in.Path, err)
	}
	s.notify(op, rel, int64(len(in.Content)))
	return fmt.Sprintf("Wrote %d bytes to %s.", len(in.Content), rel), nil
}

func (s *Source) deleteFile(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	abs, rel, err := s.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("delete %s: %w", in.Path, err)
	}
	s.notify(models.FileDeleted, rel, 0)
	return fmt.Sprintf("Deleted %s.", rel), nil
}

func (s *Source) listFiles(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
	}
	abs, rel, err := s.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			// Hidden directories stay out of listings.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		relPath, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", orDot(rel), err)
	}
	if len(out) == 0 {
		return "No files found.", nil
	}
	sort.Strings(out)
	return strings.Join(out, "\n"), nil
}

func orDot(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}
