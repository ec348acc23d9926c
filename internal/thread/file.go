package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/coday/pkg/models"
)

// fileRecord is the on-disk YAML shape of a thread.
type fileRecord struct {
	ID         string               `yaml:"id"`
	Name       string               `yaml:"name,omitempty"`
	CreatedAt  time.Time            `yaml:"createdAt"`
	ModifiedAt time.Time            `yaml:"modifiedAt"`
	ForkDepth  int                  `yaml:"forkDepth,omitempty"`
	Entries    []models.ThreadEntry `yaml:"entries"`
}

// FileStore persists each thread as threads/<id>.yaml under a root
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written thread behind.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the logger.
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread dir: %w", err)
	}
	return s, nil
}

// Save writes the thread to <dir>/<id>.yaml atomically.
func (s *FileStore) Save(ctx context.Context, t *Thread) error {
	rec := fileRecord{
		ID:         t.ID(),
		Name:       t.Name(),
		CreatedAt:  t.CreatedAt(),
		ModifiedAt: t.ModifiedAt(),
		ForkDepth:  t.ForkDepth(),
		Entries:    t.Entries(),
	}
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", t.ID(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.path(t.ID())
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread %s: %w", t.ID(), err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit thread %s: %w", t.ID(), err)
	}
	s.logger.Debug("thread saved", "thread_id", t.ID(), "entries", len(rec.Entries))
	return nil
}

// Load reads and repairs a thread from disk.
func (s *FileStore) Load(ctx context.Context, id string) (*Thread, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path(id))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read thread %s: %w", id, err)
	}

	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	t := Restore(rec.ID, rec.Name, rec.CreatedAt, rec.ModifiedAt, rec.ForkDepth, rec.Entries)
	if repaired := t.Repair(); len(repaired) > 0 {
		s.logger.Warn("repaired orphaned tool requests",
			"thread_id", id,
			"call_ids", repaired)
	}
	return t, nil
}

// List scans the directory and returns summaries, most recently modified
// first. Unreadable files are skipped with a warning.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	var out []Summary
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable thread file", "file", de.Name(), "error", err)
			continue
		}
		var rec fileRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping malformed thread file", "file", de.Name(), "error", err)
			continue
		}
		out = append(out, Summary{
			ID:         rec.ID,
			Name:       rec.Name,
			CreatedAt:  rec.CreatedAt,
			ModifiedAt: rec.ModifiedAt,
			EntryCount: len(rec.Entries),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Delete removes the thread file.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}
