// Package memory persists titled notes that agents record and recall
// across threads, at user or project scope.
package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Level scopes a memory.
type Level string

const (
	// LevelUser memories follow the user across projects.
	LevelUser Level = "USER"

	// LevelProject memories are visible only within one project.
	LevelProject Level = "PROJECT"
)

// ErrNotFound reports an unknown memory title.
var ErrNotFound = errors.New("memory not found")

// Memory is one titled note.
type Memory struct {
	Title     string    `yaml:"title"`
	Content   string    `yaml:"content"`
	Level     Level     `yaml:"level"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

type memoryFile struct {
	Memories []Memory `yaml:"memories"`
}

// Store keeps user-level and project-level memories in two YAML files.
// Titles are unique per level; writing an existing title replaces it.
type Store struct {
	mu          sync.Mutex
	userPath    string
	projectPath string
}

// NewStore creates a store. userPath holds USER memories, projectPath
// PROJECT memories; either may be empty to disable that level.
func NewStore(userPath, projectPath string) *Store {
	return &Store{userPath: userPath, projectPath: projectPath}
}

// Upsert writes a memory, replacing any same-titled memory at the same
// level. Last writer wins.
func (s *Store) Upsert(m Memory) error {
	if strings.TrimSpace(m.Title) == "" {
		return errors.New("memory title is required")
	}
	if m.Level != LevelUser && m.Level != LevelProject {
		return fmt.Errorf("invalid memory level %q", m.Level)
	}
	m.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(m.Level)
	if path == "" {
		return fmt.Errorf("no store configured for level %s", m.Level)
	}
	mems, err := readFile(path)
	if err != nil {
		return err
	}
	replaced := false
	for i := range mems {
		if mems[i].Title == m.Title {
			mems[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		mems = append(mems, m)
	}
	return writeFile(path, mems)
}

// Delete removes a memory by title at the given level.
func (s *Store) Delete(level Level, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(level)
	if path == "" {
		return fmt.Errorf("no store configured for level %s", level)
	}
	mems, err := readFile(path)
	if err != nil {
		return err
	}
	for i := range mems {
		if mems[i].Title == title {
			mems = append(mems[:i], mems[i+1:]...)
			return writeFile(path, mems)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, title)
}

// List returns all memories at both levels, titles sorted, USER first.
func (s *Store) List() ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Memory
	for _, level := range []Level{LevelUser, LevelProject} {
		path := s.pathFor(level)
		if path == "" {
			continue
		}
		mems, err := readFile(path)
		if err != nil {
			return nil, err
		}
		sort.Slice(mems, func(i, j int) bool { return mems[i].Title < mems[j].Title })
		out = append(out, mems...)
	}
	return out, nil
}

// Get retrieves one memory by title, searching PROJECT before USER so
// project-specific notes shadow general ones.
func (s *Store) Get(title string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, level := range []Level{LevelProject, LevelUser} {
		path := s.pathFor(level)
		if path == "" {
			continue
		}
		mems, err := readFile(path)
		if err != nil {
			return Memory{}, err
		}
		for _, m := range mems {
			if m.Title == title {
				return m, nil
			}
		}
	}
	return Memory{}, fmt.Errorf("%w: %s", ErrNotFound, title)
}

func (s *Store) pathFor(level Level) string {
	if level == LevelUser {
		return s.userPath
	}
	return s.projectPath
}

func readFile(path string) ([]Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memories: %w", err)
	}
	var f memoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}
	return f.Memories, nil
}

func writeFile(path string, mems []Memory) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := yaml.Marshal(&memoryFile{Memories: mems})
	if err != nil {
		return fmt.Errorf("encode memories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write memories: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit memories: %w", err)
	}
	return nil
}
