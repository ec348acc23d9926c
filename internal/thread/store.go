package thread

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports an unknown thread ID.
var ErrNotFound = errors.New("thread not found")

// Summary is a lightweight listing of a stored thread.
type Summary struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	CreatedAt  time.Time `json:"created_at" yaml:"createdAt"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modifiedAt"`
	EntryCount int       `json:"entry_count" yaml:"entryCount"`
}

// Store persists threads across process restarts.
type Store interface {
	// Save writes the thread's current state.
	Save(ctx context.Context, t *Thread) error

	// Load retrieves a thread by ID, returning ErrNotFound if absent.
	// Loaded threads are repaired: orphaned tool requests get synthetic
	// cancelled responses.
	Load(ctx context.Context, id string) (*Thread, error)

	// List returns summaries of all stored threads, most recently
	// modified first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a thread, returning ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
}
