// Package thread implements the persistent, ordered conversation transcript:
// append rules, forking for delegation, merge-back, truncation and repair.
package thread

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/coday/pkg/models"
)

// MaxForkDepth bounds recursive delegation forks.
const MaxForkDepth = 5

var (
	// ErrPendingToolRequest rejects appends while a tool request awaits its
	// response. Only the matching tool response may be appended.
	ErrPendingToolRequest = errors.New("thread has a pending tool request")

	// ErrUnknownCallID rejects a tool response whose call ID matches no
	// pending tool request.
	ErrUnknownCallID = errors.New("tool response does not match a pending tool request")

	// ErrDuplicateCallID rejects a tool request reusing an existing call ID.
	ErrDuplicateCallID = errors.New("duplicate tool call id")

	// ErrForkDepthExceeded rejects forks beyond MaxForkDepth.
	ErrForkDepthExceeded = errors.New("fork depth exceeded")

	// ErrEntryNotFound reports an unknown entry ID.
	ErrEntryNotFound = errors.New("entry not found")
)

// Thread is the durable ordered log of one conversation plus its mutation
// API. All methods are safe for one writer and any number of readers.
type Thread struct {
	mu         sync.RWMutex
	id         string
	name       string
	createdAt  time.Time
	modifiedAt time.Time
	forkDepth  int
	forkedFrom string
	forAgent   string
	entries    []models.ThreadEntry
}

// New creates an empty thread with a fresh ID.
func New() *Thread {
	now := time.Now().UTC()
	return &Thread{
		id:         uuid.NewString(),
		createdAt:  now,
		modifiedAt: now,
	}
}

// Restore rebuilds a thread from persisted state. Entries are taken as-is;
// call Repair afterwards to resolve orphaned tool requests.
func Restore(id, name string, createdAt, modifiedAt time.Time, forkDepth int, entries []models.ThreadEntry) *Thread {
	if id == "" {
		id = uuid.NewString()
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if modifiedAt.IsZero() {
		modifiedAt = createdAt
	}
	return &Thread{
		id:         id,
		name:       name,
		createdAt:  createdAt,
		modifiedAt: modifiedAt,
		forkDepth:  forkDepth,
		entries:    append([]models.ThreadEntry(nil), entries...),
	}
}

// ID returns the thread ID.
func (t *Thread) ID() string {
	return t.id
}

// Name returns the thread name, empty until auto-naming runs.
func (t *Thread) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// SetName sets the thread name.
func (t *Thread) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
	t.modifiedAt = time.Now().UTC()
}

// CreatedAt returns the creation timestamp.
func (t *Thread) CreatedAt() time.Time {
	return t.createdAt
}

// ModifiedAt returns the last mutation timestamp.
func (t *Thread) ModifiedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modifiedAt
}

// ForkDepth returns how many fork levels separate this thread from its
// root conversation.
func (t *Thread) ForkDepth() int {
	return t.forkDepth
}

// ForkedFrom returns the parent thread ID for forked threads.
func (t *Thread) ForkedFrom() string {
	return t.forkedFrom
}

// Append adds an entry to the log. While a tool request is pending
// unmatched, only its tool response may be appended. Call IDs must be
// unique within the thread.
func (t *Thread) Append(entry models.ThreadEntry) (models.ThreadEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	pending := t.pendingCallIDsLocked()
	switch entry.Kind {
	case models.EntryToolResponse:
		if _, ok := pending[entry.CallID]; !ok {
			return models.ThreadEntry{}, fmt.Errorf("%w: %s", ErrUnknownCallID, entry.CallID)
		}
	case models.EntryToolRequest:
		if t.hasCallIDLocked(entry.CallID) {
			return models.ThreadEntry{}, fmt.Errorf("%w: %s", ErrDuplicateCallID, entry.CallID)
		}
	default:
		if len(pending) > 0 {
			return models.ThreadEntry{}, ErrPendingToolRequest
		}
	}

	t.entries = append(t.entries, entry)
	t.modifiedAt = time.Now().UTC()
	return entry, nil
}

// Entries returns a consistent snapshot of the full log.
func (t *Thread) Entries() []models.ThreadEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ThreadEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// EntriesSince returns a snapshot of entries strictly after the entry with
// the given ID. An empty ID returns everything.
func (t *Thread) EntriesSince(entryID string) []models.ThreadEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entryID == "" {
		out := make([]models.ThreadEntry, len(t.entries))
		copy(out, t.entries)
		return out
	}
	for i, e := range t.entries {
		if e.ID == entryID {
			out := make([]models.ThreadEntry, len(t.entries)-i-1)
			copy(out, t.entries[i+1:])
			return out
		}
	}
	return nil
}

// Len returns the number of entries.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Fork creates a child thread seeded with the parent's entry list. Tool
// requests still awaiting a response are not copied: a fork taken mid-run
// (delegation fires while the parent's own tool call is in flight) must
// start from a transcript the child can append to.
func (t *Thread) Fork(forAgent string) (*Thread, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.forkDepth >= MaxForkDepth {
		return nil, ErrForkDepthExceeded
	}
	now := time.Now().UTC()
	child := &Thread{
		id:         uuid.NewString(),
		createdAt:  now,
		modifiedAt: now,
		forkDepth:  t.forkDepth + 1,
		forkedFrom: t.id,
		forAgent:   forAgent,
	}
	pending := t.pendingCallIDsLocked()
	child.entries = make([]models.ThreadEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Kind == models.EntryToolRequest {
			if _, open := pending[e.CallID]; open {
				continue
			}
		}
		child.entries = append(child.entries, e)
	}
	return child, nil
}

// Merge appends a single summary agent message representing a delegated
// task's final result. Child entries are not inlined.
func (t *Thread) Merge(child *Thread, agentName, summary string) error {
	_, err := t.Append(models.ThreadEntry{
		Kind:      models.EntryAgent,
		AgentName: agentName,
		Content:   models.TextContent(summary),
	})
	return err
}

// DeleteFrom truncates the log to just before the entry with the given ID.
// Pending tool requests in the removed range are discarded with it.
func (t *Thread) DeleteFrom(entryID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.ID == entryID {
			t.entries = t.entries[:i]
			t.modifiedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
}

// FirstUserText returns the text of up to limit leading user messages,
// used to seed auto-naming.
func (t *Thread) FirstUserText(limit int) []string {
	if limit <= 0 {
		limit = 3
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for _, e := range t.entries {
		if e.Kind != models.EntryUser {
			continue
		}
		if text := strings.TrimSpace(e.PlainText()); text != "" {
			out = append(out, text)
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

// CountUserMessages returns the number of user entries.
func (t *Thread) CountUserMessages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.Kind == models.EntryUser {
			n++
		}
	}
	return n
}

// LastAgentName returns the name of the most recent agent to speak, or "".
func (t *Thread) LastAgentName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Kind == models.EntryAgent {
			return t.entries[i].AgentName
		}
	}
	return ""
}

// PendingToolRequests returns tool requests not yet matched by a response,
// in emission order.
func (t *Thread) PendingToolRequests() []models.ThreadEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pending := t.pendingCallIDsLocked()
	var out []models.ThreadEntry
	for _, e := range t.entries {
		if e.Kind == models.EntryToolRequest {
			if _, ok := pending[e.CallID]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// Repair injects a synthetic "cancelled" tool response for every orphaned
// tool request, returning the repaired call IDs. Used when reopening a
// thread that was serialized mid-run.
func (t *Thread) Repair() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.pendingCallIDsLocked()
	if len(pending) == 0 {
		return nil
	}
	var repaired []string
	for _, e := range t.entries {
		if e.Kind != models.EntryToolRequest {
			continue
		}
		if _, ok := pending[e.CallID]; !ok {
			continue
		}
		repaired = append(repaired, e.CallID)
	}
	now := time.Now().UTC()
	for _, callID := range repaired {
		t.entries = append(t.entries, models.ThreadEntry{
			ID:        uuid.NewString(),
			Kind:      models.EntryToolResponse,
			Timestamp: now,
			CallID:    callID,
			Output:    "cancelled",
			IsError:   true,
		})
	}
	if len(repaired) > 0 {
		t.modifiedAt = now
	}
	return repaired
}

func (t *Thread) pendingCallIDsLocked() map[string]struct{} {
	pending := make(map[string]struct{})
	for _, e := range t.entries {
		switch e.Kind {
		case models.EntryToolRequest:
			pending[e.CallID] = struct{}{}
		case models.EntryToolResponse:
			delete(pending, e.CallID)
		}
	}
	return pending
}

func (t *Thread) hasCallIDLocked(callID string) bool {
	for _, e := range t.entries {
		if e.Kind == models.EntryToolRequest && e.CallID == callID {
			return true
		}
	}
	return false
}
