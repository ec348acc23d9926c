// Package session pins user-visible state to one client: the selected
// project and thread, the FIFO turn queue, pending invites, and the stop
// signal. One run loop per session advances at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/coday/internal/agent"
	"github.com/haasonsaas/coday/internal/events"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/pkg/models"
)

// ErrNoProject is returned by operations that need a selected project.
var ErrNoProject = errors.New("no project selected")

// ErrRunActive rejects operations that cannot overlap a running turn.
var ErrRunActive = errors.New("a run is active; stop it first")

// ErrClosed is returned by submissions to a closed session.
var ErrClosed = errors.New("session closed")

// Session serialises one client's turns. Submissions queue FIFO; invite
// and choice answers bypass the queue and resolve the waiting tool
// directly. A stop request cancels the active run's context.
type Session struct {
	id        string
	bus       *events.Bus
	logger    *slog.Logger
	configDir string
	creds     map[string]model.Credentials
	clientFor func(def *models.AgentDefinition) (model.Client, error)

	mu         sync.Mutex
	env        *environment
	th         *thread.Thread
	stackDepth int
	runCancel  context.CancelFunc
	queue      []string
	pending    map[string]chan string
	closed     bool

	wake chan struct{}
	done chan struct{}
	idle sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStackDepth overrides the initial delegation budget.
func WithStackDepth(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.stackDepth = n
		}
	}
}

// WithClientFactory overrides how model clients are obtained, bypassing
// the per-provider connection pool. Tests use it to script completions.
func WithClientFactory(fn func(def *models.AgentDefinition) (model.Client, error)) Option {
	return func(s *Session) {
		s.clientFor = fn
	}
}

// DefaultStackDepth is the initial delegation budget per session.
const DefaultStackDepth = 3

// New creates a session publishing on bus. configDir is the per-user
// coday directory holding user.yml, memories and per-project state.
func New(bus *events.Bus, configDir string, creds map[string]model.Credentials, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		bus:        bus,
		logger:     slog.Default(),
		configDir:  configDir,
		creds:      creds,
		stackDepth: DefaultStackDepth,
		pending:    make(map[string]chan string),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.idle.Add(1)
	go s.worker()
	return s
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *events.Bus { return s.bus }

// Thread returns the current thread.
func (s *Session) Thread() *thread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.th
}

// Submit queues a user message as the next turn. It is echoed on the bus
// immediately, even when a turn is already running.
func (s *Session) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty submission")
	}
	// Echo before enqueueing so the Answer precedes the turn's events.
	s.bus.Publish(&models.Event{
		Kind:   models.EventAnswer,
		Role:   models.RoleUser,
		Answer: text,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, text)
	s.mu.Unlock()
	s.kick()
	return nil
}

// Answer routes a client answer. With a parentID matching a pending
// invite or choice it resolves that prompt, bypassing the turn queue;
// otherwise it is an ordinary submission.
func (s *Session) Answer(parentID, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if ch, ok := s.pending[parentID]; parentID != "" && ok {
		delete(s.pending, parentID)
		s.mu.Unlock()
		s.bus.Publish(&models.Event{
			Kind:     models.EventAnswer,
			ParentID: parentID,
			Role:     models.RoleUser,
			Answer:   text,
		})
		ch <- text
		return nil
	}
	s.mu.Unlock()
	return s.Submit(text)
}

// Stop cancels the active run, if any. The loop repairs dangling tool
// requests and completes without an Error event.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AskUser publishes an Invite and blocks until the matching Answer
// arrives or ctx is cancelled. Tools use it to query the user mid-run.
func (s *Session) AskUser(ctx context.Context, invite, defaultValue string) (string, error) {
	ev := &models.Event{
		Kind:         models.EventInvite,
		Invite:       invite,
		DefaultValue: defaultValue,
	}
	return s.await(ctx, ev)
}

// AskChoice publishes a Choice and blocks until the user picks.
func (s *Session) AskChoice(ctx context.Context, invite string, options []string) (string, error) {
	ev := &models.Event{
		Kind:    models.EventChoice,
		Invite:  invite,
		Options: options,
	}
	return s.await(ctx, ev)
}

func (s *Session) await(ctx context.Context, ev *models.Event) (string, error) {
	ch := make(chan string, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	ev.ID = s.bus.NextID()
	s.pending[ev.ID] = ch
	s.mu.Unlock()

	s.bus.Publish(ev)

	select {
	case answer, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return answer, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, ev.ID)
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

// DeleteFrom truncates the current thread at the given entry and saves.
// Rejected while a run is active.
func (s *Session) DeleteFrom(ctx context.Context, entryID string) error {
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		return ErrRunActive
	}
	env, th := s.env, s.th
	s.mu.Unlock()
	if env == nil {
		return ErrNoProject
	}
	if err := th.DeleteFrom(entryID); err != nil {
		return err
	}
	s.saveThread(ctx, env, th)
	return nil
}

// Close shuts the session down: cancels the active run, drains the
// worker, and releases project resources.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.runCancel
	env := s.env
	s.env = nil
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(s.done)
	s.idle.Wait()
	if env != nil {
		env.close()
	}
}

func (s *Session) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) worker() {
	defer s.idle.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			text := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.runTurn(text)
		}
	}
}

// runTurn executes one queued submission to completion.
func (s *Session) runTurn(text string) {
	s.mu.Lock()
	env, th := s.env, s.th
	s.mu.Unlock()
	if env == nil || th == nil {
		s.publishError(ErrNoProject)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.runCancel = nil
		s.mu.Unlock()
	}()

	ag, message, err := s.resolveAgent(ctx, env, th, text)
	if err != nil {
		s.publishError(err)
		return
	}

	if _, err := th.Append(models.ThreadEntry{
		Kind:    models.EntryUser,
		Speaker: "user",
		Content: models.TextContent(message),
	}); err != nil {
		s.publishError(fmt.Errorf("record user message: %w", err))
		return
	}

	wasUnnamed := th.Name() == ""

	loop := agent.NewLoop(s.bus, agent.WithLogger(s.logger))
	if _, err := loop.Run(ctx, ag, th); err != nil {
		if errors.Is(err, agent.ErrStopped) {
			s.logger.Debug("turn stopped", "session", s.id, "thread_id", th.ID())
		}
		// The loop already published the failure; the turn just ends.
		s.saveThread(context.Background(), env, th)
		return
	}

	if wasUnnamed && th.CountUserMessages() >= 1 {
		s.autoName(ctx, ag, th)
	}
	s.saveThread(context.Background(), env, th)
}

// resolveAgent routes a submission. A leading word ending in "," or ":"
// addresses an agent by name or unique prefix; anything else goes to the
// thread's last agent, falling back to the project default.
func (s *Session) resolveAgent(ctx context.Context, env *environment, th *thread.Thread, text string) (*agent.Agent, string, error) {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		first := fields[0]
		if addressed := strings.TrimRight(first, ",:"); addressed != first && addressed != "" {
			ag, err := env.registry.FindByPrefix(ctx, addressed)
			var ambiguous *agent.AmbiguousPrefixError
			if errors.As(err, &ambiguous) {
				ag, err = s.chooseAgent(ctx, env, ambiguous)
			}
			if err != nil {
				return nil, "", err
			}
			rest := strings.TrimSpace(strings.TrimPrefix(text, first))
			if rest == "" {
				rest = text
			}
			return ag, rest, nil
		}
	}
	ag, err := env.registry.PreferredFor(ctx, th)
	if err != nil {
		return nil, "", err
	}
	return ag, text, nil
}

// chooseAgent asks the user to disambiguate a prefix that matched several
// agents, then resolves the pick.
func (s *Session) chooseAgent(ctx context.Context, env *environment, ambiguous *agent.AmbiguousPrefixError) (*agent.Agent, error) {
	invite := fmt.Sprintf("Several agents match %q. Which one?", ambiguous.Prefix)
	picked, err := s.AskChoice(ctx, invite, ambiguous.Candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %q: %w", ambiguous.Prefix, err)
	}
	return env.registry.Get(ctx, picked)
}

func (s *Session) autoName(ctx context.Context, ag *agent.Agent, th *thread.Thread) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	nameCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	name, generated := agent.GenerateThreadName(nameCtx, ag, th, time.Now())
	th.SetName(name)
	s.bus.Publish(&models.Event{
		Kind:       models.EventThreadSelected,
		ThreadID:   th.ID(),
		ThreadName: name,
	})
	if generated {
		s.bus.Publish(&models.Event{
			Kind:        models.EventMessage,
			Role:        models.RoleSystem,
			SpeakerName: "coday",
			Content:     models.TextContent(fmt.Sprintf("Thread auto-renamed to %q", name)),
		})
	}
}

// saveThread persists the thread, retrying once. A second failure is a
// Warn: the in-memory thread stays authoritative and the next save
// reconciles.
func (s *Session) saveThread(ctx context.Context, env *environment, th *thread.Thread) {
	err := env.threads.Save(ctx, th)
	if err != nil {
		err = env.threads.Save(ctx, th)
	}
	if err != nil {
		s.logger.Warn("thread save failed", "thread_id", th.ID(), "error", err)
		s.bus.Publish(&models.Event{
			Kind:    models.EventWarn,
			Message: fmt.Sprintf("Could not save thread: %v", err),
		})
	}
}

func (s *Session) publishError(err error) {
	s.logger.Error("session error", "session", s.id, "error", err)
	s.bus.Publish(&models.Event{
		Kind:    models.EventError,
		Message: err.Error(),
	})
}
