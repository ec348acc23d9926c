package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/coday/internal/agent"
	"github.com/haasonsaas/coday/internal/config"
	"github.com/haasonsaas/coday/internal/mcp"
	"github.com/haasonsaas/coday/internal/memory"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/internal/tools/delegate"
	"github.com/haasonsaas/coday/internal/tools/files"
	toolmemory "github.com/haasonsaas/coday/internal/tools/memory"
	"github.com/haasonsaas/coday/pkg/models"
)

// environment is the per-project resource bundle: config, agent registry,
// model connections, stores. Replaced wholesale on project switch.
type environment struct {
	name     string
	root     string
	cfg      *config.ProjectConfig
	registry *agent.Registry
	factory  *model.Factory
	threads  thread.Store
	memories *memory.Store
}

func (e *environment) close() {
	e.registry.Close()
	e.factory.CloseAll()
}

// SelectProject switches the session to a project, releasing the previous
// project's model connections, MCP subprocesses and caches, and opening a
// fresh thread.
func (s *Session) SelectProject(ctx context.Context, name, root string) error {
	cfg, err := config.LoadProject(root)
	if err != nil {
		return fmt.Errorf("load project %s: %w", name, err)
	}

	projectDir := filepath.Join(s.configDir, "projects", name)
	threads, err := thread.NewFileStore(filepath.Join(projectDir, "threads"),
		thread.WithFileStoreLogger(s.logger))
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}

	env := &environment{
		name:    name,
		root:    root,
		cfg:     cfg,
		factory: model.NewFactory(s.creds, s.logger),
		threads: threads,
		memories: memory.NewStore(
			filepath.Join(s.configDir, "memories.yaml"),
			filepath.Join(projectDir, "memories.yaml"),
		),
	}
	env.registry = agent.NewRegistry(root, s.agentBuilder(env), s.logger)
	if userCfg, err := config.LoadUser(s.configDir); err == nil {
		env.registry.SetUserPreferred(userCfg.PreferredAgents[name])
	} else {
		s.logger.Warn("user config unreadable", "error", err)
	}
	if err := env.registry.Watch(); err != nil {
		s.logger.Warn("agent config watch unavailable", "project", name, "error", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		env.close()
		return ErrClosed
	}
	if s.runCancel != nil {
		s.mu.Unlock()
		env.close()
		return ErrRunActive
	}
	old := s.env
	s.env = env
	s.th = thread.New()
	th := s.th
	s.mu.Unlock()

	if old != nil {
		old.close()
	}

	s.bus.Publish(&models.Event{
		Kind:        models.EventProjectSelected,
		ProjectName: name,
	})
	s.bus.Publish(&models.Event{
		Kind:     models.EventThreadSelected,
		ThreadID: th.ID(),
	})
	return nil
}

// ProjectName returns the selected project's name, or "".
func (s *Session) ProjectName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env == nil {
		return ""
	}
	return s.env.name
}

// NewThread opens a fresh thread on the current project.
func (s *Session) NewThread() (*thread.Thread, error) {
	s.mu.Lock()
	if s.env == nil {
		s.mu.Unlock()
		return nil, ErrNoProject
	}
	if s.runCancel != nil {
		s.mu.Unlock()
		return nil, ErrRunActive
	}
	th := thread.New()
	s.th = th
	s.mu.Unlock()

	s.bus.Publish(&models.Event{
		Kind:     models.EventThreadSelected,
		ThreadID: th.ID(),
	})
	return th, nil
}

// SelectThread loads a saved thread and makes it current. Orphaned tool
// requests are repaired on load.
func (s *Session) SelectThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	env := s.env
	running := s.runCancel != nil
	s.mu.Unlock()
	if env == nil {
		return ErrNoProject
	}
	if running {
		return ErrRunActive
	}

	th, err := env.threads.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}

	s.mu.Lock()
	s.th = th
	s.mu.Unlock()

	s.bus.Publish(&models.Event{
		Kind:       models.EventThreadSelected,
		ThreadID:   th.ID(),
		ThreadName: th.Name(),
	})
	return nil
}

// Threads lists the current project's saved threads.
func (s *Session) Threads(ctx context.Context) ([]thread.Summary, error) {
	s.mu.Lock()
	env := s.env
	s.mu.Unlock()
	if env == nil {
		return nil, ErrNoProject
	}
	return env.threads.List(ctx)
}

// RunChain expands a named prompt chain and queues each command as a
// turn, in order.
func (s *Session) RunChain(name, arg string) error {
	s.mu.Lock()
	env := s.env
	s.mu.Unlock()
	if env == nil {
		return ErrNoProject
	}
	chain, ok := env.cfg.PromptChains[name]
	if !ok {
		return fmt.Errorf("unknown prompt chain %q", name)
	}
	for _, command := range chain.Expand(arg) {
		if err := s.Submit(command); err != nil {
			return err
		}
	}
	return nil
}

// agentBuilder returns the BuildFunc wiring an agent definition to its
// model client, tool set and prompt environment.
func (s *Session) agentBuilder(env *environment) agent.BuildFunc {
	return func(ctx context.Context, def *models.AgentDefinition) (*agent.Agent, error) {
		clientFor := s.clientFor
		if clientFor == nil {
			clientFor = env.factory.ClientFor
		}
		client, err := clientFor(def)
		if err != nil {
			return nil, err
		}

		sources := []tools.Source{
			files.NewSource(env.root, s.publishFile),
			toolmemory.NewSource(env.memories),
			delegate.NewSource(s, 0),
		}
		for _, serverCfg := range env.cfg.MCPServers {
			sources = append(sources, mcp.NewSource(serverCfg, s.logger))
		}

		allow := func(integration, toolName string) bool {
			if def.AllowsTool(integration, toolName) {
				return true
			}
			// MCP integrations are per-server; "mcp" in the definition
			// admits all of them.
			if strings.HasPrefix(integration, "mcp:") {
				return def.AllowsTool("mcp", toolName)
			}
			return false
		}
		toolset, err := tools.NewToolSet(ctx, sources, allow, tools.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}

		mems, err := env.memories.List()
		if err != nil {
			s.logger.Warn("memories unavailable", "error", err)
		}
		return agent.New(def, client, toolset, agent.PromptEnv{
			ProjectName:        env.name,
			ProjectDescription: env.cfg.Description,
			Memories:           mems,
			Docs:               loadDocs(env.root, def.MandatoryDocs, s.logger.Warn),
			OptionalDocPaths:   def.OptionalDocs,
		}), nil
	}
}

func (s *Session) publishFile(op models.FileOperation, relPath string, size int64) {
	s.bus.Publish(&models.Event{
		Kind:      models.EventFile,
		Filename:  relPath,
		Operation: op,
		Size:      size,
	})
}

func loadDocs(root string, paths []string, warn func(string, ...any)) []agent.Doc {
	var docs []agent.Doc
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			warn("mandatory doc unreadable", "path", rel, "error", err)
			continue
		}
		docs = append(docs, agent.Doc{Path: rel, Content: string(data)})
	}
	return docs
}
