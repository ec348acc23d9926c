package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/coday/internal/config"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/pkg/models"
)

// CodayDefaults is merged under every loaded definition: anthropic
// models with the core integrations, tools unrestricted within each.
var CodayDefaults = models.AgentDefinition{
	ModelProvider: "anthropic",
	Integrations: map[string][]string{
		"files":    {},
		"memory":   {},
		"delegate": {},
		"mcp":      {},
	},
}

// BuildFunc assembles a runnable agent from its definition. The session
// layer supplies it, closing over the model factory and tool sources.
type BuildFunc func(ctx context.Context, def *models.AgentDefinition) (*Agent, error)

// Registry discovers agent definitions for a project and memoises built
// agents. Definitions come from coday.yaml first, then from *.yaml files
// in the project's agent folders; the project file wins name clashes.
type Registry struct {
	projectRoot string
	build       BuildFunc
	logger      *slog.Logger

	mu            sync.Mutex
	loaded        bool
	defs          map[string]*models.AgentDefinition
	order         []string
	agents        map[string]*Agent
	defName       string
	userPreferred string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a registry rooted at a project directory.
func NewRegistry(projectRoot string, build BuildFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		projectRoot: projectRoot,
		build:       build,
		logger:      logger,
		defs:        make(map[string]*models.AgentDefinition),
		agents:      make(map[string]*Agent),
	}
}

// Watch starts invalidating the registry when config files change.
// Stops when Close is called.
func (r *Registry) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch agent config: %w", err)
	}
	if err := w.Add(r.projectRoot); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.projectRoot, err)
	}
	for _, dir := range r.agentDirs() {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := w.Add(dir); err != nil {
				r.logger.Warn("cannot watch agent folder", "dir", dir, "error", err)
			}
		}
	}

	r.mu.Lock()
	r.watcher = w
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if r.relevantChange(ev) {
					r.logger.Info("agent config changed, reloading", "file", ev.Name)
					r.Invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("agent config watcher", "error", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

func (r *Registry) relevantChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if name == config.ProjectFileName {
		return true
	}
	dir := filepath.Dir(ev.Name)
	for _, agentDir := range r.agentDirs() {
		if dir == agentDir && strings.HasSuffix(name, ".yaml") {
			return true
		}
	}
	return false
}

// Invalidate drops loaded definitions and kills built tool sets. The
// next lookup reloads from disk.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked()
}

func (r *Registry) invalidateLocked() {
	for _, ag := range r.agents {
		ag.ToolSet().Kill()
	}
	r.agents = make(map[string]*Agent)
	r.defs = make(map[string]*models.AgentDefinition)
	r.order = nil
	r.loaded = false
}

// Close stops the watcher and kills all built tool sets.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	w := r.watcher
	r.watcher = nil
	r.invalidateLocked()
	r.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

// Names returns all known agent names in discovery order.
func (r *Registry) Names() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return append([]string(nil), r.order...), nil
}

// Descriptions returns name/description pairs for delegation targets.
func (r *Registry) Descriptions() ([]models.AgentDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]models.AgentDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.defs[name])
	}
	return out, nil
}

// DefaultName returns the project's default agent name.
func (r *Registry) DefaultName() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return "", err
	}
	return r.defName, nil
}

// Get returns the built agent with the given name (case-insensitive
// exact match), building it on first use.
func (r *Registry) Get(ctx context.Context, name string) (*Agent, error) {
	r.mu.Lock()
	if err := r.ensureLoadedLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	key := strings.ToLower(name)
	def, ok := r.defs[key]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return r.getOrBuild(ctx, key, def)
}

// AmbiguousPrefixError reports a prefix matching more than one agent.
// Interactive callers catch it and let the user pick a candidate.
type AmbiguousPrefixError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousPrefixError) Error() string {
	return fmt.Sprintf("ambiguous agent prefix %q: %s", e.Prefix, strings.Join(e.Candidates, ", "))
}

// FindByPrefix resolves a name prefix to an agent. Exact matches win; an
// ambiguous prefix yields an AmbiguousPrefixError listing the candidates.
func (r *Registry) FindByPrefix(ctx context.Context, prefix string) (*Agent, error) {
	r.mu.Lock()
	if err := r.ensureLoadedLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	key := strings.ToLower(prefix)
	resolved := ""
	if _, ok := r.defs[key]; ok {
		resolved = key
	} else {
		var matches []string
		for _, name := range r.order {
			if strings.HasPrefix(name, key) {
				matches = append(matches, name)
			}
		}
		switch len(matches) {
		case 0:
			r.mu.Unlock()
			return nil, fmt.Errorf("no agent matches %q", prefix)
		case 1:
			resolved = matches[0]
		default:
			r.mu.Unlock()
			sort.Strings(matches)
			return nil, &AmbiguousPrefixError{Prefix: prefix, Candidates: matches}
		}
	}
	def := r.defs[resolved]
	r.mu.Unlock()
	return r.getOrBuild(ctx, resolved, def)
}

// SetUserPreferred records the user's preferred agent for this project.
// It sits between the thread's last speaker and the project default.
func (r *Registry) SetUserPreferred(name string) {
	r.mu.Lock()
	r.userPreferred = strings.ToLower(name)
	r.mu.Unlock()
}

// PreferredFor returns the agent that should answer next on a thread: the
// last agent that spoke, then the user's per-project preference, falling
// back to the project default.
func (r *Registry) PreferredFor(ctx context.Context, th *thread.Thread) (*Agent, error) {
	if name := th.LastAgentName(); name != "" {
		if ag, err := r.Get(ctx, name); err == nil {
			return ag, nil
		}
		// The last speaker may have been removed from config; fall through.
	}
	r.mu.Lock()
	preferred := r.userPreferred
	r.mu.Unlock()
	if preferred != "" {
		if ag, err := r.Get(ctx, preferred); err == nil {
			return ag, nil
		}
		r.logger.Warn("preferred agent not found, using project default", "agent", preferred)
	}
	name, err := r.DefaultName()
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, name)
}

// getOrBuild memoises built agents. The build runs outside the lock: a
// BuildFunc may call back into the registry (the delegate tool lists
// targets at tool-set build time).
func (r *Registry) getOrBuild(ctx context.Context, key string, def *models.AgentDefinition) (*Agent, error) {
	r.mu.Lock()
	if ag, ok := r.agents[key]; ok {
		r.mu.Unlock()
		return ag, nil
	}
	r.mu.Unlock()

	ag, err := r.build(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("build agent %q: %w", def.Name, err)
	}

	r.mu.Lock()
	if existing, ok := r.agents[key]; ok {
		// Lost a build race; keep the first and release ours.
		r.mu.Unlock()
		ag.ToolSet().Kill()
		return existing, nil
	}
	r.agents[key] = ag
	r.mu.Unlock()
	return ag, nil
}

func (r *Registry) ensureLoadedLocked() error {
	if r.loaded {
		return nil
	}

	cfg, err := config.LoadProject(r.projectRoot)
	if err != nil {
		return err
	}

	add := func(def models.AgentDefinition) {
		key := strings.ToLower(def.Name)
		if _, exists := r.defs[key]; exists {
			return
		}
		d := def
		d.MergeDefaults(CodayDefaults)
		r.defs[key] = &d
		r.order = append(r.order, key)
	}

	for _, def := range cfg.Agents {
		add(def)
	}
	for _, dir := range r.agentDirs() {
		defs, err := loadAgentFolder(dir)
		if err != nil {
			r.logger.Warn("skipping agent folder", "dir", dir, "error", err)
			continue
		}
		for _, def := range defs {
			add(def)
		}
	}

	r.defName = strings.ToLower(cfg.DefaultAgent)
	if r.defName == "" {
		r.defName = models.DefaultAgentName
	}
	if _, ok := r.defs[r.defName]; !ok {
		add(models.AgentDefinition{
			Name:        r.defName,
			Description: "General-purpose default agent.",
		})
	}

	r.loaded = true
	r.logger.Debug("agent registry loaded",
		"project", r.projectRoot, "agents", len(r.order), "default", r.defName)
	return nil
}

func (r *Registry) agentDirs() []string {
	dirs := []string{filepath.Join(r.projectRoot, "agents")}
	cfg, err := config.LoadProject(r.projectRoot)
	if err != nil {
		return dirs
	}
	for _, dir := range cfg.AgentFolders {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.projectRoot, dir)
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// loadAgentFolder reads one definition per *.yaml file.
func loadAgentFolder(dir string) ([]models.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []models.AgentDefinition
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, err
		}
		var def models.AgentDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", de.Name(), err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(de.Name(), ".yaml")
		}
		out = append(out, def)
	}
	return out, nil
}
