package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/haasonsaas/coday/internal/tools"
)

const protocolVersion = "2024-11-05"

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	// ID names the server; it becomes part of every exposed tool name.
	ID string `yaml:"id" json:"id"`

	// Command is the executable to spawn.
	Command string `yaml:"command" json:"command"`

	// Args are passed to the command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env entries in KEY=VALUE form, appended to the child environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	// AllowedTools restricts the exposed tools when non-empty.
	AllowedTools []string `yaml:"allowedTools,omitempty" json:"allowedTools,omitempty"`
}

// Source bridges one MCP server into a tool source. The subprocess is
// spawned lazily on the first Tools call and killed with the owning
// ToolSet.
type Source struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

// NewSource creates an unconnected source for one server.
func NewSource(cfg ServerConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, logger: logger}
}

// Integration implements tools.Source. Each server is its own
// integration, so agent definitions allow servers individually.
func (s *Source) Integration() string {
	return "mcp:" + sanitizeID(s.cfg.ID)
}

// Tools spawns the server if needed and lists its tools under
// namespaced names.
func (s *Source) Tools(ctx context.Context) ([]tools.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}

	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", s.cfg.ID, err)
	}

	allowed := map[string]bool{}
	for _, name := range s.cfg.AllowedTools {
		allowed[name] = true
	}

	var out []tools.Tool
	for _, mt := range resp.Tools {
		if len(allowed) > 0 && !allowed[mt.Name] {
			continue
		}
		schema, err := json.Marshal(mt.InputSchema)
		if err != nil {
			s.logger.Warn("skipping tool with unencodable schema",
				"server", s.cfg.ID, "tool", mt.Name, "error", err)
			continue
		}
		out = append(out, &remoteTool{
			source: s,
			remote: mt.Name,
			def: tools.Definition{
				Name:        NamespacedName(s.cfg.ID, mt.Name),
				Description: mt.Description,
				Schema:      schema,
			},
		})
	}
	s.logger.Info("mcp server connected",
		"server", s.cfg.ID, "command", s.cfg.Command, "tools", len(out))
	return out, nil
}

func (s *Source) connectLocked(ctx context.Context) error {
	if s.connected {
		return nil
	}
	c, err := client.NewStdioMCPClient(s.cfg.Command, s.cfg.Env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("spawn mcp server %s: %w", s.cfg.ID, err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start mcp server %s: %w", s.cfg.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: "coday", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize mcp server %s: %w", s.cfg.ID, err)
	}

	s.client = c
	s.connected = true
	return nil
}

// Close kills the server subprocess. The next Tools call respawns it.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return fmt.Errorf("close mcp server %s: %w", s.cfg.ID, err)
	}
	return nil
}

// remoteTool proxies one server-side tool.
type remoteTool struct {
	source *Source
	remote string
	def    tools.Definition
}

func (t *remoteTool) Definition() tools.Definition {
	return t.def
}

func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	t.source.mu.Lock()
	c := t.source.client
	connected := t.source.connected
	t.source.mu.Unlock()
	if !connected || c == nil {
		return nil, fmt.Errorf("mcp server %s is not connected", t.source.cfg.ID)
	}

	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, fmt.Errorf("decode arguments for %s: %w", t.def.Name, err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.remote
	req.Params.Arguments = decoded

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", t.def.Name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return nil, fmt.Errorf("%s: %s", t.def.Name, joined)
	}
	return joined, nil
}
