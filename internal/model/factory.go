package model

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/coday/pkg/models"
)

// Credentials holds per-provider API access settings.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Factory builds and caches clients. One client exists per provider and
// credential pair; hosted assistants add the assistant ID to the key so
// distinct assistants never share pending-run state.
type Factory struct {
	creds  map[string]Credentials
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]Client
}

// NewFactory creates a factory. creds maps provider names ("anthropic",
// "openai") to their credentials.
func NewFactory(creds map[string]Credentials, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		creds:   creds,
		logger:  logger,
		clients: make(map[string]Client),
	}
}

// ClientFor returns the client for an agent definition, building it on
// first use.
func (f *Factory) ClientFor(def *models.AgentDefinition) (Client, error) {
	provider := def.ModelProvider
	if provider == "" {
		provider = "anthropic"
	}
	// An assistant ID pins the definition to the hosted vendor, whatever
	// provider the merged defaults carried.
	if def.AssistantID != "" {
		provider = "openai"
	}

	key := provider
	if def.AssistantID != "" {
		key = provider + "/assistant/" + def.AssistantID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	creds, ok := f.creds[provider]
	if !ok {
		return nil, fmt.Errorf("no credentials configured for provider %q", provider)
	}

	var (
		client Client
		err    error
	)
	switch {
	case def.AssistantID != "":
		client, err = NewAssistantsClient(OpenAIConfig{
			APIKey: creds.APIKey, BaseURL: creds.BaseURL, Logger: f.logger,
		}, def.AssistantID)
	case provider == "anthropic":
		client, err = NewAnthropicClient(AnthropicConfig{
			APIKey: creds.APIKey, BaseURL: creds.BaseURL, Logger: f.logger,
		})
	case provider == "openai":
		client, err = NewOpenAIClient(OpenAIConfig{
			APIKey: creds.APIKey, BaseURL: creds.BaseURL, Logger: f.logger,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	f.clients[key] = client
	return client, nil
}

// CloseAll closes every cached client.
func (f *Factory) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, c := range f.clients {
		if err := c.Close(); err != nil {
			f.logger.Warn("closing model client", "client", key, "error", err)
		}
		delete(f.clients, key)
	}
}
