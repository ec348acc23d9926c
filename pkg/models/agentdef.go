package models

import "strings"

// DefaultAgentName is the built-in fallback agent, always resolvable.
const DefaultAgentName = "coday"

// AgentDefinition declares a named agent: its personality, model binding
// and tool visibility. Definitions are static; the runtime Agent is built
// lazily from one.
//
// Names are case-insensitive unique keys. On load-order collisions the
// first definition wins (coday.yaml > project local > discovered files).
type AgentDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Instructions form the system prompt preamble.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	ModelProvider string `json:"model_provider,omitempty" yaml:"modelProvider,omitempty"`
	ModelName     string `json:"model_name,omitempty" yaml:"modelName,omitempty"`

	// AssistantID pins the agent to a hosted-assistant provider; when set
	// it overrides ModelProvider regardless of loaded defaults.
	AssistantID string `json:"assistant_id,omitempty" yaml:"assistantId,omitempty"`

	// Integrations maps integration name to a tool allow-list. An absent
	// integration is denied entirely; an empty list allows every tool of
	// that integration.
	Integrations map[string][]string `json:"integrations,omitempty" yaml:"integrations,omitempty"`

	MandatoryDocs []string `json:"mandatory_docs,omitempty" yaml:"mandatoryDocs,omitempty"`
	OptionalDocs  []string `json:"optional_docs,omitempty" yaml:"optionalDocs,omitempty"`

	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Key returns the case-insensitive lookup key for the definition.
func (d *AgentDefinition) Key() string {
	return strings.ToLower(strings.TrimSpace(d.Name))
}

// AllowsTool reports whether the definition's integration map admits the
// given tool of the given integration.
func (d *AgentDefinition) AllowsTool(integration, toolName string) bool {
	if d.Integrations == nil {
		return false
	}
	allow, ok := d.Integrations[integration]
	if !ok {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	for _, name := range allow {
		if strings.EqualFold(name, toolName) {
			return true
		}
	}
	return false
}

// MergeDefaults fills unset fields from a baseline definition. Used to
// apply CodayDefaults under every loaded definition.
func (d *AgentDefinition) MergeDefaults(defaults AgentDefinition) {
	if d.Instructions == "" {
		d.Instructions = defaults.Instructions
	}
	if d.ModelProvider == "" {
		d.ModelProvider = defaults.ModelProvider
	}
	if d.ModelName == "" {
		d.ModelName = defaults.ModelName
	}
	if d.Temperature == nil {
		d.Temperature = defaults.Temperature
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = defaults.MaxTokens
	}
	if d.Integrations == nil && defaults.Integrations != nil {
		d.Integrations = make(map[string][]string, len(defaults.Integrations))
		for k, v := range defaults.Integrations {
			d.Integrations[k] = append([]string(nil), v...)
		}
	}
}
