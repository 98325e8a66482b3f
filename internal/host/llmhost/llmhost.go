// Package llmhost exposes configured chat models through the host LLM API.
package llmhost

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/llm"
	"github.com/bakkerme/topic-finder/internal/llm/anthropic"
	"github.com/bakkerme/topic-finder/internal/llm/openai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Registry maps task names ("replyer", ...) to models and routes generation to
// the provider client that serves them.
type Registry struct {
	models  map[string]host.ModelConfig
	clients map[string]llm.Client
	logger  *slog.Logger
}

func New(models map[string]host.ModelConfig, clients map[string]llm.Client, logger *slog.Logger) *Registry {
	return &Registry{
		models:  maps.Clone(models),
		clients: maps.Clone(clients),
		logger:  core.DefaultLogger(logger),
	}
}

// FromConfig builds the registry from the models section, falling back to a
// single "replyer" model on OPENAI_MODEL when none are declared.
func FromConfig(doc *config.Document, env config.EnvConfig, logger *slog.Logger) *Registry {
	clients := map[string]llm.Client{
		ProviderOpenAI: openai.FromEnv(env.OpenAI),
	}
	if env.Anthropic.APIKey != "" {
		clients[ProviderAnthropic] = anthropic.NewClient(env.Anthropic)
	}

	models := map[string]host.ModelConfig{}
	for name, m := range doc.Models {
		provider := strings.ToLower(strings.TrimSpace(m.Provider))
		if provider == "" {
			provider = ProviderOpenAI
		}
		model := m.Model
		if model == "" {
			model = defaultModel(provider, env)
		}
		models[name] = host.ModelConfig{
			Name:        name,
			Provider:    provider,
			Model:       model,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		}
	}
	if len(models) == 0 {
		models["replyer"] = host.ModelConfig{
			Name:        "replyer",
			Provider:    ProviderOpenAI,
			Model:       env.OpenAI.Model,
			Temperature: env.OpenAI.Temperature,
		}
	}
	return New(models, clients, logger)
}

func defaultModel(provider string, env config.EnvConfig) string {
	if provider == ProviderAnthropic {
		return env.Anthropic.Model
	}
	return env.OpenAI.Model
}

func (r *Registry) AvailableModels() map[string]host.ModelConfig {
	return maps.Clone(r.models)
}

// Generate runs a single-prompt completion. Options override the model's own
// temperature and token limit when set.
func (r *Registry) Generate(ctx context.Context, prompt string, model host.ModelConfig, opts host.GenerateOptions) (string, error) {
	client, ok := r.clients[model.Provider]
	if !ok {
		return "", fmt.Errorf("no client for provider %q (model %s)", model.Provider, model.Name)
	}

	req := llm.ChatRequest{
		Model:       model.Model,
		Messages:    llm.UserPrompt(prompt),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		RequestType: opts.RequestType,
	}
	if req.Temperature <= 0 && model.Temperature != nil {
		req.Temperature = *model.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = model.MaxTokens
	}

	logger := core.ComponentLogger(ctx, r.logger, "llmhost")
	resp, err := client.ChatCompletion(ctx, req)
	if err != nil {
		logger.Warn("model call failed", "model", model.Name, "provider", model.Provider, "request_type", opts.RequestType, "error", err)
		return "", fmt.Errorf("%s: %w", model.Name, err)
	}
	logger.Debug("model call completed", "model", model.Name, "request_type", opts.RequestType, "finish_reason", resp.FinishReason)
	return strings.TrimSpace(resp.Content), nil
}
