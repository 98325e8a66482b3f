// Package webinfo asks a browsing-capable chat model for current headlines and
// caches them in web_info_cache.json.
package webinfo

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/filecache"
	"github.com/bakkerme/topic-finder/internal/llm"
	"github.com/bakkerme/topic-finder/internal/llm/openai"
)

const (
	CacheFile   = "web_info_cache.json"
	MarkerFile  = "web_last_update.json"
	RequestType = "web_info.fetch"
)

// ClientFactory builds the chat client for a base URL, key and timeout.
type ClientFactory func(baseURL, apiKey string, timeout time.Duration) llm.Client

// OpenAIFactory returns a factory for OpenAI-compatible endpoints.
func OpenAIFactory(otelCfg config.OpenAIOTelEnvConfig) ClientFactory {
	return func(baseURL, apiKey string, timeout time.Duration) llm.Client {
		return openai.NewClient(openai.Options{APIKey: apiKey, BaseURL: baseURL, Timeout: timeout, OTel: otelCfg})
	}
}

type Manager struct {
	cfg        config.WebLLMSection
	prompt     string
	newClient  ClientFactory
	cachePath  string
	markerPath string
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex

	// OnFetchError is called when the model call fails.
	OnFetchError func(source string)
}

func NewManager(dataDir string, doc *config.Document, newClient ClientFactory, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        doc.WebLLM,
		prompt:     doc.WebInfoPrompt(),
		newClient:  newClient,
		cachePath:  filepath.Join(dataDir, CacheFile),
		markerPath: filepath.Join(dataDir, MarkerFile),
		logger:     core.DefaultLogger(logger),
		now:        time.Now,
	}
}

func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// Get returns current web-info items: cached ones while the cache is fresh,
// otherwise a new fetch. A failed fetch falls back to the cache.
func (m *Manager) Get(ctx context.Context) []core.Item {
	logger := core.ComponentLogger(ctx, m.logger, "webinfo")
	if !m.cfg.Enabled {
		logger.Debug("web llm disabled")
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ShouldUpdate() {
		return m.CachedInfo()
	}

	items, err := m.refresh(ctx, logger)
	if err != nil {
		logger.Error("web info fetch failed, using cache", "error", err)
		return m.CachedInfo()
	}
	return items
}

// Refresh fetches regardless of the update interval and caches the result.
// Without usable credentials it returns nil and leaves the cache alone.
func (m *Manager) Refresh(ctx context.Context) ([]core.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh(ctx, core.ComponentLogger(ctx, m.logger, "webinfo"))
}

func (m *Manager) refresh(ctx context.Context, logger *slog.Logger) ([]core.Item, error) {
	items, err := m.Fetch(ctx)
	if err != nil {
		if m.OnFetchError != nil {
			m.OnFetchError(SourceTag)
		}
		return nil, err
	}
	if items == nil {
		return nil, nil
	}
	if err := filecache.SaveItems(m.cachePath, m.markerPath, items, m.now()); err != nil {
		logger.Error("save web info cache failed", "path", m.cachePath, "error", err)
	}
	logger.Info("web info fetched", "items", len(items))
	return items, nil
}

// Configured reports whether usable credentials are present.
func (m *Manager) Configured() bool {
	return m.cfg.BaseURL != "" && m.cfg.APIKey != "" && m.cfg.APIKey != config.PlaceholderAPIKey
}

// Fetch calls the web model once and parses its reply. Without usable
// credentials it returns nil and makes no call.
func (m *Manager) Fetch(ctx context.Context) ([]core.Item, error) {
	logger := core.ComponentLogger(ctx, m.logger, "webinfo")
	if !m.Configured() {
		logger.Warn("web llm credentials incomplete, skipping call")
		return nil, nil
	}

	ctx, span := otel.Tracer("topic-finder/webinfo").Start(ctx, "web_info.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", m.cfg.ModelName))

	prompt, err := config.RenderPrompt("web_info_prompt", m.prompt, config.WebInfoPromptData{
		CurrentDate: m.now().Format("2006年01月02日"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("render web info prompt: %w", err)
	}

	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second
	client := m.newClient(m.cfg.BaseURL, m.cfg.APIKey, timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := client.ChatCompletion(ctx, llm.ChatRequest{
		Model:       m.cfg.ModelName,
		Messages:    llm.UserPrompt(prompt),
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
		RequestType: RequestType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("web llm call: %w", err)
	}

	items := Parse(resp.Content, m.now())
	if items == nil {
		items = []core.Item{}
	}
	span.SetAttributes(attribute.Int("web_info.items", len(items)))
	span.SetStatus(codes.Ok, "")
	return items, nil
}

// ShouldUpdate reports whether web_info_update_interval has elapsed since the last fetch.
func (m *Manager) ShouldUpdate() bool {
	interval := time.Duration(m.cfg.WebInfoUpdateInterval) * time.Minute
	return filecache.Due(m.markerPath, interval, m.now())
}

// CachedInfo returns cached items younger than web_info_cache_hours.
func (m *Manager) CachedInfo() []core.Item {
	maxAge := time.Duration(m.cfg.WebInfoCacheHours) * time.Hour
	return filecache.FreshItems(m.cachePath, maxAge, m.now())
}
