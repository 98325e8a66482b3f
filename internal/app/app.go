// Package app assembles the plugin and its sources from environment and config.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/feedcache"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/host/llmhost"
	"github.com/bakkerme/topic-finder/internal/plugin"
	"github.com/bakkerme/topic-finder/internal/sources/reddit"
	"github.com/bakkerme/topic-finder/internal/sources/rss"
	rssimpl "github.com/bakkerme/topic-finder/internal/sources/rss/impl"
	"github.com/bakkerme/topic-finder/internal/webinfo"
)

// App holds everything a command needs besides the chat host.
type App struct {
	Env      config.EnvConfig
	Config   *config.Document
	Feeds    *feedcache.Manager
	Web      *webinfo.Manager
	LLM      *llmhost.Registry
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Sources lets callers swap the network fetchers, mainly in tests.
type Sources struct {
	RSS    rss.Fetcher
	Reddit reddit.Fetcher
	Web    webinfo.ClientFactory
}

// NewLogger builds a text logger at the given level name.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Load reads the config document named by env, layers env overrides on top and
// builds the source managers with real fetchers.
func Load(env config.EnvConfig, logger *slog.Logger) (*App, error) {
	doc, err := config.Load(env.ConfigPath)
	if err != nil {
		return nil, err
	}
	return New(env, doc, Sources{}, logger)
}

// New builds the app from an already loaded document. Nil sources get the
// network implementations.
func New(env config.EnvConfig, doc *config.Document, src Sources, logger *slog.Logger) (*App, error) {
	doc.ApplyEnv(env)
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	if src.RSS == nil {
		src.RSS = rssimpl.NewFetcher(doc.RSS.HTTPTimeout.Std(), doc.RSS.UserAgent)
	}
	if src.Reddit == nil && doc.Reddit.Enabled {
		src.Reddit = reddit.NewFetcher(logger, doc.Reddit.HTTPTimeout.Std(), env.Reddit)
	}
	if src.Web == nil {
		src.Web = webinfo.OpenAIFactory(env.OpenAI.OTel)
	}

	feeds, err := feedcache.NewManager(env.DataDir, doc, src.RSS, src.Reddit, logger)
	if err != nil {
		return nil, fmt.Errorf("rss cache: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		Env:      env,
		Config:   doc,
		Feeds:    feeds,
		Web:      webinfo.NewManager(env.DataDir, doc, src.Web, logger),
		LLM:      llmhost.FromConfig(doc, env, logger),
		Registry: reg,
		Logger:   logger,
	}, nil
}

// NewPlugin builds the plugin against h and routes source fetch failures into
// its metrics. The caller must Close the plugin.
func (a *App) NewPlugin(h host.Host) (*plugin.Plugin, error) {
	p, err := plugin.New(plugin.Options{
		Config:     a.Config,
		Host:       h,
		DataDir:    a.Env.DataDir,
		Feeds:      a.Feeds,
		Web:        a.Web,
		Registerer: a.Registry,
		Logger:     a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.Feeds.OnFetchError = p.Metrics().FetchFailed
	a.Web.OnFetchError = p.Metrics().FetchFailed
	return p, nil
}
