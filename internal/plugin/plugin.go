// Package plugin wires the topic finder: sources, topic generation, gating
// and the components a chat host dispatches to.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/gate"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/persona"
	"github.com/bakkerme/topic-finder/internal/recent"
	"github.com/bakkerme/topic-finder/internal/tasks"
	"github.com/bakkerme/topic-finder/internal/topic"
)

const (
	Name = config.PluginName

	// SilentFallback is returned when topic generation itself breaks down.
	SilentFallback = "不说话是吧"

	ReasonScheduled = "定时发送"
	ReasonSilence   = "群聊静默检测"
	ReasonDefault   = "话题发送"

	RecentTopicsFile = "recent_topics.json"

	// Fallback causes recorded by the plugin itself; generator causes come
	// from the topic package.
	FallbackNoSources = "no_sources"
	FallbackDuplicate = "duplicate"
	FallbackPanic     = "panic"
)

var ErrNoStream = errors.New("chat stream not found")

// FeedSource yields cached RSS (and subreddit) items, refreshing when due.
type FeedSource interface {
	Enabled() bool
	Items(ctx context.Context) []core.Item
}

// WebSource yields web-info items.
type WebSource interface {
	Enabled() bool
	Get(ctx context.Context) []core.Item
}

type Options struct {
	Config  *config.Document
	Host    host.Host
	DataDir string
	// Feeds and Web may be nil when the source is not wired.
	Feeds FeedSource
	Web   WebSource
	// Tasks is created (and owned) by the plugin when nil.
	Tasks      *tasks.Manager
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

type Plugin struct {
	cfg       *config.Document
	host      host.Host
	feeds     FeedSource
	web       WebSource
	generator *topic.Generator
	recent    *recent.Store
	persona   *persona.Loader
	tasks     *tasks.Manager
	ownsTasks bool
	metrics   *Metrics
	logger    *slog.Logger

	sendThrottle  *gate.Throttle
	checkThrottle *gate.Throttle
	schedule      *gate.DailySchedule
	commands      []Command

	schedulerWait     time.Duration
	schedulerInterval time.Duration

	now func() time.Time
}

func New(opts Options) (*Plugin, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	logger := core.DefaultLogger(opts.Logger).With("plugin", Name)
	cfg := opts.Config

	p := &Plugin{
		cfg:       cfg,
		host:      opts.Host,
		feeds:     opts.Feeds,
		web:       opts.Web,
		generator: topic.NewGenerator(cfg, opts.Host.LLM, logger),
		recent: recent.NewStore(
			filepath.Join(opts.DataDir, RecentTopicsFile),
			time.Duration(cfg.Advanced.RecentTopicsWindowHours)*time.Hour,
			cfg.Advanced.RecentTopicsMaxItems,
			logger,
		),
		persona:           persona.NewLoader(opts.Host.BotConfigPath, logger),
		tasks:             opts.Tasks,
		metrics:           NewMetrics(opts.Registerer),
		logger:            logger,
		sendThrottle:      gate.NewThrottle(time.Duration(cfg.Schedule.MinIntervalHours) * time.Hour),
		checkThrottle:     gate.NewThrottle(time.Duration(cfg.SilenceDetection.CheckIntervalMinutes) * time.Minute),
		schedule:          gate.NewDailySchedule(cfg.Schedule.DailyTimes, logger),
		schedulerWait:     60 * time.Second,
		schedulerInterval: 5 * time.Minute,
		now:               time.Now,
	}
	p.generator.OnFallback = p.fallbackUsed
	if p.tasks == nil {
		p.tasks = tasks.NewManager(logger)
		p.ownsTasks = true
	}
	p.commands = p.buildCommands()
	return p, nil
}

// Metrics exposes the plugin counters; source managers report fetch errors through FetchFailed.
func (p *Plugin) Metrics() *Metrics { return p.metrics }

// Close stops the background scheduler when the plugin owns it.
func (p *Plugin) Close() {
	if p.ownsTasks {
		p.tasks.Stop()
	}
}

// GenerateTopicContent gathers RSS and web-info material concurrently and asks
// the model for a topic. It never returns an empty string.
func (p *Plugin) GenerateTopicContent(ctx context.Context) (result string) {
	logger := core.ComponentLogger(ctx, p.logger, "plugin")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("topic generation panicked", "panic", r)
			p.fallbackUsed(FallbackPanic)
			result = SilentFallback
		}
	}()
	if p.generator == nil {
		return SilentFallback
	}

	useRSS := p.feeds != nil && p.cfg.RSS.Enabled && p.feeds.Enabled()
	useWeb := p.web != nil && p.cfg.WebLLM.Enabled && p.web.Enabled()
	if !useRSS && !useWeb {
		logger.Info("rss and web llm both disabled, using fallback topic")
		p.fallbackUsed(FallbackNoSources)
		return p.generator.Fallback()
	}

	var (
		wg       sync.WaitGroup
		rssItems []core.Item
		webItems []core.Item
	)
	if useRSS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rssItems = p.collect(ctx, "rss", p.feeds.Items)
		}()
	}
	if useWeb {
		wg.Add(1)
		go func() {
			defer wg.Done()
			webItems = p.collect(ctx, "web_llm", p.web.Get)
		}()
	}
	wg.Wait()

	return p.generator.Generate(ctx, rssItems, webItems, p.persona.Get())
}

func (p *Plugin) fallbackUsed(cause string) {
	p.metrics.FallbacksUsed.WithLabelValues(cause).Inc()
}

func (p *Plugin) collect(ctx context.Context, source string, fetch func(context.Context) []core.Item) (items []core.Item) {
	defer func() {
		if r := recover(); r != nil {
			core.ComponentLogger(ctx, p.logger, "plugin").Error("source fetch panicked", "source", source, "panic", r)
			p.metrics.FetchFailed(source)
			items = nil
		}
	}()
	return fetch(ctx)
}

// SendTopicToChat generates a topic and posts it to chatID, honouring the
// minimum send interval and recent-topic de-duplication. A throttled chat is
// skipped without error.
func (p *Plugin) SendTopicToChat(ctx context.Context, chatID, reason string) error {
	if reason == "" {
		reason = ReasonDefault
	}
	ctx = core.WithReason(core.WithChatID(ctx, chatID), reason)
	logger := core.ComponentLogger(ctx, p.logger, "plugin")

	now := p.now()
	if !p.sendThrottle.Allow(chatID, now) {
		last, _ := p.sendThrottle.Last(chatID)
		logger.Debug("min interval not reached, skipping", "last_sent", last)
		return nil
	}

	content := p.GenerateTopicContent(ctx)
	if p.recent.IsDuplicate(chatID, content, now) {
		logger.Info("topic repeats a recent one, retrying once")
		p.metrics.DuplicatesDetected.Inc()
		retry := p.GenerateTopicContent(ctx)
		if retry != "" && !p.recent.IsDuplicate(chatID, retry, now) {
			content = retry
		} else {
			p.fallbackUsed(FallbackDuplicate)
			content = p.generator.Fallback()
		}
	}
	if content == "" {
		logger.Warn("no topic content, skipping")
		return nil
	}

	stream, ok := host.ResolveStream(p.host.Chats, chatID)
	if !ok {
		return fmt.Errorf("send topic to %s: %w", chatID, ErrNoStream)
	}
	if p.host.Sender == nil {
		return fmt.Errorf("send topic to %s: no send api", chatID)
	}
	if err := p.host.Sender.TextToStream(ctx, stream.ID, content, host.SendOptions{Typing: false, Store: true}); err != nil {
		return fmt.Errorf("send topic to %s: %w", chatID, err)
	}

	p.sendThrottle.Mark(chatID, now)
	if err := p.recent.Record(chatID, content, now); err != nil {
		logger.Error("record recent topic failed", "error", err)
	}
	p.metrics.TopicsSent.WithLabelValues(reason).Inc()
	logger.Info("topic sent", "stream_id", stream.ID, "topic", truncate(content, 50))
	return nil
}

// CheckScheduledTopics sends scheduled topics when now falls on a daily slot.
func (p *Plugin) CheckScheduledTopics(ctx context.Context, now time.Time) {
	if !p.cfg.Schedule.EnableDailySchedule {
		return
	}
	slot, ok := p.schedule.Due(now)
	if !ok {
		return
	}
	core.ComponentLogger(ctx, p.logger, "scheduler").Info("daily slot reached", "slot", slot)
	p.metrics.ScheduledSlotsFired.Inc()
	p.SendScheduledTopics(ctx, now)
	p.schedule.MarkFired(now)
}

// SendScheduledTopics posts a topic to every target chat inside its active hours.
func (p *Plugin) SendScheduledTopics(ctx context.Context, now time.Time) {
	logger := core.ComponentLogger(ctx, p.logger, "scheduler")
	for _, chatID := range p.scheduledTargets() {
		start, end := p.cfg.ActiveHours(chatID)
		if !gate.InWindow(now.Hour(), start, end) {
			logger.Debug("outside active hours, skipping", "chat_id", chatID, "start", start, "end", end)
			continue
		}
		if err := p.SendTopicToChat(ctx, chatID, ReasonScheduled); err != nil {
			logger.Error("scheduled topic failed", "chat_id", chatID, "error", err)
		}
	}
}

func (p *Plugin) scheduledTargets() []string {
	targets := p.cfg.Filtering.TargetGroups
	if len(targets) == 0 && p.host.Chats != nil {
		streams := p.host.Chats.AllStreams()
		if p.cfg.Filtering.GroupOnly {
			streams = p.host.Chats.GroupStreams()
		}
		for _, s := range streams {
			targets = append(targets, s.ID)
		}
	}

	excluded := make(map[string]struct{}, len(p.cfg.Filtering.ExcludeGroups))
	for _, id := range p.cfg.Filtering.ExcludeGroups {
		excluded[id] = struct{}{}
	}
	out := make([]string, 0, len(targets))
	for _, id := range targets {
		if _, skip := excluded[id]; !skip {
			out = append(out, id)
		}
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
