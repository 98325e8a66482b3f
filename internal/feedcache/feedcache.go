// Package feedcache maintains the RSS item cache (rss_cache.json) and its
// refresh marker (last_update.json).
package feedcache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/filecache"
	"github.com/bakkerme/topic-finder/internal/sources/reddit"
	"github.com/bakkerme/topic-finder/internal/sources/rss"
)

const (
	CacheFile  = "rss_cache.json"
	MarkerFile = "last_update.json"
)

type Manager struct {
	rss           config.RSSSection
	reddit        config.RedditSection
	fetcher       rss.Fetcher
	redditFetcher reddit.Fetcher
	filter        *vm.Program
	cachePath     string
	markerPath    string
	logger        *slog.Logger
	now           func() time.Time

	// mu serializes refreshes so concurrent callers fetch once and never
	// interleave cache writes.
	mu sync.Mutex

	// OnFetchError is called with the source name whenever a feed fails.
	OnFetchError func(source string)
}

// NewManager builds the RSS cache manager. redditFetcher may be nil when reddit is disabled.
func NewManager(dataDir string, doc *config.Document, fetcher rss.Fetcher, redditFetcher reddit.Fetcher, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		rss:           doc.RSS,
		reddit:        doc.Reddit,
		fetcher:       fetcher,
		redditFetcher: redditFetcher,
		cachePath:     filepath.Join(dataDir, CacheFile),
		markerPath:    filepath.Join(dataDir, MarkerFile),
		logger:        core.DefaultLogger(logger),
		now:           time.Now,
	}
	if doc.RSS.ItemFilter != "" {
		program, err := expr.Compile(doc.RSS.ItemFilter, expr.Env(filterEnv(core.Item{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rss.item_filter: %w", err)
		}
		m.filter = program
	}
	return m, nil
}

func filterEnv(item core.Item) map[string]interface{} {
	return map[string]interface{}{
		"title":       item.Title,
		"description": item.Description,
		"link":        item.Link,
		"source":      item.Source,
		"published":   item.Published,
	}
}

// Enabled reports whether rss.enable_rss is on.
func (m *Manager) Enabled() bool { return m.rss.Enabled }

// ShouldUpdate reports whether the cache is due for a refresh.
func (m *Manager) ShouldUpdate() bool {
	if !m.rss.Enabled {
		return false
	}
	interval := time.Duration(m.rss.UpdateIntervalMinutes) * time.Minute
	return filecache.Due(m.markerPath, interval, m.now())
}

// Update fetches every configured feed (and subreddit when enabled), then
// rewrites the cache and marker. Feeds that fail are logged and skipped; the
// returned error only reports a failure to persist the cache.
func (m *Manager) Update(ctx context.Context) ([]core.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ctx)
}

func (m *Manager) update(ctx context.Context) ([]core.Item, error) {
	logger := core.ComponentLogger(ctx, m.logger, "feedcache")
	if !m.rss.Enabled {
		logger.Debug("rss disabled, skipping update")
		return nil, nil
	}

	options := rss.FetchOptions{Limit: m.rss.MaxItemsPerSource, UserAgent: m.rss.UserAgent}
	var items []core.Item
	for _, feedURL := range m.rss.Sources {
		fetched, err := m.fetcher.Fetch(ctx, feedURL, options)
		if err != nil {
			logger.Error("fetch feed failed", "source", feedURL, "error", err)
			m.fetchFailed(feedURL)
			continue
		}
		items = append(items, m.keep(logger, fetched)...)
	}

	if m.reddit.Enabled && m.redditFetcher != nil && len(m.reddit.Subreddits) > 0 {
		fetched, err := m.redditFetcher.Fetch(ctx, reddit.Config{
			Subreddits: m.reddit.Subreddits,
			Sort:       m.reddit.Sort,
			Limit:      m.reddit.Limit,
			MinScore:   m.reddit.MinScore,
		})
		if err != nil {
			logger.Error("fetch subreddits failed", "error", err)
			m.fetchFailed("reddit")
		} else {
			items = append(items, m.keep(logger, fetched)...)
		}
	}

	if err := filecache.SaveItems(m.cachePath, m.markerPath, items, m.now()); err != nil {
		logger.Error("save rss cache failed", "path", m.cachePath, "error", err)
		return items, err
	}
	logger.Info("rss update complete", "items", len(items), "sources", len(m.rss.Sources))
	return items, nil
}

// keep applies rss.item_filter. Items the filter cannot evaluate are kept.
func (m *Manager) keep(logger *slog.Logger, items []core.Item) []core.Item {
	if m.filter == nil {
		return items
	}
	kept := items[:0:0]
	for _, item := range items {
		result, err := expr.Run(m.filter, filterEnv(item))
		if err != nil {
			logger.Warn("rss item filter failed", "title", item.Title, "error", err)
			kept = append(kept, item)
			continue
		}
		if ok, _ := result.(bool); ok {
			kept = append(kept, item)
		}
	}
	return kept
}

func (m *Manager) fetchFailed(source string) {
	if m.OnFetchError != nil {
		m.OnFetchError(source)
	}
}

// CachedItems returns cached items younger than maxAge; any read failure yields none.
func (m *Manager) CachedItems(maxAge time.Duration) []core.Item {
	return filecache.FreshItems(m.cachePath, maxAge, m.now())
}

// Items refreshes the cache when due and returns items within rss.cache_hours.
// Concurrent callers share a single refresh.
func (m *Manager) Items(ctx context.Context) []core.Item {
	if !m.rss.Enabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldUpdate() {
		core.ComponentLogger(ctx, m.logger, "feedcache").Info("refreshing rss feeds")
		_, _ = m.update(ctx)
	}
	return m.CachedItems(time.Duration(m.rss.CacheHours) * time.Hour)
}
