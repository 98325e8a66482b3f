// Package recent remembers topics sent per chat for duplicate suppression.
package recent

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/filecache"
	"github.com/bakkerme/topic-finder/internal/topic"
)

// Store keeps recent_topics.json: a map of chat id to its most recent topics.
type Store struct {
	mu       sync.Mutex
	path     string
	window   time.Duration
	maxItems int
	logger   *slog.Logger
}

func NewStore(path string, window time.Duration, maxItems int, logger *slog.Logger) *Store {
	return &Store{path: path, window: window, maxItems: maxItems, logger: core.DefaultLogger(logger)}
}

func (s *Store) load() (map[string][]core.RecentTopic, error) {
	topics := map[string][]core.RecentTopic{}
	err := filecache.Load(s.path, &topics)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]core.RecentTopic{}, nil
	}
	if err != nil {
		return nil, err
	}
	if topics == nil {
		topics = map[string][]core.RecentTopic{}
	}
	return topics, nil
}

// IsDuplicate reports whether content matches, after normalization, a topic
// sent to chatID within the lookback window. Read failures count as no match.
func (s *Store) IsDuplicate(chatID, content string, now time.Time) bool {
	if content == "" {
		return false
	}
	key := topic.Normalize(content)
	s.mu.Lock()
	defer s.mu.Unlock()

	topics, err := s.load()
	if err != nil {
		s.logger.Warn("read recent topics failed", "path", s.path, "error", err)
		return false
	}
	cutoff := now.Add(-s.window)
	for _, entry := range topics[chatID] {
		if entry.SentAt.Before(cutoff) {
			continue
		}
		if topic.Normalize(entry.Content) == key {
			return true
		}
	}
	return false
}

// Record appends content to chatID's history, keeping only the newest maxItems.
func (s *Store) Record(chatID, content string, now time.Time) error {
	if content == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	topics, err := s.load()
	if err != nil {
		s.logger.Warn("recent topics unreadable, starting fresh", "path", s.path, "error", err)
		topics = map[string][]core.RecentTopic{}
	}
	list := append(topics[chatID], core.RecentTopic{Content: content, SentAt: core.NewUnixTime(now)})
	if s.maxItems > 0 && len(list) > s.maxItems {
		list = list[len(list)-s.maxItems:]
	}
	topics[chatID] = list
	return filecache.Save(s.path, topics)
}
