package rss

import (
	"context"

	"github.com/bakkerme/topic-finder/internal/core"
)

// FetchOptions controls RSS fetch behavior.
type FetchOptions struct {
	Limit     int
	UserAgent string
}

// Fetcher fetches and parses RSS/Atom feeds into cache items tagged with the feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, options FetchOptions) ([]core.Item, error)
}
