package impl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/retry"
	"github.com/bakkerme/topic-finder/internal/sources/rss"
)

// Fetcher is safe for concurrent use; each fetch gets its own gofeed parser.
type Fetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent, now: time.Now}
}

func (f *Fetcher) newParser(userAgent string) *gofeed.Parser {
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.userAgent
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return parser
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string, options rss.FetchOptions) ([]core.Item, error) {
	parser := f.newParser(options.UserAgent)

	var feed *gofeed.Feed
	err := retry.Do(ctx, retry.Feeds, func() error {
		parsed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
				return retry.Permanent(err)
			}
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	limit := options.Limit
	if limit <= 0 || limit > len(feed.Items) {
		limit = len(feed.Items)
	}

	fetchedAt := core.NewUnixTime(f.now())
	items := make([]core.Item, 0, limit)
	for _, entry := range feed.Items[:limit] {
		description := entry.Description
		if description == "" {
			description = entry.Content
		}
		items = append(items, core.Item{
			Title:       entry.Title,
			Description: rss.HTMLToText(description),
			Link:        entry.Link,
			Published:   published(entry),
			Source:      feedURL,
			FetchedAt:   fetchedAt,
		})
	}
	return items, nil
}

func published(entry *gofeed.Item) string {
	if entry.Published != "" {
		return entry.Published
	}
	return entry.Updated
}
