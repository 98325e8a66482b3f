package reddit

import (
	"context"

	"github.com/bakkerme/topic-finder/internal/core"
)

// Config describes the reddit fetch configuration.
type Config struct {
	Subreddits []string
	Limit      int
	Sort       string
	TimeFilter string
	MinScore   int
}

// Fetcher retrieves subreddit listings as cache items; each item's source is "reddit:r/<name>".
type Fetcher interface {
	Fetch(ctx context.Context, config Config) ([]core.Item, error)
}

// SourceName labels items fetched from a subreddit.
func SourceName(subreddit string) string {
	return "reddit:r/" + subreddit
}
