package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/sources/rss"
)

type Fetcher struct {
	mu          sync.Mutex
	ItemsByFeed map[string][]core.Item
	ErrByFeed   map[string]error
	Requested   []string
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string, options rss.FetchOptions) ([]core.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requested = append(f.Requested, feedURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.ErrByFeed[feedURL]; ok {
		return nil, err
	}
	items := f.ItemsByFeed[feedURL]
	if options.Limit > 0 && len(items) > options.Limit {
		return items[:options.Limit], nil
	}
	return items, nil
}
