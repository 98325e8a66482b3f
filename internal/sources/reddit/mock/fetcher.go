package mock

import (
	"context"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/sources/reddit"
)

type Fetcher struct {
	Items   []core.Item
	Err     error
	Configs []reddit.Config
}

func (f *Fetcher) Fetch(ctx context.Context, config reddit.Config) ([]core.Item, error) {
	f.Configs = append(f.Configs, config)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Items, nil
}
