package reddit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goreddit "github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/retry"
	"github.com/bakkerme/topic-finder/internal/sources/rss"
)

const maxSelfTextRunes = 500

type RedditFetcher struct {
	client  *goreddit.Client
	initErr error
	logger  *slog.Logger
	now     func() time.Time
}

func NewFetcher(logger *slog.Logger, timeout time.Duration, env config.RedditEnvConfig, opts ...goreddit.Opt) Fetcher {
	logger = core.DefaultLogger(logger)
	userAgent := env.UserAgent
	if userAgent == "" {
		userAgent = "topic-finder/0.1"
	}

	options := append([]goreddit.Opt{
		goreddit.WithHTTPClient(&http.Client{Timeout: timeout}),
		goreddit.WithUserAgent(userAgent),
	}, opts...)

	var (
		client *goreddit.Client
		err    error
	)
	if env.ClientID != "" && env.ClientSecret != "" && env.Username != "" && env.Password != "" {
		logger.Info("using authenticated reddit client", slog.String("client_id", env.ClientID))
		client, err = goreddit.NewClient(goreddit.Credentials{
			ID:       env.ClientID,
			Secret:   env.ClientSecret,
			Username: env.Username,
			Password: env.Password,
		}, options...)
	} else {
		logger.Debug("using readonly reddit client")
		client, err = goreddit.NewReadonlyClient(options...)
	}

	return &RedditFetcher{client: client, initErr: err, logger: logger, now: time.Now}
}

// Fetch lists each subreddit separately so items keep their subreddit as source.
// A failing subreddit is logged and skipped; Fetch errors only when all fail.
func (f *RedditFetcher) Fetch(ctx context.Context, cfg Config) ([]core.Item, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	if len(cfg.Subreddits) == 0 {
		return nil, fmt.Errorf("no subreddits configured")
	}

	sort := strings.ToLower(cfg.Sort)
	if sort == "" {
		sort = "hot"
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}

	fetchedAt := core.NewUnixTime(f.now())
	var (
		items []core.Item
		errs  []error
	)
	for _, sub := range cfg.Subreddits {
		sub = strings.TrimPrefix(strings.TrimSpace(sub), "r/")
		if sub == "" {
			continue
		}
		posts, err := f.fetchPosts(ctx, sub, sort, limit, cfg.TimeFilter)
		if err != nil {
			f.logger.Warn("fetch subreddit failed", slog.String("subreddit", sub), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("r/%s: %w", sub, err))
			continue
		}
		for _, post := range posts {
			if post == nil || post.Title == "" {
				continue
			}
			if cfg.MinScore > 0 && post.Score < cfg.MinScore {
				continue
			}
			items = append(items, core.Item{
				Title:       post.Title,
				Description: truncate(rss.HTMLToText(post.Body), maxSelfTextRunes),
				Link:        canonicalRedditPostURL(post.Permalink),
				Published:   timestampString(post.Created),
				Source:      SourceName(sub),
				FetchedAt:   fetchedAt,
			})
		}
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func (f *RedditFetcher) fetchPosts(ctx context.Context, subreddit, sort string, limit int, timeFilter string) ([]*goreddit.Post, error) {
	var (
		posts []*goreddit.Post
		resp  *goreddit.Response
	)
	err := retry.Do(ctx, retry.Feeds, func() error {
		var err error
		switch sort {
		case "hot":
			posts, resp, err = f.client.Subreddit.HotPosts(ctx, subreddit, &goreddit.ListOptions{Limit: limit})
		case "new":
			posts, resp, err = f.client.Subreddit.NewPosts(ctx, subreddit, &goreddit.ListOptions{Limit: limit})
		case "rising":
			posts, resp, err = f.client.Subreddit.RisingPosts(ctx, subreddit, &goreddit.ListOptions{Limit: limit})
		case "top":
			posts, resp, err = f.client.Subreddit.TopPosts(ctx, subreddit, &goreddit.ListPostOptions{
				ListOptions: goreddit.ListOptions{Limit: limit},
				Time:        timeFilter,
			})
		default:
			return retry.Permanent(fmt.Errorf("unsupported reddit sort: %q", sort))
		}
		if err != nil {
			if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("reddit transient error: %w", err)
			}
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func canonicalRedditPostURL(permalink string) string {
	if permalink == "" {
		return ""
	}
	if strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	if strings.HasPrefix(permalink, "/") {
		return "https://www.reddit.com" + permalink
	}
	return "https://www.reddit.com/" + permalink
}

func timestampString(ts *goreddit.Timestamp) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC1123Z)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
