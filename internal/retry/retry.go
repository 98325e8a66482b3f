package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

type Config struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

// Feeds is the policy used for feed and subreddit fetches.
var Feeds = Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 100 * time.Millisecond
	}
	return c
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. Delays grow exponentially with random jitter, capped at MaxDelay.
func Do(ctx context.Context, config Config, fn func() error) error {
	config = config.withDefaults()

	var lastErr error
	delay := config.BaseDelay
	for attempt := 0; attempt < config.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == config.Attempts-1 {
			break
		}

		sleep := min(delay+rand.N(config.Jitter), config.MaxDelay)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, config.MaxDelay)
	}
	return fmt.Errorf("retry failed after %d attempts: %w", config.Attempts, lastErr)
}
