package core

import (
	"encoding/json"
	"math"
	"time"
)

// Item is a single piece of source material (an RSS entry, a subreddit post or
// a web-info headline) as it is stored in the plugin's cache files.
type Item struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Link        string   `json:"link,omitempty"`
	Published   string   `json:"published,omitempty"`
	Source      string   `json:"source"`
	FetchedAt   UnixTime `json:"timestamp"`
}

// RecentTopic is one topic previously sent to a chat.
type RecentTopic struct {
	Content string   `json:"content"`
	SentAt  UnixTime `json:"ts"`
}

// UpdateMarker records when a cache was last refreshed.
type UpdateMarker struct {
	LastUpdate UnixTime `json:"last_update"`
}

// UnixTime is a time encoded as fractional Unix seconds in JSON, which keeps the
// cache files compatible with the ones written by earlier plugin releases.
type UnixTime struct {
	time.Time
}

func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{Time: t}
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("0"), nil
	}
	return json.Marshal(float64(u.UnixNano()) / 1e9)
}

func (u *UnixTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		u.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	if secs <= 0 {
		u.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	u.Time = time.Unix(int64(whole), int64(frac*1e9))
	return nil
}

// Age reports how long ago t was relative to now. A zero time is treated as
// infinitely old.
func (u UnixTime) Age(now time.Time) time.Duration {
	if u.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(u.Time)
}
