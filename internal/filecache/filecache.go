// Package filecache persists the plugin's JSON cache files and update markers.
package filecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/topic-finder/internal/core"
)

// Save writes v as indented JSON, creating the parent directory if needed.
// The file is replaced atomically so readers never see a partial write.
func Save(path string, v any) error {
	if path == "" {
		return fmt.Errorf("cache path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Load decodes the JSON file at path into v.
func Load(path string, v any) error {
	if path == "" {
		return fmt.Errorf("cache path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal cache: %w", err)
	}
	return nil
}

// WriteMarker records now as the last update time.
func WriteMarker(path string, now time.Time) error {
	return Save(path, core.UpdateMarker{LastUpdate: core.NewUnixTime(now)})
}

// ReadMarker returns the last update time stored at path.
func ReadMarker(path string) (time.Time, error) {
	var marker core.UpdateMarker
	if err := Load(path, &marker); err != nil {
		return time.Time{}, err
	}
	return marker.LastUpdate.Time, nil
}

// Due reports whether a cache guarded by the marker at markerPath needs a
// refresh: a missing or unreadable marker is always due, otherwise the marker
// must be older than interval.
func Due(markerPath string, interval time.Duration, now time.Time) bool {
	last, err := ReadMarker(markerPath)
	if err != nil || last.IsZero() {
		return true
	}
	return now.Sub(last) > interval
}

// SaveItems writes items and then the marker.
func SaveItems(path, markerPath string, items []core.Item, now time.Time) error {
	if items == nil {
		items = []core.Item{}
	}
	if err := Save(path, items); err != nil {
		return err
	}
	return WriteMarker(markerPath, now)
}

// FreshItems reads the item cache and keeps entries younger than maxAge.
// Any read failure yields an empty result.
func FreshItems(path string, maxAge time.Duration, now time.Time) []core.Item {
	var items []core.Item
	if err := Load(path, &items); err != nil {
		return nil
	}
	fresh := make([]core.Item, 0, len(items))
	for _, item := range items {
		if item.FetchedAt.Age(now) < maxAge {
			fresh = append(fresh, item)
		}
	}
	return fresh
}
