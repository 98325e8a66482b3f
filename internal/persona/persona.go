// Package persona reads the bot personality from the host's bot_config.toml.
package persona

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/bakkerme/topic-finder/internal/core"
)

type botConfig struct {
	Personality struct {
		Personality string `toml:"personality"`
		ReplyStyle  string `toml:"reply_style"`
	} `toml:"personality"`
}

// Loader reads the persona once and caches the first successful result.
type Loader struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cached *string
}

func NewLoader(path string, logger *slog.Logger) *Loader {
	return &Loader{path: path, logger: core.DefaultLogger(logger)}
}

// Get returns the persona text, or "" when the file is missing or unreadable.
func (l *Loader) Get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil {
		return *l.cached
	}
	if l.path == "" {
		return ""
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("read bot config failed", "path", l.path, "error", err)
		}
		return ""
	}
	var cfg botConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		l.logger.Warn("parse bot config failed", "path", l.path, "error", err)
		return ""
	}

	text := Format(cfg.Personality.Personality, cfg.Personality.ReplyStyle)
	l.cached = &text
	return text
}

// Format joins the personality with its reply style.
func Format(personality, replyStyle string) string {
	text := strings.TrimSpace(personality)
	if style := strings.TrimSpace(replyStyle); style != "" {
		text += "。说话风格：" + style
	}
	return text
}
