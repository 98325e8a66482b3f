package topic

import (
	"math/rand/v2"
	"strings"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
)

const (
	samplePerSource   = 2
	maxDescriptionLen = 150

	headerRSS = "RSS资讯:"
	headerWeb = "联网热点:"
)

// Strategy resolves combine_strategy; anything unrecognised merges both sources.
func Strategy(raw string) string {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case config.CombinePreferRSS, config.CombinePreferWeb:
		return s
	default:
		return config.CombineMerge
	}
}

// PrepareContent builds the material section of the topic prompt from a random
// sample of each permitted source. Titles already used by an earlier source are
// skipped.
func (g *Generator) PrepareContent(rss, web []core.Item) string {
	strategy := Strategy(g.cfg.TopicGeneration.CombineStrategy)
	seen := map[string]struct{}{}
	var lines []string

	if len(rss) > 0 && strategy != config.CombinePreferWeb {
		lines = g.appendSection(lines, headerRSS, rss, seen)
	}
	if len(web) > 0 && strategy != config.CombinePreferRSS {
		lines = g.appendSection(lines, headerWeb, web, seen)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (g *Generator) appendSection(lines []string, header string, items []core.Item, seen map[string]struct{}) []string {
	lines = append(lines, header)
	for _, item := range g.sample(items, samplePerSource) {
		if item.Title == "" {
			continue
		}
		key := Normalize(item.Title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, "- "+item.Title)
		if desc := truncateRunes(item.Description, maxDescriptionLen); desc != "" {
			lines = append(lines, "  "+desc)
		}
	}
	return append(lines, "")
}

// sample picks up to n distinct items in random order.
func (g *Generator) sample(items []core.Item, n int) []core.Item {
	n = min(n, len(items))
	out := make([]core.Item, 0, n)
	for _, i := range g.perm(len(items))[:n] {
		out = append(out, items[i])
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func defaultPerm(n int) []int { return rand.Perm(n) }
