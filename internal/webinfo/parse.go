package webinfo

import (
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/bakkerme/topic-finder/internal/core"
)

// SourceTag marks items produced by the web model.
const SourceTag = "web_llm"

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

	titleLabels       = []string{"标题：", "标题:", "title:", "title："}
	descriptionLabels = []string{"描述：", "描述:", "description:", "description："}
)

// Parse extracts headline items from a model reply. The reply is flattened from
// markdown to plain lines; a blank line or "---" closes the current block, and a
// block becomes an item once it has both a title and a description line.
func Parse(content string, now time.Time) []core.Item {
	fetchedAt := core.NewUnixTime(now)
	var (
		items []core.Item
		cur   core.Item
	)
	flush := func() {
		if cur.Title != "" && cur.Description != "" {
			cur.Source = SourceTag
			cur.FetchedAt = fetchedAt
			items = append(items, cur)
			cur = core.Item{}
		}
	}

	for _, line := range strings.Split(flattenMarkdown(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "---" {
			flush()
			continue
		}
		if v, ok := cutLabel(line, titleLabels); ok {
			cur.Title = v
		} else if v, ok := cutLabel(line, descriptionLabels); ok {
			cur.Description = v
		}
	}
	flush()
	return items
}

func cutLabel(line string, labels []string) (string, bool) {
	lower := strings.ToLower(line)
	for _, label := range labels {
		if strings.HasPrefix(lower, label) {
			return strings.TrimSpace(line[len(label):]), true
		}
	}
	return "", false
}

// flattenMarkdown renders markdown to plain text, one block per line group,
// with blank lines between blocks and "---" for thematic breaks.
func flattenMarkdown(content string) string {
	src := []byte(strings.TrimSpace(content))
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(unescapeText(node.Segment.Value(src)))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			if entering {
				b.WriteString("\n---\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.TextBlock, *ast.ListItem:
			if !entering {
				b.WriteString("\n")
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// unescapeText resolves entity references and backslash escapes left in a
// text segment, as the HTML renderer would.
func unescapeText(v []byte) []byte {
	v = util.ResolveNumericReferences(v)
	v = util.ResolveEntityNames(v)
	return util.UnescapePunctuations(v)
}
