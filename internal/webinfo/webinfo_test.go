package webinfo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/llm"
	"github.com/bakkerme/topic-finder/internal/llm/mock"
)

type pair struct{ Title, Description string }

func pairs(items []core.Item) []pair {
	var out []pair
	for _, item := range items {
		out = append(out, pair{item.Title, item.Description})
	}
	return out
}

func TestParseBlocks(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	content := strings.Join([]string{
		"标题：新能源汽车销量创新高",
		"描述：十月销量同比增长三成",
		"",
		"标题:只有标题",
		"",
		"描述: 补上的描述",
		"---",
		"标题：第三条",
		"描述：没有结尾的空行",
	}, "\n")

	got := Parse(content, now)
	want := []pair{
		{"新能源汽车销量创新高", "十月销量同比增长三成"},
		{"只有标题", "补上的描述"},
		{"第三条", "没有结尾的空行"},
	}
	if diff := cmp.Diff(want, pairs(got)); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
	for _, item := range got {
		if item.Source != SourceTag || !item.FetchedAt.Equal(now) {
			t.Fatalf("unexpected item metadata: %+v", item)
		}
	}
}

func TestParseMarkdownReply(t *testing.T) {
	t.Parallel()

	content := "以下是今日热点：\n\n" +
		"1. **标题：** 某地发布新规\n   **描述：** 涉及 `电动车` 上路\n\n" +
		"2. **Title:** Go 1.24\n   **Description:** [release notes](https://go.dev)\n"

	want := []pair{
		{"某地发布新规", "涉及 电动车 上路"},
		{"Go 1.24", "release notes"},
	}
	if diff := cmp.Diff(want, pairs(Parse(content, time.Now()))); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnescapesText(t *testing.T) {
	t.Parallel()

	content := "标题：Tom &amp; Jerry 重映\n描述：snake\\_case 与 a\\*b &#20013;文\n"

	want := []pair{{"Tom & Jerry 重映", "snake_case 与 a*b 中文"}}
	if diff := cmp.Diff(want, pairs(Parse(content, time.Now()))); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNothingUseful(t *testing.T) {
	t.Parallel()

	if got := Parse("抱歉，我无法联网。", time.Now()); len(got) != 0 {
		t.Fatalf("expected no items, got %+v", got)
	}
}

func newTestManager(t *testing.T, client llm.Client, clock *time.Time) *Manager {
	t.Helper()
	doc := config.Default()
	doc.WebLLM.APIKey = "sk-real"
	doc.WebLLM.BaseURL = "https://llm.example/v1"
	m := NewManager(t.TempDir(), doc, func(baseURL, apiKey string, timeout time.Duration) llm.Client {
		if baseURL != "https://llm.example/v1" || apiKey != "sk-real" || timeout != 30*time.Second {
			t.Errorf("unexpected client settings: %s %s %v", baseURL, apiKey, timeout)
		}
		return client
	}, nil)
	m.now = func() time.Time { return *clock }
	return m
}

func TestGetFetchesThenServesCache(t *testing.T) {
	t.Parallel()

	clock := time.Date(2024, 3, 5, 9, 0, 0, 0, time.Local)
	client := &mock.Client{Responses: []llm.ChatResponse{{Content: "标题：A\n描述：B"}}}
	m := newTestManager(t, client, &clock)

	items := m.Get(context.Background())
	if diff := cmp.Diff([]pair{{"A", "B"}}, pairs(items)); diff != "" {
		t.Fatalf("Get mismatch:\n%s", diff)
	}
	call := client.Calls[0]
	if call.Model != "gpt-3.5-turbo" || call.Temperature != 0.8 || call.MaxTokens != 500 {
		t.Fatalf("unexpected request: %+v", call)
	}
	if !strings.Contains(call.Messages[0].Content, "2024年03月05日") {
		t.Fatalf("prompt missing date: %q", call.Messages[0].Content)
	}

	clock = clock.Add(30 * time.Minute)
	if got := m.Get(context.Background()); len(got) != 1 || client.CallCount() != 1 {
		t.Fatalf("expected cached result without a new call, got %v after %d calls", got, client.CallCount())
	}

	clock = clock.Add(31 * time.Minute)
	if !m.ShouldUpdate() {
		t.Fatalf("expected update to be due after the interval")
	}
}

func TestGetFallsBackToCacheOnError(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	client := &mock.Client{Responses: []llm.ChatResponse{{Content: "标题：A\n描述：B"}}}
	m := newTestManager(t, client, &clock)
	var failures int
	m.OnFetchError = func(string) { failures++ }

	if got := m.Get(context.Background()); len(got) != 1 {
		t.Fatalf("initial fetch failed: %v", got)
	}
	clock = clock.Add(61 * time.Minute)
	client.Err = errors.New("502")
	if got := m.Get(context.Background()); len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("expected cached fallback, got %v", got)
	}
	if failures != 1 {
		t.Fatalf("failures=%d", failures)
	}
}

func TestFetchSkipsWithoutCredentials(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	client := &mock.Client{}
	for _, key := range []string{"", config.PlaceholderAPIKey} {
		m := newTestManager(t, client, &clock)
		m.cfg.APIKey = key
		items, err := m.Fetch(context.Background())
		if err != nil || items != nil {
			t.Fatalf("key %q: items=%v err=%v", key, items, err)
		}
	}
	if client.CallCount() != 0 {
		t.Fatalf("model called without credentials")
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	client := &mock.Client{}
	m := newTestManager(t, client, &clock)
	m.cfg.Enabled = false
	if got := m.Get(context.Background()); got != nil || client.CallCount() != 0 {
		t.Fatalf("disabled manager returned %v", got)
	}
}

func TestRefreshIgnoresIntervalAndCaches(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	client := &mock.Client{Responses: []llm.ChatResponse{
		{Content: "标题：旧\n描述：第一次"},
		{Content: "标题：新\n描述：强制刷新"},
	}}
	m := newTestManager(t, client, &clock)

	if got := m.Get(context.Background()); len(got) != 1 || got[0].Title != "旧" {
		t.Fatalf("initial Get: %v", got)
	}
	items, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff([]pair{{"新", "强制刷新"}}, pairs(items)); diff != "" {
		t.Fatalf("Refresh mismatch:\n%s", diff)
	}
	if client.CallCount() != 2 {
		t.Fatalf("calls=%d, want 2", client.CallCount())
	}
	if diff := cmp.Diff([]pair{{"新", "强制刷新"}}, pairs(m.CachedInfo())); diff != "" {
		t.Fatalf("refreshed items not cached:\n%s", diff)
	}

	client.Err = errors.New("502")
	var failures int
	m.OnFetchError = func(string) { failures++ }
	if _, err := m.Refresh(context.Background()); err == nil || failures != 1 {
		t.Fatalf("Refresh error=%v failures=%d", err, failures)
	}
	if got := m.CachedInfo(); len(got) != 1 || got[0].Title != "新" {
		t.Fatalf("failed refresh touched the cache: %v", got)
	}
}

func TestConcurrentGetFetchesOnce(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	client := &mock.Client{Responses: []llm.ChatResponse{{Content: "标题：A\n描述：B"}}}
	m := newTestManager(t, client, &clock)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := m.Get(context.Background()); len(got) != 1 {
				t.Errorf("Get=%v", got)
			}
		}()
	}
	wg.Wait()
	if client.CallCount() != 1 {
		t.Fatalf("calls=%d, want 1", client.CallCount())
	}
}
