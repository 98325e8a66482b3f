package plugin

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/host/memory"
	"github.com/bakkerme/topic-finder/internal/topic"
)

type stubFeeds struct {
	enabled bool
	items   []core.Item
	calls   atomic.Int32
}

func (s *stubFeeds) Enabled() bool { return s.enabled }

func (s *stubFeeds) Items(context.Context) []core.Item {
	s.calls.Add(1)
	return s.items
}

type stubWeb struct {
	enabled bool
	items   []core.Item
	panics  bool
	calls   atomic.Int32
}

func (s *stubWeb) Enabled() bool { return s.enabled }

func (s *stubWeb) Get(context.Context) []core.Item {
	s.calls.Add(1)
	if s.panics {
		panic("web model exploded")
	}
	return s.items
}

var testClock = time.Date(2024, 5, 6, 10, 3, 0, 0, time.Local)

func testConfig() *config.Document {
	cfg := config.Default()
	cfg.TopicGeneration.FallbackTopics = []string{"兜底话题"}
	return cfg
}

func newTestPlugin(t *testing.T, cfg *config.Document, h *memory.Host, feeds FeedSource, web WebSource) *Plugin {
	t.Helper()
	h.SetModel("replyer", host.ModelConfig{Provider: "openai", Model: "gpt-4o-mini"})
	p, err := New(Options{
		Config:     cfg,
		Host:       h.API(""),
		DataDir:    t.TempDir(),
		Feeds:      feeds,
		Web:        web,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.now = func() time.Time { return testClock }
	t.Cleanup(p.Close)
	return p
}

func sentTexts(h *memory.Host) []string {
	var out []string
	for _, m := range h.Sent() {
		out = append(out, m.Text)
	}
	return out
}

func TestGenerateTopicContentWithoutSourcesSkipsModel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RSS.Enabled = false
	cfg.WebLLM.Enabled = false
	h := memory.New()
	h.SetResponses("不应被调用")
	p := newTestPlugin(t, cfg, h, &stubFeeds{enabled: false}, &stubWeb{enabled: false})

	if got := p.GenerateTopicContent(context.Background()); got != "兜底话题" {
		t.Fatalf("expected fallback topic, got %q", got)
	}
	if calls := h.GenerateCalls(); len(calls) != 0 {
		t.Fatalf("model invoked %d times", len(calls))
	}
	if got := testutil.ToFloat64(p.Metrics().FallbacksUsed.WithLabelValues(FallbackNoSources)); got != 1 {
		t.Fatalf("no-source fallbacks=%v", got)
	}
}

func TestGeneratorFallbacksAreCounted(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.SetGenerateError(errors.New("model down"))
	p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "RSS 新闻"}}}, &stubWeb{enabled: false})

	if got := p.GenerateTopicContent(context.Background()); got != "兜底话题" {
		t.Fatalf("expected fallback topic, got %q", got)
	}
	if got := testutil.ToFloat64(p.Metrics().FallbacksUsed.WithLabelValues(topic.FallbackModelError)); got != 1 {
		t.Fatalf("model error fallbacks=%v", got)
	}
}

func TestGenerateTopicContentUsesBothSources(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.SetResponses("  最近大家关注 AI 手机吗？  ")
	feeds := &stubFeeds{enabled: true, items: []core.Item{{Title: "RSS 新闻", Description: "来自订阅"}}}
	web := &stubWeb{enabled: true, items: []core.Item{{Title: "网络热点", Description: "来自联网"}}}
	p := newTestPlugin(t, testConfig(), h, feeds, web)

	got := p.GenerateTopicContent(context.Background())
	if got != "最近大家关注 AI 手机吗？" {
		t.Fatalf("unexpected topic %q", got)
	}
	if feeds.calls.Load() != 1 || web.calls.Load() != 1 {
		t.Fatalf("expected one fetch per source, got rss=%d web=%d", feeds.calls.Load(), web.calls.Load())
	}
	prompt := h.GenerateCalls()[0].Prompt
	for _, want := range []string{"RSS资讯:", "- RSS 新闻", "联网热点:", "- 网络热点"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateTopicContentSourcePanicDegrades(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.SetResponses("聊聊订阅里的新闻")
	feeds := &stubFeeds{enabled: true, items: []core.Item{{Title: "RSS 新闻"}}}
	p := newTestPlugin(t, testConfig(), h, feeds, &stubWeb{enabled: true, panics: true})

	if got := p.GenerateTopicContent(context.Background()); got != "聊聊订阅里的新闻" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := testutil.ToFloat64(p.Metrics().FetchErrors.WithLabelValues("web_llm")); got != 1 {
		t.Fatalf("fetch errors=%v", got)
	}
}

func TestSendTopicToChatThrottlesAndRecords(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.AddStream(host.Stream{ID: "s1", GroupID: "g1", IsGroup: true})
	h.SetResponses("话题一", "话题二")
	p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)

	ctx := context.Background()
	if err := p.SendTopicToChat(ctx, "g1", ""); err != nil {
		t.Fatalf("SendTopicToChat: %v", err)
	}
	if err := p.SendTopicToChat(ctx, "g1", ""); err != nil {
		t.Fatalf("throttled send returned error: %v", err)
	}

	sent := h.Sent()
	if len(sent) != 1 || sent[0].StreamID != "s1" || sent[0].Text != "话题一" {
		t.Fatalf("unexpected sends: %+v", sent)
	}
	if sent[0].Options != (host.SendOptions{Typing: false, Store: true}) {
		t.Fatalf("unexpected send options: %+v", sent[0].Options)
	}
	if !p.recent.IsDuplicate("g1", "话题一", testClock) {
		t.Fatalf("recent topic not recorded")
	}
	if got := testutil.ToFloat64(p.Metrics().TopicsSent.WithLabelValues(ReasonDefault)); got != 1 {
		t.Fatalf("topics sent=%v", got)
	}

	p.now = func() time.Time { return testClock.Add(2 * time.Hour) }
	if err := p.SendTopicToChat(ctx, "g1", ""); err != nil {
		t.Fatalf("SendTopicToChat after interval: %v", err)
	}
	if diff := cmp.Diff([]string{"话题一", "话题二"}, sentTexts(h)); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestSendTopicToChatRetriesDuplicateOnce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		responses []string
		want      string
		fallbacks float64
	}{
		{name: "retry succeeds", responses: []string{"老话题！", "新话题"}, want: "新话题"},
		{name: "retry duplicates too", responses: []string{"老话题", "老 话题"}, want: "兜底话题", fallbacks: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := memory.New()
			h.AddStream(host.Stream{ID: "g1", IsGroup: true})
			h.SetResponses(tc.responses...)
			p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
			if err := p.recent.Record("g1", "老话题", testClock.Add(-time.Hour)); err != nil {
				t.Fatalf("Record: %v", err)
			}

			if err := p.SendTopicToChat(context.Background(), "g1", ReasonSilence); err != nil {
				t.Fatalf("SendTopicToChat: %v", err)
			}
			if diff := cmp.Diff([]string{tc.want}, sentTexts(h)); diff != "" {
				t.Fatalf("sent mismatch (-want +got):\n%s", diff)
			}
			if len(h.GenerateCalls()) != 2 {
				t.Fatalf("expected exactly one retry, got %d calls", len(h.GenerateCalls()))
			}
			if got := testutil.ToFloat64(p.Metrics().DuplicatesDetected); got != 1 {
				t.Fatalf("duplicates=%v", got)
			}
			if got := testutil.ToFloat64(p.Metrics().FallbacksUsed.WithLabelValues(FallbackDuplicate)); got != tc.fallbacks {
				t.Fatalf("duplicate fallbacks=%v, want %v", got, tc.fallbacks)
			}
		})
	}
}

func TestSendTopicToChatResolvesStreams(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.AddStream(host.Stream{ID: "stream-group", GroupID: "1001", IsGroup: true})
	h.AddStream(host.Stream{ID: "stream-user", UserID: "42"})
	h.SetResponses("你好")
	p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
	ctx := context.Background()

	for _, chatID := range []string{"1001", "42"} {
		if err := p.SendTopicToChat(ctx, chatID, ""); err != nil {
			t.Fatalf("SendTopicToChat(%s): %v", chatID, err)
		}
	}
	var streams []string
	for _, m := range h.Sent() {
		streams = append(streams, m.StreamID)
	}
	if diff := cmp.Diff([]string{"stream-group", "stream-user"}, streams); diff != "" {
		t.Fatalf("stream mismatch (-want +got):\n%s", diff)
	}

	err := p.SendTopicToChat(ctx, "missing", "")
	if !errors.Is(err, ErrNoStream) {
		t.Fatalf("expected ErrNoStream, got %v", err)
	}
	if _, ok := p.sendThrottle.Last("missing"); ok {
		t.Fatalf("unsent chat should not be throttled")
	}
}

func TestSendScheduledTopicsTargets(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Filtering.ExcludeGroups = []string{"g2"}
	start, end := 20, 22
	cfg.GroupOverrides = map[string]config.GroupOverride{"g3": {ActiveHoursStart: &start, ActiveHoursEnd: &end}}

	h := memory.New()
	for _, s := range []host.Stream{
		{ID: "g1", IsGroup: true},
		{ID: "g2", IsGroup: true},
		{ID: "g3", IsGroup: true},
		{ID: "u1", UserID: "u1"},
	} {
		h.AddStream(s)
	}
	h.SetResponses("定时话题")
	p := newTestPlugin(t, cfg, h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)

	p.SendScheduledTopics(context.Background(), testClock)
	var streams []string
	for _, m := range h.Sent() {
		streams = append(streams, m.StreamID)
	}
	if diff := cmp.Diff([]string{"g1"}, streams); diff != "" {
		t.Fatalf("scheduled targets mismatch (-want +got):\n%s", diff)
	}
}

func TestSendScheduledTopicsExplicitTargetsAndAllStreams(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.AddStream(host.Stream{ID: "g1", IsGroup: true})
	h.AddStream(host.Stream{ID: "u1", UserID: "u1"})
	h.SetResponses("话题")

	cfg := testConfig()
	cfg.Filtering.GroupOnly = false
	p := newTestPlugin(t, cfg, h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
	if diff := cmp.Diff([]string{"g1", "u1"}, p.scheduledTargets()); diff != "" {
		t.Fatalf("all-stream targets mismatch:\n%s", diff)
	}

	cfg = testConfig()
	cfg.Filtering.TargetGroups = []string{"u1", "g9"}
	p = newTestPlugin(t, cfg, h, nil, nil)
	if diff := cmp.Diff([]string{"u1", "g9"}, p.scheduledTargets()); diff != "" {
		t.Fatalf("explicit targets mismatch:\n%s", diff)
	}
}

func TestCheckScheduledTopicsFiresOncePerSlot(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Schedule.DailyTimes = []string{"10:00", "bogus"}
	cfg.Schedule.MinIntervalHours = 0
	h := memory.New()
	h.AddStream(host.Stream{ID: "g1", IsGroup: true})
	h.SetResponses("话题一", "话题二")
	p := newTestPlugin(t, cfg, h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
	ctx := context.Background()

	p.CheckScheduledTopics(ctx, testClock)
	p.CheckScheduledTopics(ctx, testClock.Add(2*time.Minute))
	p.CheckScheduledTopics(ctx, testClock.Add(3*time.Hour))

	if got := len(h.Sent()); got != 1 {
		t.Fatalf("expected one scheduled send, got %d", got)
	}
	if got := testutil.ToFloat64(p.Metrics().ScheduledSlotsFired); got != 1 {
		t.Fatalf("slots fired=%v", got)
	}

	cfg.Schedule.EnableDailySchedule = false
	p.CheckScheduledTopics(ctx, testClock.Add(24*time.Hour))
	if got := len(h.Sent()); got != 1 {
		t.Fatalf("disabled schedule sent a topic")
	}
}

func TestSilenceDetector(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.AddStream(host.Stream{ID: "g1", IsGroup: true})
	h.AddStream(host.Stream{ID: "g2", IsGroup: true})
	h.AddMessage(host.Message{ChatID: "g2", Text: "有人说话", IsGroup: true, At: testClock.Add(-10 * time.Minute)})
	h.AddMessage(host.Message{ChatID: "g1", Text: "/topic_test", IsCommand: true, At: testClock.Add(-5 * time.Minute)})
	h.SetResponses("静默话题")
	p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
	ctx := context.Background()

	for _, msg := range []*host.Message{
		nil,
		{ChatID: "", IsGroup: true},
		{ChatID: "u1", IsGroup: false},
		{ChatID: "g2", IsGroup: true},
		{ChatID: "g1", IsGroup: true},
		{ChatID: "g1", IsGroup: true},
	} {
		res := p.SilenceDetector(ctx, msg)
		if !res.OK || res.Intercept {
			t.Fatalf("silence detector must pass messages through, got %+v", res)
		}
	}

	sent := h.Sent()
	if len(sent) != 1 || sent[0].StreamID != "g1" || sent[0].Text != "静默话题" {
		t.Fatalf("unexpected sends: %+v", sent)
	}
	if got := testutil.ToFloat64(p.Metrics().TopicsSent.WithLabelValues(ReasonSilence)); got != 1 {
		t.Fatalf("silence sends=%v", got)
	}
}

func TestSilenceDetectorOutsideActiveHours(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SilenceDetection.ActiveHoursStart = 22
	cfg.SilenceDetection.ActiveHoursEnd = 6
	h := memory.New()
	h.AddStream(host.Stream{ID: "g1", IsGroup: true})
	h.SetResponses("夜间话题")
	p := newTestPlugin(t, cfg, h, nil, nil)

	p.SilenceDetector(context.Background(), &host.Message{ChatID: "g1", IsGroup: true})
	if len(h.Sent()) != 0 {
		t.Fatalf("sent outside active hours")
	}
	if _, checked := p.checkThrottle.Last("g1"); checked {
		t.Fatalf("check time recorded outside active hours")
	}
}

func TestStartTopicAction(t *testing.T) {
	t.Parallel()

	h := memory.New()
	h.AddStream(host.Stream{ID: "g1", IsGroup: true})
	h.SetResponses("生成的话题")
	p := newTestPlugin(t, testConfig(), h, &stubFeeds{enabled: true, items: []core.Item{{Title: "x"}}}, nil)
	ctx := context.Background()

	ok, status := p.StartTopicAction(ctx, ActionInput{ChatID: "g1", TopicContent: "指定话题", Reason: "气氛沉闷"})
	if !ok || status != "发起了话题: 气氛沉闷" {
		t.Fatalf("unexpected result %v %q", ok, status)
	}
	ok, status = p.StartTopicAction(ctx, ActionInput{ChatID: "g1"})
	if !ok || status != "发起了话题: 发起话题" {
		t.Fatalf("unexpected result %v %q", ok, status)
	}
	if diff := cmp.Diff([]string{"指定话题", "生成的话题"}, sentTexts(h)); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}

	ok, status = p.StartTopicAction(ctx, ActionInput{ChatID: "nowhere", TopicContent: "x"})
	if ok || !strings.HasPrefix(status, "发起话题失败: ") {
		t.Fatalf("expected failure, got %v %q", ok, status)
	}
}
