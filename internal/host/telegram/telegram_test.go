package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/bakkerme/topic-finder/internal/host"
)

type mockAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	actions []tgbotapi.ChatActionConfig
	sendErr error
	updates tgbotapi.UpdatesChannel
	stopped bool
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action, ok := c.(tgbotapi.ChatActionConfig); ok {
		m.actions = append(m.actions, action)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "db", "messages.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestHost(t *testing.T, store *Store) (*Host, *mockAPI) {
	t.Helper()
	api := &mockAPI{updates: make(tgbotapi.UpdatesChannel, 8)}
	h, err := newHost(context.Background(), api, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newHost: %v", err)
	}
	return h, api
}

func groupMessage(chatID int64, text string, at time.Time) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		Date:      int(at.Unix()),
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup", Title: "闲聊群"},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return msg
}

func TestStoreMessagesInRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	base := time.Unix(1_700_000_000, 0)
	for _, msg := range []host.Message{
		{ChatID: "-1", UserID: "7", Text: "早", IsGroup: true, At: base},
		{ChatID: "-1", UserID: "7", Text: "/topic_test", IsGroup: true, IsCommand: true, At: base.Add(time.Minute)},
		{ChatID: "-1", Text: "机器人", IsGroup: true, FromBot: true, At: base.Add(2 * time.Minute)},
		{ChatID: "-2", UserID: "8", Text: "别的群", IsGroup: true, At: base.Add(time.Minute)},
	} {
		if err := store.RecordMessage(ctx, msg); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}

	texts := func(msgs []host.Message) []string {
		var out []string
		for _, m := range msgs {
			out = append(out, m.Text)
		}
		return out
	}

	all, err := store.MessagesInRange(ctx, "-1", base, base.Add(time.Hour), host.Query{})
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	if diff := cmp.Diff([]string{"机器人", "/topic_test", "早"}, texts(all)); diff != "" {
		t.Fatalf("all messages mismatch (-want +got):\n%s", diff)
	}
	if !all[1].IsCommand || !all[0].FromBot || !all[2].At.Equal(base) {
		t.Fatalf("flags not round-tripped: %+v", all)
	}

	human, err := store.MessagesInRange(ctx, "-1", base, base.Add(time.Hour), host.Query{Limit: 1, FilterBot: true, FilterCommand: true})
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	if diff := cmp.Diff([]string{"早"}, texts(human)); diff != "" {
		t.Fatalf("filtered messages mismatch (-want +got):\n%s", diff)
	}

	none, err := store.MessagesInRange(ctx, "-1", base.Add(30*time.Second), base.Add(50*time.Second), host.Query{})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty range, got %v %v", none, err)
	}

	n, err := store.PruneMessages(ctx, base.Add(90*time.Second))
	if err != nil || n != 3 {
		t.Fatalf("PruneMessages=%d, %v", n, err)
	}
}

func TestStreamsPersistAcrossHosts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	h, _ := newTestHost(t, store)
	h.handleMessage(context.Background(), groupMessage(-100, "hi", time.Now()), nil)

	private := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Date: int(time.Now().Unix()),
		Chat: &tgbotapi.Chat{ID: 42, Type: "private", UserName: "bob"},
		Text: "hello",
	}
	h.handleMessage(context.Background(), private, nil)

	reopened, _ := newTestHost(t, store)
	want := []host.Stream{
		{ID: "-100", GroupID: "-100", Name: "闲聊群", IsGroup: true, Platform: Platform},
		{ID: "42", UserID: "42", Name: "bob", Platform: Platform},
	}
	if diff := cmp.Diff(want, reopened.AllStreams()); diff != "" {
		t.Fatalf("streams mismatch (-want +got):\n%s", diff)
	}
	if s, ok := reopened.StreamByGroupID("-100"); !ok || s.ID != "-100" {
		t.Fatalf("StreamByGroupID failed: %+v %v", s, ok)
	}
	if s, ok := reopened.StreamByUserID("42"); !ok || s.ID != "42" {
		t.Fatalf("StreamByUserID failed: %+v %v", s, ok)
	}
	if groups := reopened.GroupStreams(); len(groups) != 1 || groups[0].ID != "-100" {
		t.Fatalf("GroupStreams=%+v", groups)
	}
}

func TestRunDispatchesBeforeLogging(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	h, api := newTestHost(t, store)
	now := time.Now().Truncate(time.Second)

	type seen struct {
		msg   host.Message
		prior int
	}
	got := make(chan seen, 2)
	handle := func(ctx context.Context, msg host.Message) {
		prior, err := h.MessagesInRange(ctx, msg.ChatID, now.Add(-time.Hour), now.Add(time.Hour), host.Query{})
		if err != nil {
			t.Errorf("MessagesInRange: %v", err)
		}
		got <- seen{msg: msg, prior: len(prior)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, handle)
		close(done)
	}()

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: groupMessage(-100, "/topic_test", now)}
	api.updates <- tgbotapi.Update{UpdateID: 2}
	api.updates <- tgbotapi.Update{UpdateID: 3, Message: groupMessage(-100, "在吗", now)}

	first, second := <-got, <-got
	cancel()
	<-done

	if !first.msg.IsCommand || !first.msg.IsGroup || first.msg.UserID != "7" || first.prior != 0 {
		t.Fatalf("unexpected first dispatch: %+v", first)
	}
	if second.msg.IsCommand || second.prior != 1 {
		t.Fatalf("unexpected second dispatch: %+v", second)
	}
	api.mu.Lock()
	stopped := api.stopped
	api.mu.Unlock()
	if !stopped {
		t.Fatalf("updates not stopped on cancel")
	}
}

func TestRunSlowChatDoesNotBlockOtherChats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	h, api := newTestHost(t, store)
	now := time.Now().Truncate(time.Second)
	if shard(-100, h.workers) == shard(-101, h.workers) {
		t.Fatalf("test chats share a worker")
	}

	release := make(chan struct{})
	handled := make(chan string, 2)
	handle := func(ctx context.Context, msg host.Message) {
		if msg.ChatID == "-100" {
			<-release
		}
		handled <- msg.ChatID
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, handle)
		close(done)
	}()

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: groupMessage(-100, "慢", now)}
	api.updates <- tgbotapi.Update{UpdateID: 2, Message: groupMessage(-101, "快", now)}

	select {
	case got := <-handled:
		if got != "-101" {
			t.Fatalf("handled %s first", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second chat blocked behind slow handler")
	}

	close(release)
	if got := <-handled; got != "-100" {
		t.Fatalf("handled %s, want -100", got)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestShardIsStablePerChat(t *testing.T) {
	t.Parallel()

	for _, id := range []int64{-1001234567890, -100, 0, 42} {
		first := shard(id, HandlerWorkers)
		if first < 0 || first >= HandlerWorkers {
			t.Fatalf("shard(%d)=%d out of range", id, first)
		}
		if again := shard(id, HandlerWorkers); again != first {
			t.Fatalf("shard(%d) changed: %d then %d", id, first, again)
		}
	}
}

func TestTextToStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h, api := newTestHost(t, store)
	h.handleMessage(ctx, groupMessage(-100, "hi", time.Now()), nil)

	if err := h.TextToStream(ctx, "-100", "来聊聊", host.SendOptions{Typing: true, Store: true}); err != nil {
		t.Fatalf("TextToStream: %v", err)
	}
	if len(api.sent) != 1 || api.sent[0].ChatID != -100 || api.sent[0].Text != "来聊聊" {
		t.Fatalf("unexpected sends: %+v", api.sent)
	}
	if len(api.actions) != 1 || api.actions[0].Action != tgbotapi.ChatTyping {
		t.Fatalf("typing action not sent: %+v", api.actions)
	}

	msgs, err := store.MessagesInRange(ctx, "-100", time.Now().Add(-time.Minute), time.Now().Add(time.Minute), host.Query{FilterBot: true})
	if err != nil || len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("bot message leaked into human query: %+v %v", msgs, err)
	}
	msgs, _ = store.MessagesInRange(ctx, "-100", time.Now().Add(-time.Minute), time.Now().Add(time.Minute), host.Query{})
	if len(msgs) != 2 {
		t.Fatalf("stored bot message missing: %+v", msgs)
	}

	if err := h.TextToStream(ctx, "not-a-chat", "x", host.SendOptions{}); err == nil {
		t.Fatalf("expected invalid stream id error")
	}
	api.sendErr = errors.New("forbidden")
	if err := h.TextToStream(ctx, "-100", "x", host.SendOptions{}); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestConvertStripsBotMention(t *testing.T) {
	t.Parallel()

	now := time.Unix(1714960000, 0)
	stream, msg := convert(groupMessage(-100, "/topic_test@topicbot", now))
	if msg.Text != "/topic_test" || !msg.IsCommand {
		t.Fatalf("unexpected command text %q (command=%v)", msg.Text, msg.IsCommand)
	}
	if !stream.IsGroup || stream.GroupID != "-100" || stream.Name != "闲聊群" {
		t.Fatalf("unexpected stream: %+v", stream)
	}
}
