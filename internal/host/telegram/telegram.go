// Package telegram runs the topic finder as a standalone Telegram bot host.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
)

const (
	Platform = "telegram"

	// MessageRetention bounds how long the message log keeps rows.
	MessageRetention = 7 * 24 * time.Hour

	// HandlerWorkers is the number of goroutines handling incoming
	// messages. A chat always maps to the same worker.
	HandlerWorkers = 4

	workerQueueSize = 32
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// HandlerFunc receives every incoming message before it is logged.
type HandlerFunc func(ctx context.Context, msg host.Message)

// Host implements the message, chat and send APIs on top of a Telegram bot
// and its SQLite store.
type Host struct {
	api    telegramAPI
	store  *Store
	logger  *slog.Logger
	now     func() time.Time
	workers int

	mu      sync.RWMutex
	streams map[string]host.Stream
}

// New connects to the Bot API with token.
func New(ctx context.Context, token string, store *Store, logger *slog.Logger) (*Host, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	core.DefaultLogger(logger).Info("telegram bot authorised", "username", api.Self.UserName)
	return newHost(ctx, api, store, logger)
}

func newHost(ctx context.Context, api telegramAPI, store *Store, logger *slog.Logger) (*Host, error) {
	h := &Host{
		api:     api,
		store:   store,
		logger:  core.DefaultLogger(logger).With("component", "telegram"),
		now:     time.Now,
		workers: HandlerWorkers,
		streams: map[string]host.Stream{},
	}
	streams, err := store.Streams(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		h.streams[s.ID] = s
	}
	return h, nil
}

// API bundles the host for the plugin. Models come from llm.
func (h *Host) API(llm host.LLMAPI, botConfigPath string) host.Host {
	return host.Host{Messages: h, Chats: h, Sender: h, LLM: llm, BotConfigPath: botConfigPath}
}

// Run long-polls for updates until ctx is cancelled. Messages are handled
// by a fixed pool of workers sharded by chat, so a slow handler only delays
// chats sharing its worker and messages of one chat stay in order. Each
// message registers its chat, is passed to handle and is then logged, so
// handle never sees the message it is processing in MessagesInRange. Run
// returns once in-flight handlers finish.
func (h *Host) Run(ctx context.Context, handle HandlerFunc) {
	if n, err := h.store.PruneMessages(ctx, h.now().Add(-MessageRetention)); err != nil {
		h.logger.Warn("prune message log failed", "error", err)
	} else if n > 0 {
		h.logger.Info("pruned message log", "rows", n)
	}

	queues := make([]chan *tgbotapi.Message, max(h.workers, 1))
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan *tgbotapi.Message, workerQueueSize)
		wg.Add(1)
		go func(queue <-chan *tgbotapi.Message) {
			defer wg.Done()
			for m := range queue {
				if ctx.Err() != nil {
					continue
				}
				h.handleMessage(ctx, m, handle)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			queue := queues[shard(update.Message.Chat.ID, len(queues))]
			select {
			case queue <- update.Message:
			case <-ctx.Done():
				h.api.StopReceivingUpdates()
				return
			}
		}
	}
}

func shard(chatID int64, n int) int {
	return int(uint64(chatID) % uint64(n))
}

func (h *Host) handleMessage(ctx context.Context, tgMsg *tgbotapi.Message, handle HandlerFunc) {
	stream, msg := convert(tgMsg)
	h.registerStream(ctx, stream)

	if handle != nil {
		handle(core.WithChatID(ctx, msg.ChatID), msg)
	}
	if err := h.store.RecordMessage(ctx, msg); err != nil {
		h.logger.Error("record message failed", "chat_id", msg.ChatID, "error", err)
	}
}

func convert(m *tgbotapi.Message) (host.Stream, host.Message) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	isGroup := m.Chat.IsGroup() || m.Chat.IsSuperGroup()

	stream := host.Stream{ID: chatID, IsGroup: isGroup, Platform: Platform, Name: m.Chat.Title}
	text := m.Text
	if m.IsCommand() {
		// Drop the @botname suffix Telegram adds to commands in groups.
		text = strings.TrimSpace("/" + m.Command() + " " + m.CommandArguments())
	}
	msg := host.Message{
		ChatID:    chatID,
		Text:      text,
		IsGroup:   isGroup,
		IsCommand: m.IsCommand(),
		At:        m.Time(),
	}
	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
		msg.FromBot = m.From.IsBot
	}
	if isGroup {
		stream.GroupID = chatID
		msg.GroupID = chatID
	} else {
		stream.UserID = msg.UserID
		if stream.Name == "" {
			stream.Name = m.Chat.UserName
		}
	}
	return stream, msg
}

func (h *Host) registerStream(ctx context.Context, stream host.Stream) {
	h.mu.Lock()
	prev, known := h.streams[stream.ID]
	h.streams[stream.ID] = stream
	h.mu.Unlock()
	if known && prev == stream {
		return
	}
	if err := h.store.UpsertStream(ctx, stream, h.now()); err != nil {
		h.logger.Error("store stream failed", "stream_id", stream.ID, "error", err)
		return
	}
	h.logger.Info("chat stream registered", "stream_id", stream.ID, "group", stream.IsGroup, "name", stream.Name)
}

func (h *Host) MessagesInRange(ctx context.Context, chatID string, start, end time.Time, q host.Query) ([]host.Message, error) {
	return h.store.MessagesInRange(ctx, chatID, start, end, q)
}

func (h *Host) Stream(id string) (host.Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[id]
	return s, ok
}

func (h *Host) StreamByGroupID(groupID string) (host.Stream, bool) {
	return h.find(func(s host.Stream) bool { return s.IsGroup && s.GroupID == groupID })
}

func (h *Host) StreamByUserID(userID string) (host.Stream, bool) {
	return h.find(func(s host.Stream) bool { return !s.IsGroup && s.UserID == userID })
}

func (h *Host) find(match func(host.Stream) bool) (host.Stream, bool) {
	for _, s := range h.AllStreams() {
		if match(s) {
			return s, true
		}
	}
	return host.Stream{}, false
}

func (h *Host) GroupStreams() []host.Stream {
	var out []host.Stream
	for _, s := range h.AllStreams() {
		if s.IsGroup {
			out = append(out, s)
		}
	}
	return out
}

// AllStreams returns known streams ordered by id.
func (h *Host) AllStreams() []host.Stream {
	h.mu.RLock()
	out := make([]host.Stream, 0, len(h.streams))
	for _, s := range h.streams {
		out = append(out, s)
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b host.Stream) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// TextToStream sends text to the chat behind streamID.
func (h *Host) TextToStream(ctx context.Context, streamID, text string, opts host.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(streamID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram stream id %q: %w", streamID, err)
	}
	if opts.Typing {
		if _, err := h.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			h.logger.Warn("typing action failed", "stream_id", streamID, "error", err)
		}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := h.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	if opts.Store {
		stream, _ := h.Stream(streamID)
		at := h.now()
		if sent.Date != 0 {
			at = sent.Time()
		}
		record := host.Message{ChatID: streamID, Text: text, IsGroup: stream.IsGroup, FromBot: true, At: at}
		if err := h.store.RecordMessage(ctx, record); err != nil {
			h.logger.Error("record sent message failed", "stream_id", streamID, "error", err)
		}
	}
	return nil
}
