// Package memory is an in-process host used by tests and offline commands.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bakkerme/topic-finder/internal/host"
)

// SentMessage is a text delivered through TextToStream.
type SentMessage struct {
	StreamID string
	Text     string
	Options  host.SendOptions
}

// GenerateCall is one recorded model invocation.
type GenerateCall struct {
	Prompt  string
	Model   host.ModelConfig
	Options host.GenerateOptions
}

// Host implements every host API in memory. It is safe for concurrent use.
type Host struct {
	mu        sync.Mutex
	streams   []host.Stream
	messages  []host.Message
	sent      []SentMessage
	sendErr   error
	models    map[string]host.ModelConfig
	responses []string
	genErr    error
	calls     []GenerateCall
	now       func() time.Time
}

func New() *Host {
	return &Host{models: map[string]host.ModelConfig{}, now: time.Now}
}

// API bundles the host for a plugin.
func (h *Host) API(botConfigPath string) host.Host {
	return host.Host{Messages: h, Chats: h, Sender: h, LLM: h, BotConfigPath: botConfigPath}
}

// AddStream registers or replaces a stream.
func (h *Host) AddStream(s host.Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.streams {
		if h.streams[i].ID == s.ID {
			h.streams[i] = s
			return
		}
	}
	h.streams = append(h.streams, s)
}

// AddMessage appends a message to the log.
func (h *Host) AddMessage(m host.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

// SetModel exposes a model under name.
func (h *Host) SetModel(name string, cfg host.ModelConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cfg.Name == "" {
		cfg.Name = name
	}
	h.models[name] = cfg
}

// SetResponses queues model responses; the last one repeats.
func (h *Host) SetResponses(responses ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = slices.Clone(responses)
}

func (h *Host) SetGenerateError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.genErr = err
}

func (h *Host) SetSendError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

func (h *Host) MessagesInRange(ctx context.Context, chatID string, start, end time.Time, q host.Query) ([]host.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []host.Message
	for _, m := range h.messages {
		if m.ChatID != chatID || m.At.Before(start) || m.At.After(end) {
			continue
		}
		if (q.FilterBot && m.FromBot) || (q.FilterCommand && m.IsCommand) {
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b host.Message) int { return b.At.Compare(a.At) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (h *Host) Stream(id string) (host.Stream, bool) {
	return h.find(func(s host.Stream) bool { return s.ID == id })
}

func (h *Host) StreamByGroupID(groupID string) (host.Stream, bool) {
	return h.find(func(s host.Stream) bool { return s.IsGroup && s.GroupID == groupID })
}

func (h *Host) StreamByUserID(userID string) (host.Stream, bool) {
	return h.find(func(s host.Stream) bool { return !s.IsGroup && s.UserID == userID })
}

func (h *Host) find(match func(host.Stream) bool) (host.Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.streams {
		if match(s) {
			return s, true
		}
	}
	return host.Stream{}, false
}

func (h *Host) GroupStreams() []host.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []host.Stream
	for _, s := range h.streams {
		if s.IsGroup {
			out = append(out, s)
		}
	}
	return out
}

func (h *Host) AllStreams() []host.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.streams)
}

func (h *Host) TextToStream(ctx context.Context, streamID, text string, opts host.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, SentMessage{StreamID: streamID, Text: text, Options: opts})
	if opts.Store {
		h.messages = append(h.messages, host.Message{ChatID: streamID, Text: text, FromBot: true, At: h.now()})
	}
	return nil
}

// Sent returns the delivered messages in order.
func (h *Host) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sent)
}

func (h *Host) AvailableModels() map[string]host.ModelConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.models)
}

func (h *Host) Generate(ctx context.Context, prompt string, model host.ModelConfig, opts host.GenerateOptions) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, GenerateCall{Prompt: prompt, Model: model, Options: opts})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h.genErr != nil {
		return "", h.genErr
	}
	if len(h.responses) == 0 {
		return "", fmt.Errorf("memory host: no response queued")
	}
	response := h.responses[0]
	if len(h.responses) > 1 {
		h.responses = h.responses[1:]
	}
	return response, nil
}

// GenerateCalls returns the recorded model invocations.
func (h *Host) GenerateCalls() []GenerateCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}
