// Package host defines the chat-bot runtime APIs the topic plugin consumes.
package host

import (
	"context"
	"time"
)

// Message is an incoming chat message as seen by the plugin.
type Message struct {
	ChatID    string
	UserID    string
	GroupID   string
	Text      string
	IsGroup   bool
	FromBot   bool
	IsCommand bool
	At        time.Time
}

// Query narrows a time-ranged message lookup.
type Query struct {
	Limit         int
	FilterBot     bool
	FilterCommand bool
}

// MessageAPI looks up stored chat messages.
type MessageAPI interface {
	MessagesInRange(ctx context.Context, chatID string, start, end time.Time, q Query) ([]Message, error)
}

// Stream is a chat destination known to the host.
type Stream struct {
	ID       string
	GroupID  string
	UserID   string
	Name     string
	IsGroup  bool
	Platform string
}

// ChatAPI is the host's chat-stream registry.
type ChatAPI interface {
	Stream(id string) (Stream, bool)
	GroupStreams() []Stream
	AllStreams() []Stream
	StreamByGroupID(groupID string) (Stream, bool)
	StreamByUserID(userID string) (Stream, bool)
}

type SendOptions struct {
	Typing bool
	// Store records the sent text in the host's message log.
	Store bool
}

// SendAPI posts text to a stream.
type SendAPI interface {
	TextToStream(ctx context.Context, streamID, text string, opts SendOptions) error
}

// ModelConfig describes a model the host makes available to plugins.
type ModelConfig struct {
	Name        string
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

type GenerateOptions struct {
	RequestType string
	Temperature float64
	MaxTokens   int
}

// LLMAPI invokes host-managed language models.
type LLMAPI interface {
	AvailableModels() map[string]ModelConfig
	Generate(ctx context.Context, prompt string, model ModelConfig, opts GenerateOptions) (string, error)
}

// Host bundles the APIs handed to the plugin.
type Host struct {
	Messages MessageAPI
	Chats    ChatAPI
	Sender   SendAPI
	LLM      LLMAPI
	// BotConfigPath points at the host bot_config.toml holding the persona.
	BotConfigPath string
}

// ResolveStream finds the stream for a chat id, trying the stream id first,
// then a group id and finally a user id.
func ResolveStream(chats ChatAPI, chatID string) (Stream, bool) {
	if chats == nil {
		return Stream{}, false
	}
	if s, ok := chats.Stream(chatID); ok {
		return s, true
	}
	if s, ok := chats.StreamByGroupID(chatID); ok {
		return s, true
	}
	return chats.StreamByUserID(chatID)
}
