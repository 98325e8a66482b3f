package llm

import (
	"context"
	"strings"
)

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Message struct {
	Role    MessageRole
	Content string
}

type ChatRequest struct {
	Model    string
	Messages []Message
	// Temperature and MaxTokens are left to the provider default when zero.
	Temperature float64
	MaxTokens   int
	// RequestType labels the call in traces and logs ("topic.generate", "web_info.fetch").
	RequestType string
}

type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string
}

type Client interface {
	ChatCompletion(ctx context.Context, request ChatRequest) (ChatResponse, error)
}

// UserPrompt wraps a single prompt into a message list.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}

// SplitSystem separates system messages from the conversation, joining them
// with blank lines. Providers that take the system prompt out of band use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
