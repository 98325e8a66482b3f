package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/llm"
)

// defaultMaxTokens is used when a request leaves MaxTokens unset; the Messages API requires it.
const defaultMaxTokens = 1024

type Client struct {
	client anthropic.Client
}

func NewClient(cfg config.AnthropicEnvConfig, opts ...option.RequestOption) *Client {
	options := []option.RequestOption{}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	options = append(options, opts...)
	return &Client{client: anthropic.NewClient(options...)}
}

func (c *Client) ChatCompletion(ctx context.Context, request llm.ChatRequest) (llm.ChatResponse, error) {
	tracer := otel.Tracer("topic-finder/llm/anthropic")
	ctx, span := tracer.Start(ctx, "llm.anthropic.messages")
	span.SetAttributes(
		attribute.String("llm.provider", "anthropic"),
		attribute.String("llm.model", request.Model),
		attribute.Float64("llm.temperature", request.Temperature),
		attribute.Int("llm.max_tokens", request.MaxTokens),
		attribute.Int("llm.input_messages", len(request.Messages)),
		attribute.String("llm.request_type", request.RequestType),
		attribute.String("chat.id", core.ChatIDFromContext(ctx)),
	)
	defer span.End()

	system, conversation := llm.SplitSystem(request.Messages)
	messages := make([]anthropic.MessageParam, 0, len(conversation))
	for _, msg := range conversation {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	maxTokens := int64(request.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(min(request.Temperature, 1))
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return llm.ChatResponse{}, err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		err := fmt.Errorf("anthropic: empty response")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return llm.ChatResponse{}, err
	}

	span.SetAttributes(attribute.String("llm.finish_reason", string(response.StopReason)))
	span.SetStatus(codes.Ok, "")
	return llm.ChatResponse{
		Content:      text.String(),
		Model:        string(response.Model),
		FinishReason: string(response.StopReason),
	}, nil
}
