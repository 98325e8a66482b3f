package topic

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
)

const (
	// ModelName is the host model used to phrase topics.
	ModelName   = "replyer"
	RequestType = "topic.generate"

	temperature = 0.9
	maxTokens   = 50

	// EmptyFallback is sent when fallback_topics is configured as an empty list.
	EmptyFallback = "大家好，来聊聊天吧！ 😊"
)

// Causes passed to Generator.OnFallback.
const (
	FallbackNoContent     = "no_content"
	FallbackPromptError   = "prompt_error"
	FallbackNoModel       = "no_model"
	FallbackModelError    = "model_error"
	FallbackEmptyResponse = "empty_response"
)

var defaultFallbackTopics = []string{
	"今天天气不错呢，大家都在忙什么？ ☀️",
	"最近有什么好看的电影或剧推荐吗？ 🎬",
	"周末有什么有趣的计划吗？ 🎉",
}

// Generator turns source items into a one-line conversation hook.
type Generator struct {
	cfg    *config.Document
	llm    host.LLMAPI
	logger *slog.Logger

	now  func() time.Time
	perm func(n int) []int
	pick func(n int) int

	// OnFallback, when set, is called with the cause whenever Generate falls back.
	OnFallback func(cause string)
}

func NewGenerator(cfg *config.Document, llm host.LLMAPI, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		llm:    llm,
		logger: core.DefaultLogger(logger),
		now:    time.Now,
		perm:   defaultPerm,
		pick:   rand.IntN,
	}
}

// Generate asks the replyer model for a topic. Every failure path returns a
// fallback topic, so the result is never empty.
func (g *Generator) Generate(ctx context.Context, rss, web []core.Item, persona string) string {
	ctx, span := otel.Tracer("topic-finder/topic").Start(ctx, "topic.generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("topic.rss_items", len(rss)),
		attribute.Int("topic.web_items", len(web)),
		attribute.String("chat.id", core.ChatIDFromContext(ctx)),
	)
	logger := core.ComponentLogger(ctx, g.logger, "topic")

	content := g.PrepareContent(rss, web)
	if content == "" {
		return g.fallback(span, FallbackNoContent)
	}

	prompt, err := config.RenderPrompt("topic_prompt", g.cfg.TopicPrompt(), config.TopicPromptData{
		Content:     content,
		Persona:     persona,
		CurrentDate: g.now().Format("2006年01月02日"),
	})
	if err != nil {
		logger.Error("render topic prompt failed", "error", err)
		return g.fallback(span, FallbackPromptError)
	}

	if g.llm == nil {
		logger.Warn("no llm api available, using fallback topic")
		return g.fallback(span, FallbackNoModel)
	}
	model, ok := g.llm.AvailableModels()[ModelName]
	if !ok {
		logger.Warn("model not configured, using fallback topic", "model", ModelName)
		return g.fallback(span, FallbackNoModel)
	}

	response, err := g.llm.Generate(ctx, prompt, model, host.GenerateOptions{
		RequestType: RequestType,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		logger.Warn("topic generation failed, using fallback topic", "error", err)
		span.RecordError(err)
		return g.fallback(span, FallbackModelError)
	}
	topic := strings.TrimSpace(response)
	if topic == "" {
		logger.Warn("model returned an empty topic, using fallback topic")
		return g.fallback(span, FallbackEmptyResponse)
	}
	span.SetAttributes(attribute.String("topic.result", "generated"))
	return topic
}

func (g *Generator) fallback(span trace.Span, cause string) string {
	span.SetAttributes(attribute.String("topic.result", "fallback_"+cause))
	if g.OnFallback != nil {
		g.OnFallback(cause)
	}
	return g.Fallback()
}

// Fallback returns a random configured fallback topic. An unset list uses the
// built-in topics; an explicitly empty list yields EmptyFallback.
func (g *Generator) Fallback() string {
	topics := g.cfg.TopicGeneration.FallbackTopics
	if topics == nil {
		topics = defaultFallbackTopics
	}
	if len(topics) == 0 {
		return EmptyFallback
	}
	return topics[g.pick(len(topics))]
}
