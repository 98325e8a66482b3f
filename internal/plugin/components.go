package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/gate"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/tasks"
)

type Kind string

const (
	KindEventHandler Kind = "event_handler"
	KindAction       Kind = "action"
	KindCommand      Kind = "command"
)

type EventType string

const (
	EventOnStart   EventType = "on_start"
	EventOnMessage EventType = "on_message"
)

const (
	SchedulerTaskName    = "topic_scheduler"
	SilenceDetectorName  = "chat_silence_detector"
	StartTopicActionName = "start_topic"
	DefaultActionReason  = "发起话题"
)

// ComponentInfo describes a component registered with the host.
type ComponentInfo struct {
	Name        string
	Kind        Kind
	Description string
	Event       EventType
	Pattern     string
}

// Result is what a handler or command reports back to the host.
type Result struct {
	OK     bool
	Status string
	// Intercept stops the host from processing the message further.
	Intercept bool
}

// Components lists the components active under the current config. A disabled
// plugin registers nothing.
func (p *Plugin) Components() []ComponentInfo {
	if !p.cfg.Plugin.Enabled {
		return nil
	}
	components := []ComponentInfo{{
		Name:        SchedulerTaskName,
		Kind:        KindEventHandler,
		Description: "启动话题调度任务",
		Event:       EventOnStart,
	}}
	if p.cfg.SilenceDetection.Enabled {
		components = append(components, ComponentInfo{
			Name:        SilenceDetectorName,
			Kind:        KindEventHandler,
			Description: "检测群聊静默状态",
			Event:       EventOnMessage,
		})
	}
	components = append(components, ComponentInfo{
		Name:        StartTopicActionName,
		Kind:        KindAction,
		Description: "发起一个话题来活跃群聊气氛",
	})
	for _, cmd := range p.commands {
		components = append(components, ComponentInfo{
			Name:        cmd.Name,
			Kind:        KindCommand,
			Description: cmd.Description,
			Pattern:     cmd.Pattern.String(),
		})
	}
	return components
}

// Start fires the ON_START handlers.
func (p *Plugin) Start(ctx context.Context) Result {
	if !p.cfg.Plugin.Enabled {
		return Result{OK: true}
	}
	return p.SchedulerHandler(ctx)
}

// HandleMessage routes an incoming message: a matching command wins, otherwise
// the ON_MESSAGE handlers run.
func (p *Plugin) HandleMessage(ctx context.Context, msg host.Message) Result {
	if !p.cfg.Plugin.Enabled {
		return Result{OK: true}
	}
	if cmd, ok := p.matchCommand(msg.Text); ok {
		return cmd.Handler(core.WithChatID(ctx, msg.ChatID), msg)
	}
	if p.cfg.SilenceDetection.Enabled {
		return p.SilenceDetector(ctx, &msg)
	}
	return Result{OK: true}
}

// SchedulerHandler registers the periodic scheduled-topic check.
func (p *Plugin) SchedulerHandler(ctx context.Context) Result {
	logger := core.ComponentLogger(ctx, p.logger, "scheduler")
	if !p.cfg.Plugin.Enabled {
		logger.Info("plugin disabled, scheduler not started")
		return Result{OK: true}
	}
	err := p.tasks.AddTask(ctx, tasks.Task{
		Name:            SchedulerTaskName,
		WaitBeforeStart: p.schedulerWait,
		Interval:        p.schedulerInterval,
		Run: func(ctx context.Context) error {
			p.CheckScheduledTopics(ctx, p.now())
			return nil
		},
	})
	if err != nil {
		logger.Error("start topic scheduler failed", "error", err)
		return Result{OK: false, Status: err.Error()}
	}
	logger.Info("topic scheduler started", "daily_slots", p.schedule.Slots())
	return Result{OK: true}
}

// SilenceDetector posts a topic when a group has had no human message within
// its silence threshold. It never intercepts the message.
func (p *Plugin) SilenceDetector(ctx context.Context, msg *host.Message) Result {
	pass := Result{OK: true}
	if !p.cfg.SilenceDetection.Enabled || msg == nil || msg.ChatID == "" || !msg.IsGroup {
		return pass
	}
	chatID := msg.ChatID
	ctx = core.WithChatID(ctx, chatID)
	logger := core.ComponentLogger(ctx, p.logger, "silence")

	now := p.now()
	start, end := p.cfg.ActiveHours(chatID)
	if !gate.InWindow(now.Hour(), start, end) {
		return pass
	}
	if !p.checkThrottle.Allow(chatID, now) {
		return pass
	}
	p.checkThrottle.Mark(chatID, now)

	if p.host.Messages == nil {
		return pass
	}
	threshold := time.Duration(p.cfg.SilenceThresholdMinutes(chatID)) * time.Minute
	recent, err := p.host.Messages.MessagesInRange(ctx, chatID, now.Add(-threshold), now, host.Query{
		Limit:         1,
		FilterBot:     true,
		FilterCommand: true,
	})
	if err != nil {
		logger.Error("silence lookup failed", "error", err)
		return pass
	}
	if len(recent) > 0 {
		return pass
	}

	logger.Info("group silent past threshold, starting a topic", "threshold", threshold)
	p.metrics.SilenceTriggers.Inc()
	if err := p.SendTopicToChat(ctx, chatID, ReasonSilence); err != nil {
		logger.Error("silence topic failed", "error", err)
	}
	return pass
}

// ActionInput carries the start_topic action parameters.
type ActionInput struct {
	ChatID       string
	TopicContent string
	Reason       string
}

// StartTopicAction posts the given topic, or a generated one, to the chat.
func (p *Plugin) StartTopicAction(ctx context.Context, in ActionInput) (bool, string) {
	reason := in.Reason
	if reason == "" {
		reason = DefaultActionReason
	}
	ctx = core.WithReason(core.WithChatID(ctx, in.ChatID), reason)
	content := in.TopicContent
	if content == "" {
		content = p.GenerateTopicContent(ctx)
	}
	if err := p.reply(ctx, in.ChatID, content); err != nil {
		core.ComponentLogger(ctx, p.logger, "action").Error("start topic failed", "error", err)
		return false, fmt.Sprintf("发起话题失败: %v", err)
	}
	core.ComponentLogger(ctx, p.logger, "action").Info("topic started", "topic", truncate(content, 50))
	return true, "发起了话题: " + reason
}

func (p *Plugin) reply(ctx context.Context, chatID, text string) error {
	stream, ok := host.ResolveStream(p.host.Chats, chatID)
	if !ok {
		return fmt.Errorf("reply to %s: %w", chatID, ErrNoStream)
	}
	if p.host.Sender == nil {
		return fmt.Errorf("reply to %s: no send api", chatID)
	}
	return p.host.Sender.TextToStream(ctx, stream.ID, text, host.SendOptions{Store: true})
}
