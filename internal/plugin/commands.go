package plugin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
)

// Command is a slash command matched against the whole message text.
type Command struct {
	Name        string
	Description string
	Usage       string
	Pattern     *regexp.Regexp
	Handler     func(ctx context.Context, msg host.Message) Result
}

const webInfoPreview = 3

func (p *Plugin) buildCommands() []Command {
	return []Command{
		{
			Name:        "topic_test",
			Description: "测试话题生成功能",
			Usage:       "/topic_test - 测试生成一个话题",
			Pattern:     regexp.MustCompile(`^/topic_test$`),
			Handler:     p.topicTest,
		},
		{
			Name:        "topic_config",
			Description: "查看话题插件配置信息",
			Usage:       "/topic_config - 查看当前配置",
			Pattern:     regexp.MustCompile(`^/topic_config$`),
			Handler:     p.topicConfig,
		},
		{
			Name:        "topic_debug",
			Description: "立即生成并发起话题（调试用）",
			Usage:       "/topic_debug - 立即发起话题",
			Pattern:     regexp.MustCompile(`^/topic_debug$`),
			Handler:     p.topicDebug,
		},
		{
			Name:        "web_info_test",
			Description: "测试联网大模型信息获取功能",
			Usage:       "/web_info_test - 测试获取联网信息",
			Pattern:     regexp.MustCompile(`^/web_info_test$`),
			Handler:     p.webInfoTest,
		},
	}
}

func (p *Plugin) matchCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	for _, cmd := range p.commands {
		if cmd.Pattern.MatchString(text) {
			return cmd, true
		}
	}
	return Command{}, false
}

// fail replies with an error line and reports the failed status.
func (p *Plugin) fail(ctx context.Context, chatID, status string) Result {
	if err := p.reply(ctx, chatID, "❌ "+status); err != nil {
		core.ComponentLogger(ctx, p.logger, "command").Error("reply failed", "error", err)
	}
	return Result{OK: false, Status: status}
}

func (p *Plugin) topicTest(ctx context.Context, msg host.Message) Result {
	topic := p.GenerateTopicContent(ctx)
	if err := p.reply(ctx, msg.ChatID, "🎯 测试生成的话题：\n\n"+topic); err != nil {
		core.ComponentLogger(ctx, p.logger, "command").Error("topic test failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("话题测试失败: %v", err)}
	}
	return Result{OK: true, Status: "话题测试完成"}
}

func (p *Plugin) topicConfig(ctx context.Context, msg host.Message) Result {
	if err := p.reply(ctx, msg.ChatID, p.ConfigSummary()); err != nil {
		core.ComponentLogger(ctx, p.logger, "command").Error("config summary failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("查看配置失败: %v", err)}
	}
	return Result{OK: true, Status: "配置查看完成"}
}

// ConfigSummary renders the human-readable config overview used by /topic_config.
func (p *Plugin) ConfigSummary() string {
	lines := []string{"📋 话题插件配置信息：\n"}
	lines = append(lines, "🔧 插件状态: "+onOff(p.cfg.Plugin.Enabled))
	lines = append(lines, "⏰ 定时发送: "+onOff(p.cfg.Schedule.EnableDailySchedule))
	if len(p.cfg.Schedule.DailyTimes) > 0 {
		lines = append(lines, "   发送时间: "+strings.Join(p.cfg.Schedule.DailyTimes, ", "))
	}
	lines = append(lines, "🔇 静默检测: "+onOff(p.cfg.SilenceDetection.Enabled))
	if p.cfg.SilenceDetection.Enabled {
		lines = append(lines, fmt.Sprintf("   静默阈值: %d 分钟", p.cfg.SilenceDetection.SilenceThresholdMinutes))
	}
	lines = append(lines, fmt.Sprintf("📡 RSS源数量: %d", len(p.cfg.RSS.Sources)))
	if p.cfg.Reddit.Enabled {
		lines = append(lines, fmt.Sprintf("👽 Reddit版块数量: %d", len(p.cfg.Reddit.Subreddits)))
	}
	lines = append(lines, "🌐 联网大模型: "+onOff(p.cfg.WebLLM.Enabled))
	if n := len(p.cfg.Filtering.TargetGroups); n > 0 {
		lines = append(lines, fmt.Sprintf("🎯 目标群聊: %d 个", n))
	}
	return strings.Join(lines, "\n")
}

func onOff(enabled bool) string {
	if enabled {
		return "✅ 启用"
	}
	return "❌ 禁用"
}

func (p *Plugin) topicDebug(ctx context.Context, msg host.Message) Result {
	logger := core.ComponentLogger(ctx, p.logger, "command")
	if !p.cfg.Plugin.Enabled {
		return p.fail(ctx, msg.ChatID, "话题插件未启用")
	}
	if err := p.reply(ctx, msg.ChatID, "🔄 正在生成话题..."); err != nil {
		logger.Error("debug progress reply failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("调试话题生成失败: %v", err)}
	}

	topic := p.GenerateTopicContent(ctx)
	if topic == "" {
		return p.fail(ctx, msg.ChatID, "话题生成失败")
	}
	if err := p.reply(ctx, msg.ChatID, "🎯 调试生成的话题：\n\n"+topic); err != nil {
		logger.Error("debug topic reply failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("调试话题生成失败: %v", err)}
	}

	chatID := msg.ChatID
	if chatID == "" {
		chatID = "unknown"
	}
	p.sendThrottle.Mark(chatID, p.now())
	logger.Info("debug topic sent", "topic", truncate(topic, 50))
	return Result{OK: true, Status: "调试话题发送完成"}
}

func (p *Plugin) webInfoTest(ctx context.Context, msg host.Message) Result {
	if !p.cfg.WebLLM.Enabled {
		return p.fail(ctx, msg.ChatID, "联网大模型功能未启用")
	}
	if err := p.reply(ctx, msg.ChatID, "🔄 正在获取联网信息..."); err != nil {
		core.ComponentLogger(ctx, p.logger, "command").Error("web info progress reply failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("联网信息测试失败: %v", err)}
	}
	if p.web == nil {
		return p.fail(ctx, msg.ChatID, "联网大模型管理器未初始化")
	}

	items := p.collect(ctx, "web_llm", p.web.Get)
	if len(items) == 0 {
		return p.fail(ctx, msg.ChatID, "未获取到联网信息，请检查配置")
	}

	lines := []string{fmt.Sprintf("🌐 联网信息获取成功，共 %d 条信息：\n", len(items))}
	for i, item := range items {
		if i == webInfoPreview {
			break
		}
		title := item.Title
		if title == "" {
			title = "无标题"
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, title))
		if desc := []rune(item.Description); len(desc) > 0 {
			if len(desc) > 100 {
				desc = desc[:100]
			}
			lines = append(lines, "   "+string(desc)+"...")
		}
		lines = append(lines, "")
	}
	if len(items) > webInfoPreview {
		lines = append(lines, fmt.Sprintf("... 还有 %d 条信息", len(items)-webInfoPreview))
	}

	if err := p.reply(ctx, msg.ChatID, strings.Join(lines, "\n")); err != nil {
		core.ComponentLogger(ctx, p.logger, "command").Error("web info reply failed", "error", err)
		return Result{OK: false, Status: fmt.Sprintf("联网信息测试失败: %v", err)}
	}
	return Result{OK: true, Status: "联网信息测试完成"}
}
