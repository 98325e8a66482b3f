package config

import (
	"bytes"
	"fmt"
	"text/template"
)

// DefaultTopicPrompt asks for a single short Chinese hook sentence.
const DefaultTopicPrompt = "你是 MaiBot（有点高冷、玩世不恭的混沌女孩）。\n" +
	"{{if .Persona}}人设：{{.Persona}}\n{{end}}" +
	"基于下列资讯生成一条能抓住注意力的中文话题钩子：\n" +
	"- 仅输出一句话，不要解释/前后缀/引号/标签/链接\n" +
	"- 26~40 字，包含一个核心名词或趋势词\n" +
	"- 语气克制、轻挑，避免冒犯与敏感内容\n\n" +
	"资讯：\n{{.Content}}\n\n" +
	"输出："

// DefaultWebInfoPrompt is sent to the web model when web_info_prompt is empty.
const DefaultWebInfoPrompt = "请提供{{.CurrentDate}}最新的热点信息。\n" +
	"每条信息使用以下格式，条目之间用空行分隔：\n" +
	"标题：<标题>\n" +
	"描述：<一句话描述>"

// TopicPromptData is the data passed to topic_generation.topic_prompt.
type TopicPromptData struct {
	Content     string
	Persona     string
	CurrentDate string
}

// WebInfoPromptData is the data passed to web_llm.web_info_prompt.
type WebInfoPromptData struct {
	CurrentDate string
}

// TopicPrompt returns the configured topic prompt or the default when empty.
func (d *Document) TopicPrompt() string {
	if d.TopicGeneration.TopicPrompt == "" {
		return DefaultTopicPrompt
	}
	return d.TopicGeneration.TopicPrompt
}

// WebInfoPrompt returns the configured web-info prompt or the default when empty.
func (d *Document) WebInfoPrompt() string {
	if d.WebLLM.WebInfoPrompt == "" {
		return DefaultWebInfoPrompt
	}
	return d.WebLLM.WebInfoPrompt
}

// RenderPrompt executes a prompt template with strict key checking.
func RenderPrompt(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d *Document) validateTemplates() error {
	topicData := TopicPromptData{Content: "RSS资讯:\n- Example\n", Persona: "persona", CurrentDate: "2024年01月01日"}
	if _, err := RenderPrompt("topic_prompt", d.TopicPrompt(), topicData); err != nil {
		return fmt.Errorf("topic_generation.topic_prompt type check failed: %w", err)
	}
	if _, err := RenderPrompt("web_info_prompt", d.WebInfoPrompt(), WebInfoPromptData{CurrentDate: "2024年01月01日"}); err != nil {
		return fmt.Errorf("web_llm.web_info_prompt type check failed: %w", err)
	}
	return nil
}
