package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PluginName is the name the plugin registers under with its host.
const PluginName = "topic_finder_plugin"

// PlaceholderAPIKey is the api_key value shipped in the sample config; it is treated as unset.
const PlaceholderAPIKey = "your-api-key-here"

// Document is the plugin configuration file (config.yaml).
type Document struct {
	Plugin           PluginSection            `yaml:"plugin"`
	Schedule         ScheduleSection          `yaml:"schedule"`
	SilenceDetection SilenceSection           `yaml:"silence_detection"`
	RSS              RSSSection               `yaml:"rss"`
	Reddit           RedditSection            `yaml:"reddit"`
	TopicGeneration  TopicSection             `yaml:"topic_generation"`
	Filtering        FilteringSection         `yaml:"filtering"`
	WebLLM           WebLLMSection            `yaml:"web_llm"`
	Advanced         AdvancedSection          `yaml:"advanced"`
	GroupOverrides   map[string]GroupOverride `yaml:"group_overrides,omitempty"`
	Models           map[string]ModelSection  `yaml:"models,omitempty"`
}

type PluginSection struct {
	Enabled       bool   `yaml:"enabled"`
	ConfigVersion string `yaml:"config_version"`
}

// ScheduleSection controls the daily topic schedule.
type ScheduleSection struct {
	DailyTimes          []string `yaml:"daily_times"`
	EnableDailySchedule bool     `yaml:"enable_daily_schedule"`
	MinIntervalHours    int      `yaml:"min_interval_hours"`
}

// SilenceSection controls silence detection and the default active-hour window.
type SilenceSection struct {
	Enabled                 bool `yaml:"enable_silence_detection"`
	SilenceThresholdMinutes int  `yaml:"silence_threshold_minutes"`
	CheckIntervalMinutes    int  `yaml:"check_interval_minutes"`
	ActiveHoursStart        int  `yaml:"active_hours_start"`
	ActiveHoursEnd          int  `yaml:"active_hours_end"`
}

type RSSSection struct {
	Enabled               bool     `yaml:"enable_rss"`
	Sources               []string `yaml:"sources"`
	UpdateIntervalMinutes int      `yaml:"update_interval_minutes"`
	CacheHours            int      `yaml:"cache_hours"`
	MaxItemsPerSource     int      `yaml:"max_items_per_source"`
	// ItemFilter is an expr-lang expression over {title, description, link, source};
	// items for which it evaluates to false are not cached.
	ItemFilter  string   `yaml:"item_filter,omitempty"`
	UserAgent   string   `yaml:"user_agent,omitempty"`
	HTTPTimeout Duration `yaml:"http_timeout,omitempty"`
}

// RedditSection adds subreddit listings as an extra feed source.
type RedditSection struct {
	Enabled     bool     `yaml:"enable_reddit"`
	Subreddits  []string `yaml:"subreddits"`
	Sort        string   `yaml:"sort,omitempty"`
	Limit       int      `yaml:"limit,omitempty"`
	MinScore    int      `yaml:"min_score,omitempty"`
	HTTPTimeout Duration `yaml:"http_timeout,omitempty"`
}

type TopicSection struct {
	// TopicPrompt is a text/template; see PromptData for the available fields.
	TopicPrompt     string   `yaml:"topic_prompt"`
	FallbackTopics  []string `yaml:"fallback_topics"`
	CombineStrategy string   `yaml:"combine_strategy"`
}

type FilteringSection struct {
	TargetGroups  []string `yaml:"target_groups"`
	ExcludeGroups []string `yaml:"exclude_groups"`
	GroupOnly     bool     `yaml:"group_only"`
}

// WebLLMSection configures the browsing-capable model used to collect headlines.
type WebLLMSection struct {
	Enabled        bool    `yaml:"enable_web_llm"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	ModelName      string  `yaml:"model_name"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// WebInfoPrompt is a text/template with {{.CurrentDate}}.
	WebInfoPrompt         string `yaml:"web_info_prompt"`
	WebInfoUpdateInterval int    `yaml:"web_info_update_interval"`
	WebInfoCacheHours     int    `yaml:"web_info_cache_hours"`
}

type AdvancedSection struct {
	EnableSmartTiming       bool `yaml:"enable_smart_timing"`
	MaxRetryAttempts        int  `yaml:"max_retry_attempts"`
	DebugMode               bool `yaml:"debug_mode"`
	RecentTopicsWindowHours int  `yaml:"recent_topics_window_hours"`
	RecentTopicsMaxItems    int  `yaml:"recent_topics_max_items"`
}

// GroupOverride replaces the silence_detection window and threshold for one chat.
type GroupOverride struct {
	ActiveHoursStart        *int `yaml:"active_hours_start,omitempty"`
	ActiveHoursEnd          *int `yaml:"active_hours_end,omitempty"`
	SilenceThresholdMinutes *int `yaml:"silence_threshold_minutes,omitempty"`
}

// ModelSection declares a model the host exposes to plugins, keyed by task name ("replyer").
type ModelSection struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

const (
	CombineMerge     = "merge"
	CombinePreferRSS = "prefer_rss"
	CombinePreferWeb = "prefer_web"
)

// Default returns the configuration used when no file is present; values loaded
// from YAML are layered on top of it.
func Default() *Document {
	return &Document{
		Plugin: PluginSection{Enabled: true, ConfigVersion: "1.0.0"},
		Schedule: ScheduleSection{
			DailyTimes:          []string{"09:00", "14:00", "20:00"},
			EnableDailySchedule: true,
			MinIntervalHours:    2,
		},
		SilenceDetection: SilenceSection{
			Enabled:                 true,
			SilenceThresholdMinutes: 60,
			CheckIntervalMinutes:    10,
			ActiveHoursStart:        8,
			ActiveHoursEnd:          23,
		},
		RSS: RSSSection{
			Enabled:               true,
			UpdateIntervalMinutes: 30,
			CacheHours:            6,
			MaxItemsPerSource:     10,
		},
		Reddit: RedditSection{Sort: "hot", Limit: 10},
		TopicGeneration: TopicSection{
			TopicPrompt:     DefaultTopicPrompt,
			CombineStrategy: CombineMerge,
		},
		Filtering: FilteringSection{GroupOnly: true},
		WebLLM: WebLLMSection{
			Enabled:               true,
			BaseURL:               "https://api.openai.com/v1",
			APIKey:                PlaceholderAPIKey,
			ModelName:             "gpt-3.5-turbo",
			Temperature:           0.8,
			MaxTokens:             500,
			TimeoutSeconds:        30,
			WebInfoPrompt:         DefaultWebInfoPrompt,
			WebInfoUpdateInterval: 60,
			WebInfoCacheHours:     2,
		},
		Advanced: AdvancedSection{
			EnableSmartTiming:       true,
			MaxRetryAttempts:        3,
			RecentTopicsWindowHours: 48,
			RecentTopicsMaxItems:    50,
		},
	}
}

// Load reads a YAML config file over Default. A missing file yields the defaults.
func Load(path string) (*Document, error) {
	doc := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate performs validation on the plugin document.
func (d *Document) Validate() error {
	for i, raw := range d.Schedule.DailyTimes {
		if _, _, err := ParseClock(raw); err != nil {
			return fmt.Errorf("schedule.daily_times %d: %w", i, err)
		}
	}
	if d.Schedule.MinIntervalHours < 0 {
		return fmt.Errorf("schedule.min_interval_hours must be >= 0")
	}

	if err := validateHour("silence_detection.active_hours_start", d.SilenceDetection.ActiveHoursStart); err != nil {
		return err
	}
	if err := validateHour("silence_detection.active_hours_end", d.SilenceDetection.ActiveHoursEnd); err != nil {
		return err
	}
	if d.SilenceDetection.SilenceThresholdMinutes <= 0 {
		return fmt.Errorf("silence_detection.silence_threshold_minutes must be > 0")
	}
	if d.SilenceDetection.CheckIntervalMinutes < 0 {
		return fmt.Errorf("silence_detection.check_interval_minutes must be >= 0")
	}

	for chatID, ov := range d.GroupOverrides {
		label := fmt.Sprintf("group_overrides[%s]", chatID)
		if ov.ActiveHoursStart != nil {
			if err := validateHour(label+".active_hours_start", *ov.ActiveHoursStart); err != nil {
				return err
			}
		}
		if ov.ActiveHoursEnd != nil {
			if err := validateHour(label+".active_hours_end", *ov.ActiveHoursEnd); err != nil {
				return err
			}
		}
		if ov.SilenceThresholdMinutes != nil && *ov.SilenceThresholdMinutes <= 0 {
			return fmt.Errorf("%s.silence_threshold_minutes must be > 0", label)
		}
	}

	if d.RSS.UpdateIntervalMinutes < 0 || d.RSS.CacheHours < 0 || d.RSS.MaxItemsPerSource < 0 {
		return fmt.Errorf("rss: intervals and limits must be >= 0")
	}
	if d.WebLLM.Temperature < 0 || d.WebLLM.Temperature > 2 {
		return fmt.Errorf("web_llm.temperature must be between 0 and 2")
	}
	if d.WebLLM.WebInfoUpdateInterval < 0 || d.WebLLM.WebInfoCacheHours < 0 || d.WebLLM.TimeoutSeconds < 0 {
		return fmt.Errorf("web_llm: intervals must be >= 0")
	}
	if d.Advanced.RecentTopicsMaxItems < 0 || d.Advanced.RecentTopicsWindowHours < 0 {
		return fmt.Errorf("advanced: recent topic limits must be >= 0")
	}

	for name, m := range d.Models {
		switch strings.ToLower(m.Provider) {
		case "", "openai", "anthropic":
		default:
			return fmt.Errorf("models[%s]: unsupported provider %q", name, m.Provider)
		}
		if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
			return fmt.Errorf("models[%s]: temperature must be between 0 and 2", name)
		}
	}

	return d.validateTemplates()
}

func validateHour(label string, hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%s must be between 0 and 23", label)
	}
	return nil
}

// ParseClock parses an "HH:MM" daily time.
func ParseClock(raw string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (expected HH:MM)", raw)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

// ActiveHours resolves the active-hour window for a chat, honoring group overrides.
func (d *Document) ActiveHours(chatID string) (start, end int) {
	start, end = d.SilenceDetection.ActiveHoursStart, d.SilenceDetection.ActiveHoursEnd
	if ov, ok := d.GroupOverrides[chatID]; ok {
		if ov.ActiveHoursStart != nil {
			start = *ov.ActiveHoursStart
		}
		if ov.ActiveHoursEnd != nil {
			end = *ov.ActiveHoursEnd
		}
	}
	return start, end
}

// SilenceThresholdMinutes resolves the silence threshold for a chat, honoring group overrides.
func (d *Document) SilenceThresholdMinutes(chatID string) int {
	if ov, ok := d.GroupOverrides[chatID]; ok && ov.SilenceThresholdMinutes != nil {
		return *ov.SilenceThresholdMinutes
	}
	return d.SilenceDetection.SilenceThresholdMinutes
}
