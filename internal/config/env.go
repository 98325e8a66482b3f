package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ConfigPath    string
	DataDir       string
	LogLevel      string
	BotConfigPath string
	MetricsAddr   string
	OpenAI        OpenAIEnvConfig
	Anthropic     AnthropicEnvConfig
	WebLLM        WebLLMEnvConfig
	OTel          OTelEnvConfig
	Reddit        RedditEnvConfig
	RSS           RSSEnvConfig
	Telegram      TelegramEnvConfig
}

type OpenAIEnvConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	OTel        OpenAIOTelEnvConfig
}

type OpenAIOTelEnvConfig struct {
	Enabled       bool
	CaptureBodies bool
	MaxBodyBytes  int
}

type AnthropicEnvConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// WebLLMEnvConfig overrides web_llm.base_url and web_llm.api_key when set.
type WebLLMEnvConfig struct {
	BaseURL string
	APIKey  string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

type RedditEnvConfig struct {
	HTTPTimeout  time.Duration
	UserAgent    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

type RSSEnvConfig struct {
	HTTPTimeout time.Duration
	UserAgent   string
}

type TelegramEnvConfig struct {
	BotToken     string
	DatabasePath string
}

func LoadEnv() EnvConfig {
	dataDir := envString("TOPIC_FINDER_DATA_DIR", "data")
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return EnvConfig{
		ConfigPath:    envString("TOPIC_FINDER_CONFIG", "config.yaml"),
		DataDir:       dataDir,
		LogLevel:      strings.ToLower(envString("LOG_LEVEL", "info")),
		BotConfigPath: envString("BOT_CONFIG_PATH", "../MaiBot/config/bot_config.toml"),
		MetricsAddr:   strings.TrimSpace(envString("METRICS_ADDR", "")),
		OpenAI: OpenAIEnvConfig{
			APIKey:      strings.TrimSpace(envString("OPENAI_API_KEY", "")),
			BaseURL:     strings.TrimSpace(envString("OPENAI_BASE_URL", "")),
			Model:       envString("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: envFloatPtr("OPENAI_TEMPERATURE"),
			OTel: OpenAIOTelEnvConfig{
				Enabled:       envBool("OTEL_OPENAI_ENABLED", true),
				CaptureBodies: envBool("OTEL_CAPTURE_OPENAI_BODIES", false),
				MaxBodyBytes:  envInt("OTEL_OPENAI_MAX_BODY_BYTES", 64*1024),
			},
		},
		Anthropic: AnthropicEnvConfig{
			APIKey:  strings.TrimSpace(envString("ANTHROPIC_API_KEY", "")),
			BaseURL: strings.TrimSpace(envString("ANTHROPIC_BASE_URL", "")),
			Model:   envString("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		},
		WebLLM: WebLLMEnvConfig{
			BaseURL: strings.TrimSpace(os.Getenv("WEB_LLM_BASE_URL")),
			APIKey:  strings.TrimSpace(os.Getenv("WEB_LLM_API_KEY")),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "topic-finder")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
		Reddit: RedditEnvConfig{
			HTTPTimeout:  envDuration("REDDIT_HTTP_TIMEOUT", 10*time.Second),
			UserAgent:    envString("REDDIT_USER_AGENT", "topic-finder/0.1"),
			ClientID:     envString("REDDIT_CLIENT_ID", ""),
			ClientSecret: envString("REDDIT_CLIENT_SECRET", ""),
			Username:     envString("REDDIT_USERNAME", ""),
			Password:     envString("REDDIT_PASSWORD", ""),
		},
		RSS: RSSEnvConfig{
			HTTPTimeout: envDuration("RSS_HTTP_TIMEOUT", 30*time.Second),
			UserAgent:   envString("RSS_USER_AGENT", "topic-finder/0.1"),
		},
		Telegram: TelegramEnvConfig{
			BotToken:     strings.TrimSpace(envString("TELEGRAM_BOT_TOKEN", "")),
			DatabasePath: envString("DATABASE_PATH", filepath.Join(dataDir, "messages.db")),
		},
	}
}

// ApplyEnv layers environment values that take precedence over the YAML document.
func (d *Document) ApplyEnv(env EnvConfig) {
	if env.WebLLM.BaseURL != "" {
		d.WebLLM.BaseURL = env.WebLLM.BaseURL
	}
	if env.WebLLM.APIKey != "" {
		d.WebLLM.APIKey = env.WebLLM.APIKey
	}
	if d.RSS.HTTPTimeout == 0 {
		d.RSS.HTTPTimeout = Duration(env.RSS.HTTPTimeout)
	}
	if d.RSS.UserAgent == "" {
		d.RSS.UserAgent = env.RSS.UserAgent
	}
	if d.Reddit.HTTPTimeout == 0 {
		d.Reddit.HTTPTimeout = Duration(env.Reddit.HTTPTimeout)
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	if f := envFloatPtr(key); f != nil {
		return *f
	}
	return fallback
}

func envFloatPtr(key string) *float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := parseDurationExtended(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		return err == nil && u.Scheme == "http"
	}
	for _, local := range []string{"localhost:", "127.0.0.1:", "0.0.0.0:"} {
		if strings.HasPrefix(endpoint, local) {
			return true
		}
	}
	return false
}
