package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds process configuration for the bot.
type Config struct {
	GatewayURL   string
	GatewayToken string
	BotUserID    string

	OpenRouterAPIKey string
	OpenRouterAPIURL string
	OpenPipeAPIKey   string
	OpenPipeAPIURL   string

	DBPath          string
	FallbackLogPath string
	OpsAddr         string

	// StreamResponses selects streamed delivery for backend replies.
	StreamResponses bool

	DefaultContextWindow int
	MaxContextWindow     int
	// ContextWindows carries per-channel overrides keyed by channel id.
	ContextWindows map[string]int

	// VisionPersona is the assistant persona whose history entries carry a
	// name field for providers that need multi-agent disambiguation.
	VisionPersona string

	// SummaryModel generates chat summaries via the OpenPipe client.
	SummaryModel string
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	gatewayToken := os.Getenv("GATEWAY_TOKEN")
	if gatewayToken == "" {
		return Config{}, fmt.Errorf("GATEWAY_TOKEN is required in environment")
	}
	openRouterKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterKey == "" {
		return Config{}, fmt.Errorf("OPENROUTER_API_KEY is required in environment")
	}

	cfg := Config{
		GatewayURL:   envOrDefault("GATEWAY_URL", "wss://gateway.splintertree.dev"),
		GatewayToken: gatewayToken,
		BotUserID:    envOrDefault("BOT_USER_ID", ""),

		OpenRouterAPIKey: openRouterKey,
		OpenRouterAPIURL: envOrDefault("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		OpenPipeAPIKey:   os.Getenv("OPENPIPE_API_KEY"),
		OpenPipeAPIURL:   envOrDefault("OPENPIPE_API_URL", "https://api.openpipe.ai/v1"),

		DBPath:          envOrDefault("DB_PATH", "databases/interaction_logs.db"),
		FallbackLogPath: envOrDefault("FALLBACK_LOG_PATH", "interaction_logs.jsonl"),
		OpsAddr:         envOrDefault("OPS_ADDR", ":8080"),

		StreamResponses: envBoolOrDefault("STREAM_RESPONSES", false),

		DefaultContextWindow: envIntOrDefault("DEFAULT_CONTEXT_WINDOW", 10),
		MaxContextWindow:     envIntOrDefault("MAX_CONTEXT_WINDOW", 50),
		ContextWindows:       map[string]int{},

		VisionPersona: envOrDefault("VISION_PERSONA", "Llama-Vision"),
		SummaryModel:  envOrDefault("SUMMARY_MODEL", "openpipe:moa-gpt-4o-v1"),
	}

	if path := os.Getenv("CONTEXT_WINDOWS_FILE"); path != "" {
		windows, err := loadContextWindows(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ContextWindows = windows
	}

	return cfg, nil
}

// WindowFor returns the context window for a channel, honoring per-channel
// overrides and the configured maximum.
func (c Config) WindowFor(channelID string) int {
	window := c.DefaultContextWindow
	if override, ok := c.ContextWindows[channelID]; ok && override > 0 {
		window = override
	}
	if c.MaxContextWindow > 0 && window > c.MaxContextWindow {
		window = c.MaxContextWindow
	}
	return window
}

func loadContextWindows(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context windows file %s: %w", path, err)
	}
	windows := map[string]int{}
	if err := json.Unmarshal(data, &windows); err != nil {
		return nil, fmt.Errorf("failed to parse context windows file %s: %w", path, err)
	}
	return windows, nil
}

// ErrorMessages are the user-facing texts for classified backend failures.
var ErrorMessages = map[string]string{
	"credits_depleted": "⚠️ Credits depleted. Please contact the bot administrator.",
	"invalid_api_key":  "🔑 Invalid API key. Please contact the bot administrator.",
	"rate_limit":       "⏳ Rate limit exceeded. Please try again later.",
	"network_error":    "🌐 Network error. Please try again later.",
	"unknown_error":    "❌ An error occurred. Please try again later.",
}

// BlockedKeywords suppress dispatch for inbound text containing any entry.
var BlockedKeywords = []string{
	"nsfw",
	"explicit",
	"gore",
	"torture",
	"illegal",
	"warez",
	"exploit",
}

// ContainsBlockedKeyword reports whether text matches the blocklist.
func ContainsBlockedKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range BlockedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
