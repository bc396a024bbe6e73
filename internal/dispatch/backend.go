package dispatch

import "strings"

// Backend is one configured provider/model pairing with its trigger words
// and prompt template. A single parameterized type replaces per-model
// handler duplication.
type Backend struct {
	Name           string
	Nickname       string
	Triggers       []string
	Model          string
	Provider       string
	SupportsVision bool
	Prompt         string
}

// Matches reports whether any trigger phrase occurs in the text,
// case-insensitively.
func (b Backend) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range b.Triggers {
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// DefaultBackends is the static persona table.
func DefaultBackends() []Backend {
	return []Backend{
		{
			Name:           "Claude-3-Opus",
			Nickname:       "Claude",
			Triggers:       []string{"claude", "claude 3", "opus"},
			Model:          "anthropic/claude-3-opus:beta",
			Provider:       "openrouter",
			SupportsVision: true,
			Prompt:         "You are Claude, a thoughtful and careful assistant. Answer precisely and admit uncertainty.",
		},
		{
			Name:     "Grok",
			Nickname: "Grok",
			Triggers: []string{"grok", "grok beta", "xai"},
			Model:    "x-ai/grok-beta",
			Provider: "openrouter",
			Prompt:   "You are Grok, a witty assistant with a dry sense of humor. Keep answers sharp and useful.",
		},
		{
			Name:     "Ministral",
			Nickname: "Ministral",
			Triggers: []string{"ministral", "ministral hi"},
			Model:    "mistralai/ministral-8b",
			Provider: "openrouter",
			Prompt:   "You are Ministral, a fast and concise assistant. Prefer short, direct answers.",
		},
		{
			Name:     "Mythomax",
			Nickname: "Mythomax",
			Triggers: []string{"mythomax", "mythomax hi"},
			Model:    "gryphe/mythomax-l2-13b",
			Provider: "openrouter",
			Prompt:   "You are Mythomax, a creative storytelling assistant. Stay in character and keep scenes vivid.",
		},
		{
			Name:     "Splintertree",
			Nickname: "Splintertree",
			Triggers: []string{"splintertree"},
			Model:    "openpipe:moa-gpt-4o-v1",
			Provider: "openpipe",
			Prompt:   "You are Splintertree, the house assistant of this server. Be helpful, friendly, and brief.",
		},
	}
}
