// Package emotion tags assistant replies with a chat-platform emoji using
// simple keyword matching. It is stateless and never fails.
package emotion

import "strings"

var keywordBuckets = map[string][]string{
	"joy":      {"happy", "joy", "excited", "great", "wonderful", "love", "glad", "yay", "woohoo", "hehe", "haha"},
	"sadness":  {"sad", "sorry", "unfortunate", "regret", "miss", "lonely", "sigh", "alas", "ugh"},
	"anger":    {"angry", "mad", "furious", "annoyed", "frustrated", "grr", "argh"},
	"fear":     {"afraid", "scared", "worried", "nervous", "anxious", "eek", "yikes"},
	"surprise": {"wow", "amazing", "incredible", "unexpected", "surprised", "whoa", "woah", "omg", "oh my"},
	"neutral":  {"ok", "fine", "alright", "neutral", "hmm", "mhm"},
}

// expressiveMarkers are roleplay actions, checked before keyword scoring.
var expressiveMarkers = []string{"*", "moans", "sighs", "gasps", "squeals", "giggles", "laughs", "cries", "screams"}

var emojiFor = map[string]string{
	"joy":        "😄",
	"sadness":    "😢",
	"anger":      "😠",
	"fear":       "😨",
	"surprise":   "😮",
	"neutral":    "👍",
	"expressive": "🎭",
}

// Analyze returns the emoji tag for the dominant emotion in text.
// Defaults to neutral when nothing matches.
func Analyze(text string) string {
	lower := strings.ToLower(text)

	for _, marker := range expressiveMarkers {
		if strings.Contains(lower, marker) {
			return emojiFor["expressive"]
		}
	}

	best := "neutral"
	bestCount := 0
	for bucket, keywords := range keywordBuckets {
		count := 0
		for _, kw := range keywords {
			count += strings.Count(lower, kw)
		}
		if count > bestCount {
			best = bucket
			bestCount = count
		}
	}

	if bestCount == 0 {
		return emojiFor["neutral"]
	}
	return emojiFor[best]
}
