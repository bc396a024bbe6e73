package history

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/provider"
	"github.com/splintertree/splintertree/internal/store"
)

// Reader is the slice of the log store the assembler needs.
type Reader interface {
	RecentMessages(channelID string, limit int) ([]store.Message, error)
	Summaries(channelID string, since time.Time) ([]store.Summary, error)
}

// Assembler builds the bounded, role-tagged message history for a model
// request. It reads the log store but never writes it.
type Assembler struct {
	reader Reader
	// visionPersona marks assistant turns that carry a name field, for
	// providers that need multi-agent disambiguation.
	visionPersona string
	log           *logrus.Entry
}

// NewAssembler creates a context assembler over the given store reader.
func NewAssembler(reader Reader, visionPersona string, logger *logrus.Logger) *Assembler {
	return &Assembler{
		reader:        reader,
		visionPersona: visionPersona,
		log:           logger.WithField("component", "history"),
	}
}

// Build returns the channel's stored summaries followed by up to window
// messages in chronological order, deduplicated by exact content with only
// the newest occurrence kept. Store unavailability yields an empty history,
// never an error: an exchange proceeds without context rather than failing.
func (a *Assembler) Build(channelID string, window int) []provider.ChatMessage {
	rows, err := a.reader.RecentMessages(channelID, window)
	if err != nil {
		a.log.WithError(err).Error("failed to fetch message history")
		return nil
	}

	// rows arrive newest first; the first occurrence seen in this scan is
	// the one that survives dedup.
	var messages []provider.ChatMessage
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.Content] {
			continue
		}
		seen[row.Content] = true

		if row.IsAssistant {
			msg := provider.TextMessage("assistant", stripPersonaPrefix(row.Content))
			if a.visionPersona != "" && row.PersonaName == a.visionPersona {
				msg.Name = row.PersonaName
			}
			messages = append(messages, msg)
		} else {
			messages = append(messages, provider.TextMessage("user", row.Content))
		}
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return append(a.summaryMessages(channelID), messages...)
}

// summaryMessages renders every stored summary as a marked user turn ahead
// of the recent history. A summary fetch failure drops summaries only, not
// the exchange.
func (a *Assembler) summaryMessages(channelID string) []provider.ChatMessage {
	summaries, err := a.reader.Summaries(channelID, time.Time{})
	if err != nil {
		a.log.WithError(err).Error("failed to fetch chat summaries")
		return nil
	}

	messages := make([]provider.ChatMessage, 0, len(summaries))
	for _, sum := range summaries {
		messages = append(messages, provider.TextMessage("user", "[SUMMARY] "+sum.Summary))
	}
	return messages
}

// stripPersonaPrefix removes a leading "[...]" persona tag accidentally
// embedded in stored assistant content.
func stripPersonaPrefix(content string) string {
	if !strings.HasPrefix(content, "[") {
		return content
	}
	end := strings.Index(content, "]")
	if end < 0 {
		return content
	}
	return strings.TrimSpace(content[end+1:])
}
