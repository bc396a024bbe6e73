package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/provider"
	"github.com/splintertree/splintertree/internal/store"
)

// summaryPrompt instructs the model condensing a conversation span.
const summaryPrompt = "You are a helpful assistant that summarizes group chat conversations. " +
	"Create a concise summary that captures the main points and key interactions of the conversation. " +
	"Focus on the important topics discussed and any decisions or conclusions reached."

// defaultSummaryChunk is the minimum conversation span condensed into one
// summary.
const defaultSummaryChunk = 24 * time.Hour

// SummaryStore is the slice of the log store the summarizer needs.
type SummaryStore interface {
	LastSummaryEnd(channelID string) (time.Time, bool, error)
	MessagesSince(channelID string, after time.Time) ([]store.Message, error)
	AppendSummary(sum store.Summary) error
}

// Completer is the completion client used to generate summary text.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Reply, error)
}

// Summarizer condenses old conversation spans into stored summaries, keeping
// assembled context bounded while preserving long-range continuity.
type Summarizer struct {
	store     SummaryStore
	completer Completer
	model     string
	chunk     time.Duration
	log       *logrus.Entry
}

// NewSummarizer creates a summarizer that condenses spans of at least
// defaultSummaryChunk using the given completion client and model.
func NewSummarizer(st SummaryStore, completer Completer, model string, logger *logrus.Logger) *Summarizer {
	return &Summarizer{
		store:     st,
		completer: completer,
		model:     model,
		chunk:     defaultSummaryChunk,
		log:       logger.WithField("component", "summarizer"),
	}
}

// CheckAndSummarize creates a new summary for the channel if at least one
// full chunk of unsummarized conversation has accumulated. Returns whether a
// summary was created.
func (s *Summarizer) CheckAndSummarize(ctx context.Context, channelID string) (bool, error) {
	start, ok, err := s.store.LastSummaryEnd(channelID)
	if err != nil {
		return false, fmt.Errorf("failed to find last summary: %w", err)
	}
	if !ok {
		start = time.Now().UTC().Add(-s.chunk)
	}

	messages, err := s.store.MessagesSince(channelID, start)
	if err != nil {
		return false, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) == 0 {
		return false, nil
	}

	end := messages[len(messages)-1].Timestamp
	if end.Sub(start) < s.chunk {
		return false, nil
	}

	text, err := s.generate(ctx, messages)
	if err != nil {
		return false, err
	}

	if err := s.store.AppendSummary(store.Summary{
		ChannelID: channelID,
		StartAt:   start,
		EndAt:     end,
		Summary:   text,
	}); err != nil {
		return false, fmt.Errorf("failed to store summary: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"channel_id": channelID,
		"messages":   len(messages),
	}).Info("created chat summary")
	return true, nil
}

func (s *Summarizer) generate(ctx context.Context, messages []store.Message) (string, error) {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		speaker := "User " + m.UserID
		if m.IsAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+m.Content)
	}

	reply, err := s.completer.Complete(ctx, provider.Request{
		Model: s.model,
		Messages: []provider.ChatMessage{
			provider.TextMessage("system", summaryPrompt),
			provider.TextMessage("user", "Please summarize this conversation:\n\n"+strings.Join(lines, "\n")),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return reply.Content(), nil
}
