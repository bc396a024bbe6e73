package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/config"
	"github.com/splintertree/splintertree/internal/emotion"
	"github.com/splintertree/splintertree/internal/history"
	"github.com/splintertree/splintertree/internal/provider"
	"github.com/splintertree/splintertree/internal/store"
)

// Completer is one chat-completion backend client.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Reply, error)
	Stream(ctx context.Context, req provider.Request) (*provider.Stream, error)
}

// Sender delivers outbound replies to the chat platform.
type Sender interface {
	Send(channelID, text string) error
}

// Summarizer condenses accumulated conversation spans into stored summaries.
type Summarizer interface {
	CheckAndSummarize(ctx context.Context, channelID string) (bool, error)
}

// Attachment is one inbound file reference.
type Attachment struct {
	URL         string
	ContentType string
	Filename    string
}

type registeredBackend struct {
	Backend
	client Completer
}

// Router matches inbound messages against backend trigger sets and runs one
// independent exchange pipeline per matching backend.
type Router struct {
	cfg        config.Config
	backends   []registeredBackend
	store      *store.Store
	assembler  *history.Assembler
	sender     Sender
	httpClient *http.Client
	summarizer Summarizer
	log        *logrus.Entry
}

// NewRouter creates a dispatch router. Backends are added with Register.
// The http client fetches text attachments for inlining.
func NewRouter(cfg config.Config, st *store.Store, asm *history.Assembler, sender Sender, httpClient *http.Client, logger *logrus.Logger) *Router {
	return &Router{
		cfg:        cfg,
		store:      st,
		assembler:  asm,
		sender:     sender,
		httpClient: httpClient,
		log:        logger.WithField("component", "dispatch"),
	}
}

// SetSummarizer installs the background summarizer checked after each
// inbound message. Optional.
func (r *Router) SetSummarizer(s Summarizer) {
	r.summarizer = s
}

// Register adds a backend and the client that serves its provider.
func (r *Router) Register(b Backend, client Completer) error {
	if len(b.Triggers) == 0 {
		return fmt.Errorf("backend %s has no triggers", b.Name)
	}
	if client == nil {
		return fmt.Errorf("backend %s has no client", b.Name)
	}
	r.backends = append(r.backends, registeredBackend{Backend: b, client: client})
	return nil
}

// HandleIncomingMessage processes one inbound platform message. The raw user
// turn is always logged, even when no trigger matches, because other
// listeners (history views) depend on a complete log. Each matching backend
// then runs its own pipeline; one backend's failure never affects another's.
func (r *Router) HandleIncomingMessage(authorID, channelID, guildID, text string, attachments []Attachment) {
	if r.cfg.BotUserID != "" && authorID == r.cfg.BotUserID {
		return
	}

	content := r.buildUserContent(text, attachments)

	parentID, err := r.store.AppendMessage(store.Message{
		ChannelID: channelID,
		GuildID:   guildID,
		UserID:    authorID,
		Content:   content,
	})
	if err != nil {
		r.log.WithError(err).Error("failed to log inbound message")
	}

	if r.summarizer != nil {
		go func() {
			if _, err := r.summarizer.CheckAndSummarize(context.Background(), channelID); err != nil {
				r.log.WithError(err).WithField("channel_id", channelID).Error("summary check failed")
			}
		}()
	}

	if config.ContainsBlockedKeyword(content) {
		r.log.WithField("channel_id", channelID).Info("inbound message matched blocklist, not dispatching")
		return
	}

	var wg sync.WaitGroup
	for _, b := range r.backends {
		if !b.Matches(content) {
			continue
		}
		wg.Add(1)
		go func(b registeredBackend) {
			defer wg.Done()
			r.runExchange(b, parentID, channelID, guildID, authorID, content, attachments)
		}(b)
	}
	wg.Wait()
}

// runExchange executes one backend pipeline: assemble context, call the
// backend, deliver the reply, persist the exchange.
func (r *Router) runExchange(b registeredBackend, parentID int64, channelID, guildID, authorID, content string, attachments []Attachment) {
	log := r.log.WithFields(logrus.Fields{
		"backend":    b.Name,
		"channel_id": channelID,
	})

	// The inbound turn is logged before assembly, so it comes back as the
	// newest history row; drop it there and carry it as the current turn.
	past := r.assembler.Build(channelID, r.cfg.WindowFor(channelID))
	if n := len(past); n > 0 && past[n-1].Role == "user" && past[n-1].Content == content {
		past = past[:n-1]
	}

	messages := make([]provider.ChatMessage, 0, len(past)+2)
	if b.Prompt != "" {
		messages = append(messages, provider.TextMessage("system", b.Prompt))
	}
	messages = append(messages, past...)
	messages = append(messages, r.userMessage(b.Backend, content, attachments))

	req := provider.Request{Model: b.Model, Messages: messages}

	reply, err := r.complete(b, req)
	if err != nil {
		log.WithError(err).Error("backend call failed")
		if sendErr := r.sender.Send(channelID, userErrorMessage(err)); sendErr != nil {
			log.WithError(sendErr).Error("failed to deliver error message")
		}
		return
	}
	if reply == "" {
		log.Warn("backend returned empty reply")
		return
	}

	tagged := fmt.Sprintf("[%s] %s", b.Nickname, reply)
	if err := r.sender.Send(channelID, tagged); err != nil {
		log.WithError(err).Error("failed to deliver reply")
	}

	if err := r.store.LogExchange(store.Exchange{
		ChannelID:       channelID,
		GuildID:         guildID,
		UserID:          authorID,
		Persona:         b.Name,
		UserMessage:     content,
		AssistantReply:  tagged,
		Emotion:         emotion.Analyze(reply),
		ParentMessageID: parentID,
	}); err != nil {
		log.WithError(err).Error("failed to log exchange")
	}
}

// complete demultiplexes streaming vs non-streaming delivery. Streamed
// fragments are accumulated into the full reply text.
func (r *Router) complete(b registeredBackend, req provider.Request) (string, error) {
	ctx := context.Background()

	if !r.cfg.StreamResponses {
		reply, err := b.client.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return reply.Content(), nil
	}

	stream, err := b.client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		sb.WriteString(stream.Text())
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("stream aborted: %w", err)
	}
	return sb.String(), nil
}

// userMessage builds the current turn. Vision-capable backends receive image
// attachments as typed parts; others get cached alt text markers instead.
func (r *Router) userMessage(b Backend, content string, attachments []Attachment) provider.ChatMessage {
	images := imageAttachments(attachments)
	if len(images) == 0 {
		return provider.TextMessage("user", content)
	}

	if b.SupportsVision {
		parts := []provider.ContentPart{{Type: "text", Text: content}}
		for _, a := range images {
			parts = append(parts, provider.ContentPart{
				Type:     "image_url",
				ImageURL: &provider.ImageURL{URL: a.URL},
			})
		}
		return provider.ChatMessage{Role: "user", Content: parts}
	}

	text := content
	for _, a := range images {
		if alt, ok := r.store.AltTextForAttachment(a.URL); ok {
			text += "\n[Image: " + alt + "]"
		}
	}
	return provider.TextMessage("user", text)
}

func imageAttachments(attachments []Attachment) []Attachment {
	var images []Attachment
	for _, a := range attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			images = append(images, a)
		}
	}
	return images
}

// maxInlineBytes bounds the text attachment content folded into a message.
const maxInlineBytes = 64 * 1024

// buildUserContent folds attachments into the logged message text: plain
// text files are fetched and inlined, images and other files become markers.
func (r *Router) buildUserContent(text string, attachments []Attachment) string {
	var sb strings.Builder
	sb.WriteString(text)
	for _, a := range attachments {
		switch {
		case isTextAttachment(a):
			body, err := r.fetchAttachment(a.URL)
			if err != nil {
				r.log.WithError(err).WithField("filename", a.Filename).Warn("failed to fetch text attachment")
				sb.WriteString("\n[Attachment: " + a.Filename + "]")
				continue
			}
			sb.WriteString("\n" + body)
		case strings.HasPrefix(a.ContentType, "image/"):
			sb.WriteString("\n[Image: " + a.Filename + "]")
		default:
			sb.WriteString("\n[Attachment: " + a.Filename + "]")
		}
	}
	return sb.String()
}

func isTextAttachment(a Attachment) bool {
	return strings.HasSuffix(a.Filename, ".txt") || strings.HasSuffix(a.Filename, ".md")
}

func (r *Router) fetchAttachment(url string) (string, error) {
	resp, err := r.httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// userErrorMessage maps a classified backend failure to its user-facing text.
func userErrorMessage(err error) string {
	switch {
	case errors.Is(err, provider.ErrQuotaExhausted):
		return config.ErrorMessages["credits_depleted"]
	case errors.Is(err, provider.ErrInvalidCredential):
		return config.ErrorMessages["invalid_api_key"]
	case errors.Is(err, provider.ErrRateLimited):
		return config.ErrorMessages["rate_limit"]
	case errors.Is(err, provider.ErrProviderUnavailable):
		return config.ErrorMessages["network_error"]
	default:
		return config.ErrorMessages["unknown_error"]
	}
}
