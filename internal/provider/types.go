package provider

// ChatMessage is one turn in a model request. Content is either a plain
// string or a []ContentPart list for multimodal messages.
type ChatMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content any    `json:"content"`
}

// ContentPart is one typed element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image attachment.
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a plain text message.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: text}
}

// Request is one chat-completion call. Optional sampling parameters are nil
// when the caller does not set them and are omitted from the wire request.
type Request struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   *int

	// Extended sampling parameters, honored by the OpenPipe client only.
	N                *int
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Logprobs         *bool
	TopLogprobs      *int
	Stop             []string
	ResponseFormat   map[string]string
}

// Reply wraps a completed response in the uniform downstream shape.
type Reply struct {
	Choices []ReplyChoice `json:"choices"`
}

// ReplyChoice is one completion choice.
type ReplyChoice struct {
	Message ReplyMessage `json:"message"`
}

// ReplyMessage carries the assistant text of a choice.
type ReplyMessage struct {
	Content string `json:"content"`
}

// Content returns the first choice's text, or "" when there is none.
func (r *Reply) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

func wrapReply(content string) *Reply {
	return &Reply{Choices: []ReplyChoice{{Message: ReplyMessage{Content: content}}}}
}

// HasVisionContent reports whether any message carries an image part.
// Its presence flips the call into vision mode.
func HasVisionContent(messages []ChatMessage) bool {
	for _, msg := range messages {
		parts, ok := msg.Content.([]ContentPart)
		if !ok {
			continue
		}
		for _, part := range parts {
			if part.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

// Vision-dependent parameter defaults, applied only when the caller omits
// the value.
const (
	defaultMaxTokens       = 1000
	defaultMaxTokensVision = 2000
	defaultTemp            = 0.7
	defaultTempVision      = 0.5
)

// effectiveParams resolves temperature and max_tokens for a request.
func effectiveParams(req Request) (temperature float64, maxTokens int) {
	vision := HasVisionContent(req.Messages)

	if req.Temperature != nil {
		temperature = *req.Temperature
	} else if vision {
		temperature = defaultTempVision
	} else {
		temperature = defaultTemp
	}

	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	} else if vision {
		maxTokens = defaultMaxTokensVision
	} else {
		maxTokens = defaultMaxTokens
	}
	return temperature, maxTokens
}

// Recorder persists one audit row per settled backend call.
type Recorder interface {
	RecordInteraction(requestedAt, receivedAt int64, reqPayload, respPayload any, statusCode int, tags map[string]string) error
}

// streamCompletedMarker is logged in place of streamed text: the full reply
// is never buffered just for the audit row.
const streamCompletedMarker = "Streaming response completed"
