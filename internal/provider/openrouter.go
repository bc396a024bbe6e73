package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OpenRouter calls the OpenRouter chat-completions REST endpoint directly.
type OpenRouter struct {
	apiKey     string
	url        string
	httpClient *http.Client
	recorder   Recorder
	retry      RetryPolicy
	log        *logrus.Entry
}

// NewOpenRouter creates an OpenRouter client. The http client and recorder
// are process-wide singletons shared across all backends.
func NewOpenRouter(apiKey, url string, httpClient *http.Client, recorder Recorder, logger *logrus.Logger) *OpenRouter {
	return &OpenRouter{
		apiKey:     apiKey,
		url:        url,
		httpClient: httpClient,
		recorder:   recorder,
		retry:      DefaultRetryPolicy(),
		log:        logger.WithField("component", "openrouter"),
	}
}

type openRouterRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete issues a non-streaming chat completion. Exactly one interaction
// record is written once the call settles, whatever the outcome.
func (c *OpenRouter) Complete(ctx context.Context, req Request) (*Reply, error) {
	temperature, maxTokens := effectiveParams(req)
	payload := openRouterRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	}

	requestedAt := time.Now().UnixMilli()
	resp, err := doWithRetry(ctx, c.retry, c.log, func() (*http.Response, error) {
		return postJSON(ctx, c.httpClient, c.url, c.apiKey, payload)
	})
	if err != nil {
		c.record(requestedAt, payload, map[string]string{"error": err.Error()}, 0)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := fmt.Errorf("failed reading openrouter response: %w", err)
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   truncate(string(body), 400),
		}).Error("openrouter api error")
		c.record(requestedAt, payload, map[string]string{"error": truncate(string(body), 400)}, resp.StatusCode)
		return nil, classifyResponse("openrouter", resp.StatusCode, string(body))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		wrapped := fmt.Errorf("failed to parse openrouter response: %s", truncate(string(body), 400))
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}
	if len(parsed.Choices) == 0 {
		wrapped := fmt.Errorf("openrouter response has no choices")
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}

	reply := wrapReply(parsed.Choices[0].Message.Content)
	c.record(requestedAt, payload, reply, resp.StatusCode)
	return reply, nil
}

// Stream issues a streaming chat completion and returns a lazy fragment
// sequence. The interaction record is written when the transport stream is
// exhausted; its response payload is a fixed completion marker, not the
// concatenated text.
func (c *OpenRouter) Stream(ctx context.Context, req Request) (*Stream, error) {
	temperature, maxTokens := effectiveParams(req)
	payload := openRouterRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}

	requestedAt := time.Now().UnixMilli()
	resp, err := doWithRetry(ctx, c.retry, c.log, func() (*http.Response, error) {
		return postJSON(ctx, c.httpClient, c.url, c.apiKey, payload)
	})
	if err != nil {
		c.record(requestedAt, payload, map[string]string{"error": err.Error()}, 0)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   truncate(string(body), 400),
		}).Error("openrouter api error")
		c.record(requestedAt, payload, map[string]string{"error": truncate(string(body), 400)}, resp.StatusCode)
		return nil, classifyResponse("openrouter", resp.StatusCode, string(body))
	}

	return newStream(resp.Body, c.log, func() {
		c.record(requestedAt, payload, wrapReply(streamCompletedMarker), http.StatusOK)
	}), nil
}

func (c *OpenRouter) record(requestedAt int64, reqPayload, respPayload any, status int) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordInteraction(requestedAt, time.Now().UnixMilli(), reqPayload, respPayload, status, map[string]string{
		"source":     "openrouter",
		"request_id": uuid.NewString(),
	})
}

// postJSON sends one authorized chat-completion request.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	return client.Do(req)
}
