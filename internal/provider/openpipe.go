package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OpenPipe calls an OpenPipe-compatible chat-completions endpoint. It carries
// the extended sampling parameters; unset fields are omitted from the wire
// request entirely, never sent as null.
type OpenPipe struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	recorder   Recorder
	retry      RetryPolicy
	log        *logrus.Entry
}

// NewOpenPipe creates an OpenPipe client for the given API base URL
// (e.g. "https://api.openpipe.ai/v1").
func NewOpenPipe(apiKey, baseURL string, httpClient *http.Client, recorder Recorder, logger *logrus.Logger) *OpenPipe {
	return &OpenPipe{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		recorder:   recorder,
		retry:      DefaultRetryPolicy(),
		log:        logger.WithField("component", "openpipe"),
	}
}

type openPipeRequest struct {
	Model            string            `json:"model"`
	Messages         []ChatMessage     `json:"messages"`
	Temperature      float64           `json:"temperature"`
	MaxTokens        int               `json:"max_tokens"`
	Stream           bool              `json:"stream"`
	N                *int              `json:"n,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	Logprobs         *bool             `json:"logprobs,omitempty"`
	TopLogprobs      *int              `json:"top_logprobs,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	ResponseFormat   map[string]string `json:"response_format,omitempty"`
}

func (c *OpenPipe) buildPayload(req Request, stream bool) openPipeRequest {
	temperature, maxTokens := effectiveParams(req)
	return openPipeRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		Stream:           stream,
		N:                req.N,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Logprobs:         req.Logprobs,
		TopLogprobs:      req.TopLogprobs,
		Stop:             req.Stop,
		ResponseFormat:   req.ResponseFormat,
	}
}

func (c *OpenPipe) endpoint() string {
	return c.baseURL + "/chat/completions"
}

// Complete issues a non-streaming chat completion.
func (c *OpenPipe) Complete(ctx context.Context, req Request) (*Reply, error) {
	payload := c.buildPayload(req, false)

	requestedAt := time.Now().UnixMilli()
	resp, err := doWithRetry(ctx, c.retry, c.log, func() (*http.Response, error) {
		return postJSON(ctx, c.httpClient, c.endpoint(), c.apiKey, payload)
	})
	if err != nil {
		c.record(requestedAt, payload, map[string]string{"error": err.Error()}, 0)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := fmt.Errorf("failed reading openpipe response: %w", err)
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   truncate(string(body), 400),
		}).Error("openpipe api error")
		c.record(requestedAt, payload, map[string]string{"error": truncate(string(body), 400)}, resp.StatusCode)
		return nil, classifyResponse("openpipe", resp.StatusCode, string(body))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		wrapped := fmt.Errorf("failed to parse openpipe response: %s", truncate(string(body), 400))
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}
	if len(parsed.Choices) == 0 {
		wrapped := fmt.Errorf("openpipe response has no choices")
		c.record(requestedAt, payload, map[string]string{"error": wrapped.Error()}, resp.StatusCode)
		return nil, wrapped
	}

	reply := wrapReply(parsed.Choices[0].Message.Content)
	c.record(requestedAt, payload, reply, resp.StatusCode)
	return reply, nil
}

// Stream issues a streaming chat completion.
func (c *OpenPipe) Stream(ctx context.Context, req Request) (*Stream, error) {
	payload := c.buildPayload(req, true)

	requestedAt := time.Now().UnixMilli()
	resp, err := doWithRetry(ctx, c.retry, c.log, func() (*http.Response, error) {
		return postJSON(ctx, c.httpClient, c.endpoint(), c.apiKey, payload)
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
		}).Error("openpipe api error")
		c.record(requestedAt, payload, map[string]string{"error": truncate(string(body), 400)}, resp.StatusCode)
		return nil, classifyResponse("openpipe", resp.StatusCode, string(body))
	}

	return newStream(resp.Body, c.log, func() {
		c.record(requestedAt, payload, wrapReply(streamCompletedMarker), http.StatusOK)
	}), nil
}

func (c *OpenPipe) record(requestedAt int64, reqPayload, respPayload any, status int) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordInteraction(requestedAt, time.Now().UnixMilli(), reqPayload, respPayload, status, map[string]string{
		"source":     "openpipe",
		"request_id": uuid.NewString(),
	})
}
