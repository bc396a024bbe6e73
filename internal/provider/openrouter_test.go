package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type recordedCall struct {
	requestedAt int64
	receivedAt  int64
	request     any
	response    any
	statusCode  int
	tags        map[string]string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) RecordInteraction(requestedAt, receivedAt int64, reqPayload, respPayload any, statusCode int, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{requestedAt, receivedAt, reqPayload, respPayload, statusCode, tags})
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRecorder) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func completionBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func TestComplete_Success(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		fmt.Fprint(w, completionBody("hello from the model"))
	}))
	defer server.Close()

	c := NewOpenRouter("test-key", server.URL, server.Client(), rec, quietLogger())
	reply, err := c.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []ChatMessage{TextMessage("user", "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := reply.Content(); got != "hello from the model" {
		t.Errorf("content = %q", got)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 interaction record, got %d", rec.count())
	}

	call := rec.last()
	if call.statusCode != 200 {
		t.Errorf("recorded status = %d", call.statusCode)
	}
	if call.tags["source"] != "openrouter" {
		t.Errorf("tags = %v", call.tags)
	}
	if call.tags["request_id"] == "" {
		t.Error("expected a request_id tag")
	}
	if call.receivedAt < call.requestedAt {
		t.Errorf("received_at %d before requested_at %d", call.receivedAt, call.requestedAt)
	}
}

func TestComplete_DefaultParams(t *testing.T) {
	var captured openRouterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Error(err)
		}
		fmt.Fprint(w, completionBody("ok"))
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), nil, quietLogger())
	_, err := c.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []ChatMessage{TextMessage("user", "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if captured.Temperature != 0.7 || captured.MaxTokens != 1000 {
		t.Errorf("defaults = temp %v, max_tokens %d", captured.Temperature, captured.MaxTokens)
	}
	if captured.Stream {
		t.Error("non-streaming call must not set stream")
	}
}

func TestComplete_VisionDefaults(t *testing.T) {
	var captured openRouterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Error(err)
		}
		fmt.Fprint(w, completionBody("a cat"))
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), nil, quietLogger())
	_, err := c.Complete(context.Background(), Request{
		Model: "m",
		Messages: []ChatMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: "what is this"},
				{Type: "image_url", ImageURL: &ImageURL{URL: "https://img/cat.png"}},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if captured.Temperature != 0.5 || captured.MaxTokens != 2000 {
		t.Errorf("vision defaults = temp %v, max_tokens %d", captured.Temperature, captured.MaxTokens)
	}
}

func TestComplete_ExplicitParamsWin(t *testing.T) {
	var captured openRouterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, completionBody("ok"))
	}))
	defer server.Close()

	temp := 0.2
	maxTokens := 64
	c := NewOpenRouter("k", server.URL, server.Client(), nil, quietLogger())
	_, err := c.Complete(context.Background(), Request{
		Model: "m",
		Messages: []ChatMessage{{
			Role:    "user",
			Content: []ContentPart{{Type: "image_url", ImageURL: &ImageURL{URL: "https://img/x.png"}}},
		}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatal(err)
	}
	if captured.Temperature != 0.2 || captured.MaxTokens != 64 {
		t.Errorf("explicit params overridden: temp %v, max_tokens %d", captured.Temperature, captured.MaxTokens)
	}
}

func TestComplete_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", 402, `{"error":{"code":"insufficient_quota"}}`, ErrQuotaExhausted},
		{"credential", 401, `{"error":{"code":"invalid_api_key"}}`, ErrInvalidCredential},
		{"rate limit", 429, `{"error":{"code":"rate_limit_exceeded"}}`, ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var requests atomic.Int32
			rec := &fakeRecorder{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
			_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			// HTTP error responses settle the call: one request, one record.
			if n := requests.Load(); n != 1 {
				t.Errorf("expected 1 request, got %d", n)
			}
			if rec.count() != 1 {
				t.Errorf("expected 1 interaction record, got %d", rec.count())
			}
			if rec.last().statusCode != tc.status {
				t.Errorf("recorded status = %d, want %d", rec.last().statusCode, tc.status)
			}
		})
	}
}

func TestComplete_UnclassifiedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "backend exploded")
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), nil, quietLogger())
	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if provErr.Provider != "openrouter" || provErr.Status != 500 {
		t.Errorf("unexpected provider error: %+v", provErr)
	}
	for _, sentinel := range []error{ErrQuotaExhausted, ErrInvalidCredential, ErrRateLimited} {
		if errors.Is(err, sentinel) {
			t.Errorf("unclassified error must not match %v", sentinel)
		}
	}
}

// dropConnections serves n connection resets before handing off to next.
func dropConnections(t *testing.T, n int32, next http.Handler) http.Handler {
	var served atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) <= n {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Fatal(err)
			}
			conn.Close()
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	rec := &fakeRecorder{}
	server := httptest.NewServer(dropConnections(t, 2, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("recovered"))
	})))
	defer server.Close()

	inner := server.Client().Transport
	client := &http.Client{Transport: countingTransport{inner: inner, requests: &requests}}

	c := NewOpenRouter("k", server.URL, client, rec, quietLogger())
	reply, err := c.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content() != "recovered" {
		t.Errorf("content = %q", reply.Content())
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if rec.count() != 1 {
		t.Errorf("expected exactly 1 interaction record, got %d", rec.count())
	}
}

type countingTransport struct {
	inner    http.RoundTripper
	requests *atomic.Int32
}

func (t countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.requests.Add(1)
	return t.inner.RoundTrip(r)
}

func TestComplete_ExhaustedRetries(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(dropConnections(t, 100, nil))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
	c.retry = RetryPolicy{MaxAttempts: 2, MaxElapsed: time.Minute}

	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 interaction record, got %d", rec.count())
	}
	if rec.last().statusCode != 0 {
		t.Errorf("recorded status = %d, want 0 for never-settled call", rec.last().statusCode)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 interaction record, got %d", rec.count())
	}
}

func TestStream_CollectsFragments(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openRouterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming call must set stream")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment\n")
		fmt.Fprint(w, "this line is garbage\n")
		fmt.Fprint(w, "data: not even json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo!\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
	stream, err := c.Stream(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var got string
	for stream.Next() {
		got += stream.Text()
	}
	if err := stream.Err(); err != nil {
		t.Fatal(err)
	}
	if got != "Hello!" {
		t.Errorf("collected %q, want %q", got, "Hello!")
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 interaction record after exhaustion, got %d", rec.count())
	}
	call := rec.last()
	reply, ok := call.response.(*Reply)
	if !ok {
		t.Fatalf("recorded response type %T", call.response)
	}
	if reply.Content() != streamCompletedMarker {
		t.Errorf("recorded response = %q, want completion marker", reply.Content())
	}
	if call.statusCode != 200 {
		t.Errorf("recorded status = %d", call.statusCode)
	}
}

func TestStream_EarlyCloseSkipsRecord(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
	stream, err := c.Stream(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if err != nil {
		t.Fatal(err)
	}

	if !stream.Next() {
		t.Fatal("expected a first fragment")
	}
	stream.Close()
	if stream.Next() {
		t.Error("closed stream must not advance")
	}
	if rec.count() != 0 {
		t.Errorf("abandoned stream must not be recorded, got %d records", rec.count())
	}
}

func TestStream_HTTPError(t *testing.T) {
	rec := &fakeRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":"rate_limit_exceeded"}}`)
	}))
	defer server.Close()

	c := NewOpenRouter("k", server.URL, server.Client(), rec, quietLogger())
	_, err := c.Stream(context.Background(), Request{Model: "m", Messages: []ChatMessage{TextMessage("user", "hi")}})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 interaction record, got %d", rec.count())
	}
}
