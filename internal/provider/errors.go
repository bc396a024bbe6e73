package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Classified backend failures. Each maps to a distinct user-facing message
// at the dispatch layer.
var (
	ErrQuotaExhausted      = errors.New("provider credits depleted")
	ErrInvalidCredential   = errors.New("invalid provider api key")
	ErrRateLimited         = errors.New("provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ProviderError is a non-200 HTTP response that matched no specific class.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error: %d - %s", e.Provider, e.Status, e.Body)
}

// classifyResponse maps a non-200 response to its error class by body
// content. These errors are never retried.
func classifyResponse(provider string, status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "insufficient_quota"):
		return fmt.Errorf("%s: %w", provider, ErrQuotaExhausted)
	case strings.Contains(lower, "invalid_api_key"):
		return fmt.Errorf("%s: %w", provider, ErrInvalidCredential)
	case strings.Contains(lower, "rate_limit_exceeded"):
		return fmt.Errorf("%s: %w", provider, ErrRateLimited)
	default:
		return &ProviderError{Provider: provider, Status: status, Body: truncate(body, 400)}
	}
}

// isTransient reports whether a request error is a connection failure or
// timeout worth retrying. HTTP responses of any status are not transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
