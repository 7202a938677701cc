package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies gateway failures.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindModelUnavailable Kind = "model_unavailable"
	KindBadResponse      Kind = "bad_response"
)

// Error is a classified gateway failure.
type Error struct {
	Kind Kind
	// RetryAfterSeconds is the server-supplied cooldown, 0 when absent.
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// Classify maps a raw client error to a gateway Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is surfaced as-is by callers; classified as timeout
		// for retry purposes it would be wrong, so treat as transport and
		// let the ctx check in the retry loop stop further attempts.
		return &Error{Kind: KindTransport, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || containsRateLimit(apiErr.Message):
			return &Error{
				Kind:              KindRateLimited,
				RetryAfterSeconds: parseRetryAfter(apiErr.Message),
				Err:               err,
			}
		case apiErr.HTTPStatusCode == 404 || apiErr.Code == "model_not_found":
			return &Error{Kind: KindModelUnavailable, Err: err}
		case apiErr.HTTPStatusCode == 408:
			return &Error{Kind: KindTimeout, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Kind: KindTransport, Err: err}
		default:
			return &Error{Kind: KindBadResponse, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindTransport, Err: err}
	}

	if containsRateLimit(err.Error()) {
		return &Error{Kind: KindRateLimited, Err: err}
	}

	return &Error{Kind: KindTransport, Err: err}
}

func containsRateLimit(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit")
}

// retryAfterRe matches the "try again in Ns" phrasing rate-limit messages
// carry when the Retry-After header is not surfaced by the client.
var retryAfterRe = regexp.MustCompile(`(?i)(?:retry|try again)[^\d]{0,20}(\d+)\s*s`)

// parseRetryAfter extracts a server-suggested cooldown in seconds, 0 if none.
func parseRetryAfter(msg string) int {
	m := retryAfterRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return seconds
}
