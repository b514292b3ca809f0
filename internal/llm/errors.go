package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProviderError reports a transport- or backend-level failure of a
// THINK call. Retryable marks transient conditions (timeouts,
// rate limits, 5xx) that the agent loop may retry with backoff;
// authentication and request-validation failures are not retryable.
type ProviderError struct {
	Provider  string
	Status    int // HTTP status, 0 for transport failures
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProtocolError reports a violation of the conversation protocol:
// an unparseable provider response, or a malformed call/result pairing
// in the history. Protocol errors are never silently repaired; they
// abort the current instruction.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Detail
}

// retryableStatus reports whether an HTTP status indicates a transient
// condition worth retrying.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// transportError wraps a failed request exchange as a ProviderError.
// Cancellation is passed through untouched so callers see ctx.Err.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Provider: provider, Retryable: true, Err: err}
}
