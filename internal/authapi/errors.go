package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingAccessToken is returned when a 2xx response carries no access token.
	ErrMissingAccessToken = errors.New("response missing access_token")

	// ErrMissingUser is returned when a login response carries no user.
	ErrMissingUser = errors.New("response missing user")
)

// APIError is a non-2xx answer from the credential or refresh endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: HTTP %d: %s", e.StatusCode, e.Message)
}

// UserMessage returns the text meant for display.
func (e *APIError) UserMessage() string {
	return e.Message
}

// Temporary reports whether retrying could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Message returns the human-readable part of err for display.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// newAPIError builds an APIError from a response body, picking the first
// message field the backend filled in.
func newAPIError(statusCode int, body []byte) *APIError {
	return &APIError{StatusCode: statusCode, Message: extractMessage(statusCode, body)}
}

func extractMessage(statusCode int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error_description", "error"} {
			raw, ok := payload[key]
			if !ok {
				continue
			}
			if msg := messageFrom(raw); msg != "" {
				return msg
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "{") {
		return text
	}

	return http.StatusText(statusCode)
}

// messageFrom accepts a plain string or a validation list like [{"msg": "..."}].
func messageFrom(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return ""
}
