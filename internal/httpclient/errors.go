package httpclient

import (
	"encoding/json"
	"fmt"
)

// UpstreamError represents a non-2xx answer from an upstream service.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Message extracts the human readable reason from the body. OpenAI, Anthropic
// and Google all nest it under error.message; anything else falls back to the raw body.
func (e *UpstreamError) Message() string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(e.Body) > 0 {
		return string(e.Body)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}
