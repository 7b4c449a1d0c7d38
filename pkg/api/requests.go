package api

import (
	"encoding/json"
	"strings"
)

type ChatRequest struct {
	// message array is required, dive in and deep validate
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`

	// one or more model ids, comma separated (e.g. `gpt-4,claude-2`)
	Model string `json:"model" binding:"required"`

	// Can be string or []string
	Stop *Stop `json:"stop,omitempty"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`

	// LLM Parameters
	MaxTokens        int                `json:"max_tokens,omitempty" binding:"omitempty,min=1"`
	Temperature      *float64           `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TopP             *float64           `json:"top_p,omitempty" binding:"omitempty,min=0,max=1"`
	N                int                `json:"n,omitempty" binding:"omitempty,min=1"`
	FrequencyPenalty float64            `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64            `json:"presence_penalty,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	User             string             `json:"user,omitempty"`

	// Function calling
	Functions    []FunctionDefinition `json:"functions,omitempty"`
	FunctionCall json.RawMessage      `json:"function_call,omitempty"`
}

// ModelIDs splits the model field into its individual, trimmed ids.
// Empty segments are dropped, order is preserved.
func (r *ChatRequest) ModelIDs() []string {
	var ids []string
	for _, id := range strings.Split(r.Model, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ForModel returns a shallow copy of the request targeted at a single model.
func (r *ChatRequest) ForModel(id string, stream bool) *ChatRequest {
	clone := *r
	clone.Model = id
	clone.Stream = stream
	return &clone
}

type ChatMessage struct {
	Role         string        `json:"role,omitempty" binding:"required,oneof=user assistant system function tool"`
	Content      Content       `json:"content"` // string or []ContentPart
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Content handles the union type: string | []ContentPart
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c *Content) UnmarshalJSON(data []byte) error {
	// Try string first
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	// Try array of parts
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	// Null or other?
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String flattens the content into plain text. Non-text parts are skipped.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type Stop struct {
	Val []string
}

func (s *Stop) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Val)
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	s.Val = []string{str}
	return nil
}

func (s Stop) MarshalJSON() ([]byte, error) {
	if len(s.Val) == 1 {
		return json.Marshal(s.Val[0])
	}
	return json.Marshal(s.Val)
}

// Values is nil-safe access to the stop sequences.
func (s *Stop) Values() []string {
	if s == nil {
		return nil
	}
	return s.Val
}

type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema object
}

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
	System    Role = "system"
	Function  Role = "function"
	Tool      Role = "tool"
)
