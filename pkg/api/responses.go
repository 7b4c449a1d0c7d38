package api

const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"
)

// Finish reasons emitted to clients. Upstream reasons outside this set pass through as-is.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

type ChatResponse struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"` // "chat.completion" or "chat.completion.chunk"
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []Choice           `json:"choices"`
	Usage             *Usage             `json:"usage,omitempty"`
	PromptAnnotations []PromptAnnotation `json:"prompt_annotations,omitempty"`
}

// MergedResponse is the non-streaming answer of a fan-out request. Errors
// always serializes, as an empty list when every model succeeded.
type MergedResponse struct {
	ChatResponse
	Errors []string `json:"errors"`
}

type Choice struct {
	Index        int            `json:"index"`
	Message      *ChatMessage   `json:"message,omitempty"` // For non-streaming
	Delta        *ChatMessage   `json:"delta,omitempty"`   // For streaming
	FinishReason *string        `json:"finish_reason"`
	Error        *ErrorResponse `json:"error,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage block into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// PromptAnnotation is an opaque provider annotation about the prompt (content filters, safety ratings).
type PromptAnnotation map[string]interface{}

type ErrorResponse struct {
	Code    interface{} `json:"code,omitempty"`
	Message string      `json:"message"`
	Model   string      `json:"model,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // JSON string
}

// Reason returns a pointer usable as a finish_reason value.
func Reason(r string) *string {
	return &r
}
