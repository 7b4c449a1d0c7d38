package openai

import (
	"encoding/json"

	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
)

const doneSentinel = "[DONE]"

type chunkFrame struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role         string            `json:"role"`
			Content      *string           `json:"content"`
			FunctionCall *api.FunctionCall `json:"function_call"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// StreamDecoder parses chat.completion.chunk server-sent events. The azure
// adapter shares it; both upstreams emit the same frames.
type StreamDecoder struct {
	kind    api.ProviderKind
	onError llm.ErrorHandler
	state   llm.StreamState
}

func NewStreamDecoder(kind api.ProviderKind, onError llm.ErrorHandler) *StreamDecoder {
	if onError == nil {
		onError = func(*llm.DecodeError) {}
	}
	return &StreamDecoder{kind: kind, onError: onError}
}

func (d *StreamDecoder) Decode(chunk []byte) []llm.Delta {
	var out []llm.Delta
	for _, line := range d.state.Lines(chunk) {
		out = append(out, d.frame(line)...)
	}
	return d.state.Track(out)
}

func (d *StreamDecoder) Flush() []llm.Delta {
	rest := d.state.Rest()
	if rest == "" {
		return nil
	}
	return d.state.Track(d.frame(rest))
}

func (d *StreamDecoder) Terminal() bool {
	return d.state.Terminal()
}

func (d *StreamDecoder) Err() error {
	return d.state.Err()
}

func (d *StreamDecoder) frame(line string) []llm.Delta {
	payload, ok := llm.DataPayload(line)
	if !ok || payload == "" || d.state.Done {
		return nil
	}
	if payload == doneSentinel {
		d.state.Done = true
		return nil
	}

	var f chunkFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.onError(&llm.DecodeError{Provider: d.kind, Frame: payload, Err: err})
		return nil
	}
	if f.Error != nil {
		msg := f.Error.Message
		if msg == "" {
			msg = f.Error.Type
		}
		d.state.Fail(&llm.UpstreamError{Provider: d.kind, Message: msg})
		return nil
	}

	deltas := make([]llm.Delta, 0, len(f.Choices))
	for _, c := range f.Choices {
		delta := llm.Delta{
			Index:        c.Index,
			Role:         c.Delta.Role,
			FunctionCall: c.Delta.FunctionCall,
			FinishReason: c.FinishReason,
			ID:           f.ID,
			Created:      f.Created,
		}
		if c.Delta.Content != nil {
			delta.Content = *c.Delta.Content
		}
		deltas = append(deltas, delta)
	}
	return deltas
}
