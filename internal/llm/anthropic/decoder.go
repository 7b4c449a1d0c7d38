package anthropic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
)

const (
	eventPrefix = "event:"
	pingEvent   = "ping"
)

var errIncompleteFrame = errors.New("frame is not a complete json object")

type completionFrame struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// StreamDecoder parses the labelled events of the completion stream:
//
//	event: completion
//	data: {"completion":" Hello","stop_reason":null}
//
//	event: ping
//	data: {}
//
// Ping events are keep-alives and the data line following one is dropped.
// An error payload ends the stream and is reported through Err.
type StreamDecoder struct {
	onError llm.ErrorHandler
	state   llm.StreamState
}

func NewStreamDecoder(onError llm.ErrorHandler) *StreamDecoder {
	if onError == nil {
		onError = func(*llm.DecodeError) {}
	}
	return &StreamDecoder{onError: onError}
}

func (d *StreamDecoder) Decode(chunk []byte) []llm.Delta {
	var out []llm.Delta
	for _, line := range d.state.Lines(chunk) {
		out = append(out, d.line(line)...)
	}
	return d.state.Track(out)
}

func (d *StreamDecoder) Flush() []llm.Delta {
	rest := d.state.Rest()
	if rest == "" {
		return nil
	}
	return d.state.Track(d.line(rest))
}

func (d *StreamDecoder) Terminal() bool {
	return d.state.Terminal()
}

func (d *StreamDecoder) Err() error {
	return d.state.Err()
}

func (d *StreamDecoder) line(line string) []llm.Delta {
	if strings.HasPrefix(line, eventPrefix) {
		event := strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		d.state.SkipNext = event == pingEvent
		return nil
	}

	payload, ok := llm.DataPayload(line)
	if !ok || payload == "" || d.state.Done {
		return nil
	}
	if d.state.SkipNext {
		d.state.SkipNext = false
		return nil
	}

	if !strings.HasPrefix(payload, "{") || !strings.HasSuffix(payload, "}") {
		d.onError(&llm.DecodeError{Provider: api.ProviderClaude, Frame: payload, Err: errIncompleteFrame})
		return nil
	}

	var f completionFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.onError(&llm.DecodeError{Provider: api.ProviderClaude, Frame: payload, Err: err})
		return nil
	}
	if f.Error != nil {
		msg := f.Error.Message
		if msg == "" {
			msg = f.Error.Type
		}
		d.state.Fail(&llm.UpstreamError{Provider: api.ProviderClaude, Message: msg})
		return nil
	}

	if finish := FinishReason(f.StopReason); finish != nil {
		return []llm.Delta{{Role: string(api.Assistant), FinishReason: finish}}
	}
	if f.Completion == "" {
		return nil
	}
	return []llm.Delta{{Role: string(api.Assistant), Content: f.Completion}}
}
