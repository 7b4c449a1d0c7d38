package gateway

import (
	"github.com/nulzo/onellm-router/pkg/api"
)

type collected struct {
	resp    *api.ChatResponse
	order   []int
	choices map[int]*api.Choice
}

// Collect rebuilds complete responses from a chunk sequence, one per model
// in the order the models first appear. Content and function call
// fragments are concatenated and the last finish reason seen wins. Error
// markers come back as choices carrying their error.
func Collect(chunks []*api.ChatResponse) []*api.ChatResponse {
	var models []*collected
	byModel := make(map[string]*collected)

	for _, chunk := range chunks {
		acc, ok := byModel[chunk.Model]
		if !ok {
			acc = &collected{
				resp: &api.ChatResponse{
					ID:      chunk.ID,
					Object:  api.ObjectCompletion,
					Created: chunk.Created,
					Model:   chunk.Model,
				},
				choices: make(map[int]*api.Choice),
			}
			byModel[chunk.Model] = acc
			models = append(models, acc)
		}

		for _, c := range chunk.Choices {
			choice, ok := acc.choices[c.Index]
			if !ok {
				choice = &api.Choice{
					Index:   c.Index,
					Message: &api.ChatMessage{Role: string(api.Assistant)},
				}
				acc.choices[c.Index] = choice
				acc.order = append(acc.order, c.Index)
			}
			appendDelta(choice, c)
		}
	}

	out := make([]*api.ChatResponse, 0, len(models))
	for _, acc := range models {
		for _, idx := range acc.order {
			acc.resp.Choices = append(acc.resp.Choices, *acc.choices[idx])
		}
		out = append(out, acc.resp)
	}
	return out
}

func appendDelta(acc *api.Choice, c api.Choice) {
	if c.FinishReason != nil {
		acc.FinishReason = c.FinishReason
	}
	if c.Error != nil {
		acc.Error = c.Error
	}
	if c.Delta == nil {
		return
	}
	if c.Delta.Role != "" {
		acc.Message.Role = c.Delta.Role
	}
	acc.Message.Content.Text += c.Delta.Content.String()
	if fc := c.Delta.FunctionCall; fc != nil {
		if acc.Message.FunctionCall == nil {
			acc.Message.FunctionCall = &api.FunctionCall{}
		}
		acc.Message.FunctionCall.Name += fc.Name
		acc.Message.FunctionCall.Arguments += fc.Arguments
	}
}
