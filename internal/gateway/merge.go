package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/onellm-router/pkg/api"
)

// merger folds per-model responses into one MergedResponse.
type merger struct {
	resp        api.MergedResponse
	usage       api.Usage
	annotations map[string]struct{}
	succeeded   bool
}

func newMerger(model string, now time.Time) *merger {
	return &merger{
		resp: api.MergedResponse{
			ChatResponse: api.ChatResponse{
				Object:  api.ObjectCompletion,
				Created: now.Unix(),
				Model:   model,
				Choices: []api.Choice{},
			},
			Errors: []string{},
		},
		annotations: make(map[string]struct{}),
	}
}

func (m *merger) add(resp *api.ChatResponse) {
	if !m.succeeded {
		m.succeeded = true
		m.resp.ID = resp.ID
		if resp.Created != 0 {
			m.resp.Created = resp.Created
		}
	}

	for _, c := range resp.Choices {
		c.Index = len(m.resp.Choices)
		m.resp.Choices = append(m.resp.Choices, c)
	}
	m.usage.Add(resp.Usage)

	for _, a := range resp.PromptAnnotations {
		key, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if _, seen := m.annotations[string(key)]; seen {
			continue
		}
		m.annotations[string(key)] = struct{}{}
		m.resp.PromptAnnotations = append(m.resp.PromptAnnotations, a)
	}
}

func (m *merger) fail(id string, err error) {
	m.resp.Errors = append(m.resp.Errors, failureMessage(id, err))
}

func (m *merger) result() *api.MergedResponse {
	if m.resp.ID == "" {
		m.resp.ID = "chatcmpl-" + uuid.NewString()
	}
	usage := m.usage
	m.resp.Usage = &usage
	return &m.resp
}
