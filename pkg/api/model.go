package api

// ProviderKind identifies which adapter serves a model.
type ProviderKind string

const (
	ProviderOpenAI ProviderKind = "openai"
	ProviderAzure  ProviderKind = "azure-openai"
	ProviderClaude ProviderKind = "claude"
	ProviderPaLM   ProviderKind = "palm"
)

type Model struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	OwnedBy  string       `json:"owned_by"`
	Provider ProviderKind `json:"provider"`

	// Routing metadata for deployment-based providers.
	Resource string `json:"resource,omitempty"`
	KeyIndex int    `json:"key_index,omitempty"`
}

// Public strips routing metadata before a model is shown to clients.
func (m Model) Public() Model {
	m.Resource = ""
	m.KeyIndex = 0
	return m
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type ModelFilter struct {
	Provider string
	OwnedBy  string
	ID       string
}
