package cli

import (
	"bytes"
	"testing"

	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/stretchr/testify/assert"
)

func withoutColor(t *testing.T) {
	t.Helper()
	old := disableColor
	disableColor = true
	t.Cleanup(func() { disableColor = old })
}

func TestBanner(t *testing.T) {
	withoutColor(t)

	var buf bytes.Buffer
	Banner{
		Version:   "v1.0.0",
		Addr:      ":8080",
		Providers: []api.ProviderKind{api.ProviderOpenAI},
		Disabled:  []api.ProviderKind{api.ProviderPaLM},
		Latest:    "v1.1.0",
	}.Write(&buf)

	out := buf.String()
	assert.Contains(t, out, "Listening on :8080")
	assert.Contains(t, out, "✔ openai")
	assert.Contains(t, out, "✘ palm (not configured)")
	assert.Contains(t, out, "v1.1.0 (running v1.0.0)")
}

func TestHighlightJSON(t *testing.T) {
	old := disableColor
	disableColor = false
	t.Cleanup(func() { disableColor = old })

	out := HighlightJSON(`{"ok":true,"n":3}`)
	assert.Contains(t, out, Blue+`"ok"`+ResetCode+":")
	assert.Contains(t, out, Yellow+"true"+ResetCode)
	assert.Contains(t, out, Purple+"3"+ResetCode)
}

func TestPrettyFormat_NoColor(t *testing.T) {
	withoutColor(t)

	assert.Equal(t, "{\n  \"a\": 1\n}", PrettyFormat(map[string]int{"a": 1}))
}
