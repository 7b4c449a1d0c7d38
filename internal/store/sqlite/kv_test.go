package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nulzo/onellm-router/internal/store/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type model struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

func newTestStore(t *testing.T) (*KVStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := OpenKVStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestKVStore_SetIfAbsentThenForce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var got model
	assert.ErrorIs(t, s.Get(ctx, "model:gpt-4", &got), cache.ErrNotFound)

	ok, err := s.SetIfAbsent(ctx, "model:gpt-4", model{ID: "gpt-4", Provider: "openai"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "model:gpt-4", model{ID: "gpt-4", Provider: "azure-openai"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Get(ctx, "model:gpt-4", &got))
	assert.Equal(t, "openai", got.Provider)

	require.NoError(t, s.Set(ctx, "model:gpt-4", model{ID: "gpt-4", Provider: "azure-openai"}))
	require.NoError(t, s.Get(ctx, "model:gpt-4", &got))
	assert.Equal(t, "azure-openai", got.Provider)
}

func TestKVStore_KeysPrefixIsLiteral(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "model:a", model{}))
	require.NoError(t, s.Set(ctx, "model:b", model{}))
	require.NoError(t, s.Set(ctx, "modelXa", model{}))

	keys, err := s.Keys(ctx, "model:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"model:a", "model:b"}, keys)
}

func TestKVStore_SurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "model:claude-2", model{ID: "claude-2"}))
	require.NoError(t, s.Close())

	reopened, err := OpenKVStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	var got model
	require.NoError(t, reopened.Get(ctx, "model:claude-2", &got))
	assert.Equal(t, "claude-2", got.ID)
}
