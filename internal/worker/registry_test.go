package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("noop", func(_ domain.Context, _ map[string]any) (any, error) {
		return "first", nil
	})

	h, ok := r.Get("noop")
	require.True(t, ok)
	v, err := h(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryOverwrite(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("noop", func(_ domain.Context, _ map[string]any) (any, error) { return 1, nil })
	r.Register("noop", func(_ domain.Context, _ map[string]any) (any, error) { return 2, nil })

	h, ok := r.Get("noop")
	require.True(t, ok)
	v, err := h(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Len(t, r.Types(), 1)
}

func TestRegistryTypesSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	nop := func(_ domain.Context, _ map[string]any) (any, error) { return nil, nil }
	r.Register("webhook_processing", nop)
	r.Register("data_validation", nop)
	r.Register("noop", nop)
	assert.Equal(t, []string{"data_validation", "noop", "webhook_processing"}, r.Types())
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)
	for _, taskType := range []string{"noop", "data_validation", "webhook_processing", "system_maintenance", "health_check"} {
		_, ok := r.Get(taskType)
		assert.True(t, ok, taskType)
	}
}
