package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_WrapResult(t *testing.T) {
	t.Parallel()

	m := map[string]any{"ok": true}
	assert.Equal(t, m, WrapResult(m))

	assert.Equal(t, map[string]any{"value": 42}, WrapResult(42))
	assert.Equal(t, map[string]any{"value": "done"}, WrapResult("done"))
	assert.Equal(t, map[string]any{"value": []any{1, 2}}, WrapResult([]any{1, 2}))
	assert.Nil(t, WrapResult(nil))
}

func Test_MustMarshal(t *testing.T) {
	t.Parallel()

	assert.JSONEq(t, `{"a":1}`, string(MustMarshal(map[string]any{"a": 1})))
	// unmarshalable value falls back to an empty object
	assert.Equal(t, "{}", string(MustMarshal(func() {})))
}
