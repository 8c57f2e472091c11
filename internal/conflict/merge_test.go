package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge(t *testing.T) {
	t.Run("target-only keys survive", func(t *testing.T) {
		out := DeepMerge(
			map[string]any{"a": 1, "b": 2},
			map[string]any{"b": 3},
		)
		assert.Equal(t, map[string]any{"a": 1, "b": 3}, out)
	})

	t.Run("source-only keys are added", func(t *testing.T) {
		out := DeepMerge(
			map[string]any{"a": 1},
			map[string]any{"c": 3},
		)
		assert.Equal(t, map[string]any{"a": 1, "c": 3}, out)
	})

	t.Run("overlapping object keys merge recursively", func(t *testing.T) {
		out := DeepMerge(
			map[string]any{"addr": map[string]any{"city": "nyc", "zip": "10001"}},
			map[string]any{"addr": map[string]any{"city": "sf"}},
		)
		assert.Equal(t,
			map[string]any{"addr": map[string]any{"city": "sf", "zip": "10001"}},
			out)
	})

	t.Run("arrays replaced wholesale", func(t *testing.T) {
		out := DeepMerge(
			map[string]any{"tags": []any{"a", "b", "c"}},
			map[string]any{"tags": []any{"z"}},
		)
		assert.Equal(t, map[string]any{"tags": []any{"z"}}, out)
	})

	t.Run("object beats scalar and vice versa", func(t *testing.T) {
		out := DeepMerge(
			map[string]any{"v": map[string]any{"x": 1}},
			map[string]any{"v": "scalar"},
		)
		assert.Equal(t, map[string]any{"v": "scalar"}, out)

		out = DeepMerge(
			map[string]any{"v": "scalar"},
			map[string]any{"v": map[string]any{"x": 1}},
		)
		assert.Equal(t, map[string]any{"v": map[string]any{"x": 1}}, out)
	})

	t.Run("inputs are not modified", func(t *testing.T) {
		target := map[string]any{"nested": map[string]any{"keep": true}}
		source := map[string]any{"nested": map[string]any{"add": 1}}

		out := DeepMerge(target, source)
		out["nested"].(map[string]any)["mutated"] = true

		assert.Equal(t, map[string]any{"nested": map[string]any{"keep": true}}, target)
		assert.Equal(t, map[string]any{"nested": map[string]any{"add": 1}}, source)
	})
}
