package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     Tree
		override Tree
		expected Tree
	}{
		{
			name:     "override scalar wins",
			base:     Tree{"a": 1, "b": 2},
			override: Tree{"b": 3},
			expected: Tree{"a": 1, "b": 3},
		},
		{
			name:     "nested trees merge recursively",
			base:     Tree{"engine": Tree{"llm": Tree{"tensor_parallel_size": 8, "gpu_memory_utilization": 0.9}}},
			override: Tree{"engine": Tree{"llm": Tree{"tensor_parallel_size": 4}}},
			expected: Tree{"engine": Tree{"llm": Tree{"tensor_parallel_size": 4, "gpu_memory_utilization": 0.9}}},
		},
		{
			name:     "scalar replaces tree",
			base:     Tree{"a": Tree{"b": 1}},
			override: Tree{"a": 2},
			expected: Tree{"a": 2},
		},
		{
			name:     "tree replaces scalar",
			base:     Tree{"a": 2},
			override: Tree{"a": Tree{"b": 1}},
			expected: Tree{"a": Tree{"b": 1}},
		},
		{
			name:     "override-only keys are added",
			base:     Tree{"a": 1},
			override: Tree{"b": 2},
			expected: Tree{"a": 1, "b": 2},
		},
		{
			name:     "empty override preserves base",
			base:     Tree{"a": 1},
			override: Tree{},
			expected: Tree{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Merge(tt.base, tt.override))
		})
	}
}

func TestMergeIdempotentOnOverride(t *testing.T) {
	base := Tree{"a": 1, "nested": Tree{"x": 1, "y": 2}}
	override := Tree{"nested": Tree{"y": 3}, "b": 4}

	once := Merge(base, override)
	twice := Merge(once, override)

	assert.Equal(t, once, twice)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := Tree{"nested": Tree{"x": 1}}
	override := Tree{"nested": Tree{"y": 2}}

	Merge(base, override)

	assert.Equal(t, Tree{"nested": Tree{"x": 1}}, base)
	assert.Equal(t, Tree{"nested": Tree{"y": 2}}, override)
}

func TestMergeDisjointOrderIndependent(t *testing.T) {
	a := Tree{"a": 1, "x": Tree{"p": 1}}
	b := Tree{"b": 2, "y": Tree{"q": 2}}

	assert.Equal(t, Merge(a, b), Merge(b, a))
}

func TestPathToTree(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		value    any
		expected Tree
	}{
		{
			name:     "deep path",
			path:     "engine.llm.max_concurrent_requests",
			value:    256,
			expected: Tree{"engine": Tree{"llm": Tree{"max_concurrent_requests": 256}}},
		},
		{
			name:     "single segment",
			path:     "model",
			value:    "x",
			expected: Tree{"model": "x"},
		},
		{
			name:     "two segments",
			path:     "deploy.gpu",
			value:    "NVIDIA H100 80GB",
			expected: Tree{"deploy": Tree{"gpu": "NVIDIA H100 80GB"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PathToTree(tt.path, tt.value))
		})
	}
}
