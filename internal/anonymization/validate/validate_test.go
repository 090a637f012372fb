package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanon/internal/anonymization/partition"
	"kanon/internal/dataset"
)

func build(t *testing.T, values ...string) partition.Partition {
	t.Helper()
	col := make([]dataset.Value, len(values))
	for i, v := range values {
		col[i] = dataset.Categorical(v)
	}
	p, err := partition.Build(col)
	require.NoError(t, err)
	return p
}

func TestValidate(t *testing.T) {
	t.Run("passes when every class reaches k", func(t *testing.T) {
		res := Validate(build(t, "a", "a", "a", "b", "b", "b"), 3)
		assert.True(t, res.Passed)
		assert.Equal(t, 3, res.MinSize)
		assert.Equal(t, 2, res.ClassCount)
		assert.Empty(t, res.Violating)
	})

	t.Run("reports every class below k", func(t *testing.T) {
		res := Validate(build(t, "a", "b", "a", "c", "a", "b"), 3)
		assert.False(t, res.Passed)
		assert.Equal(t, 1, res.MinSize)
		require.Len(t, res.Violating, 2)
		assert.Equal(t, []int{1, 3, 5}, res.ViolatingRecords())
	})

	t.Run("empty dataset passes vacuously", func(t *testing.T) {
		res := Validate(partition.Partition{}, 3)
		assert.True(t, res.Passed)
		assert.Equal(t, 0, res.MinSize)
	})

	t.Run("same partition yields the same result", func(t *testing.T) {
		p := build(t, "x", "y", "x")
		assert.Equal(t, Validate(p, 2), Validate(p, 2))
	})
}
