package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		expect Position
	}{
		{"before", Before},
		{"Before", Before},
		{"-", Before},
		{"after", After},
		{" AFTER ", After},
		{"+", After},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pos, err := ParsePosition(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, pos)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := ParsePosition("around")
		require.ErrorIs(t, err, ErrInvalidPosition)
	})
}

func TestPositionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "before", Before.String())
	assert.Equal(t, "after", After.String())
	assert.Equal(t, 0, Before.offset())
	assert.Equal(t, 1, After.offset())
}

func TestBuildIndex(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		idx := BuildIndex(nil)
		assert.Empty(t, idx)
		assert.Equal(t, 0, idx.Len())
	})

	t.Run("registration_order", func(t *testing.T) {
		reqs := []Request{
			{Line: 3, Code: "b()", Position: After},
			{Line: 2, Code: "a()", Position: Before},
			{Line: 3, Code: "c()", Position: Before},
			{Line: 3, Code: "b()", Position: After},
		}
		idx := BuildIndex(reqs)

		require.Len(t, idx, 2)
		assert.Equal(t, 4, idx.Len())
		assert.Equal(t, []Request{reqs[1]}, idx[2])
		assert.Equal(t, []Request{reqs[0], reqs[2], reqs[3]}, idx[3])
	})
}

func TestRequestString(t *testing.T) {
	t.Parallel()

	r := Request{Line: 4, Code: "x++\ny++", Position: After}
	assert.Equal(t, "4:after:x++", r.String())
}
