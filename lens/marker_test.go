package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeMarker(t *testing.T) {
	t.Parallel()

	base := MakeMarker(3, "x++", Before)
	assert.NotEmpty(t, base)
	assert.Equal(t, base, MakeMarker(3, "x++", Before))

	t.Run("line_differs", func(t *testing.T) {
		assert.NotEqual(t, base, MakeMarker(4, "x++", Before))
	})
	t.Run("code_differs", func(t *testing.T) {
		assert.NotEqual(t, base, MakeMarker(3, "x--", Before))
	})
	t.Run("position_differs", func(t *testing.T) {
		assert.NotEqual(t, base, MakeMarker(3, "x++", After))
	})
	t.Run("separator_ambiguity", func(t *testing.T) {
		assert.NotEqual(t, MakeMarker(1, "1:x", Before), MakeMarker(11, ":x", Before))
	})
}

func TestMarkerSet(t *testing.T) {
	t.Parallel()

	s := make(markerSet)
	m := MakeMarker(2, "a()", After)
	assert.False(t, s.has(m))
	s.add(m)
	assert.True(t, s.has(m))
	s.add(m)
	assert.Len(t, s, 1)
}
