package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuffer(t *testing.T) {
	b := NewBuffer(3, 5)
	assert.Equal(t, 3, b.NumChannels())
	assert.Equal(t, 5, b.Frames())
}

func TestTruncate(t *testing.T) {
	b := Buffer{{1, 2, 3}, {4, 5, 6}}

	short := b.Truncate(2)
	assert.Equal(t, 2, short.Frames())
	assert.Equal(t, Buffer{{1, 2}, {4, 5}}, short)

	// Truncating to the current length or beyond is a no-op.
	assert.Equal(t, 3, b.Truncate(3).Frames())
	assert.Equal(t, 3, b.Truncate(10).Frames())
}

func TestAppendChannels(t *testing.T) {
	a := Buffer{{1, 2}}
	b := Buffer{{3, 4}, {5, 6}}

	combined := a.AppendChannels(b)
	require.Equal(t, 3, combined.NumChannels())
	assert.Equal(t, Buffer{{1, 2}, {3, 4}, {5, 6}}, combined)
}

func TestSliceChannels(t *testing.T) {
	b := Buffer{{1}, {2}, {3}, {4}}
	slice := b.SliceChannels(1, 2)
	assert.Equal(t, Buffer{{2}, {3}}, slice)
}
