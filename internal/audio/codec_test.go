package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := Buffer{
		{0.0, 0.5, -0.25, 0.125},
		{-0.5, 0.25, 0.0, -0.125},
	}

	data, err := Encode(src, 44100)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	clip, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 2, clip.NumChannels())
	assert.Equal(t, 4, clip.Frames())
	assert.Equal(t, 44100, clip.SampleRate)
	assert.Equal(t, 2, clip.SampleWidth)

	decoded := clip.Normalize()
	require.Equal(t, 2, decoded.NumChannels())
	for ch := range src {
		for f := range src[ch] {
			assert.InDelta(t, src[ch][f], decoded[ch][f], 1e-3,
				"channel %d frame %d", ch, f)
		}
	}
}

func TestDecodeRejectsNonWAV(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a wav file")))
	require.Error(t, err)
	assert.True(t, domain.IsBadRequest(err))
}

func TestNormalizeScalesBySampleWidth(t *testing.T) {
	c16 := &Clip{Data: [][]int{{16384, -32768}}, SampleRate: 44100, SampleWidth: 2}
	b := c16.Normalize()
	assert.Equal(t, 0.5, b[0][0])
	assert.Equal(t, -1.0, b[0][1])

	c32 := &Clip{Data: [][]int{{1 << 30}}, SampleRate: 44100, SampleWidth: 4}
	b = c32.Normalize()
	assert.Equal(t, 0.5, b[0][0])
}

func TestEncodeTruncatesTowardZero(t *testing.T) {
	data, err := Encode(Buffer{{0.5}}, 8000)
	require.NoError(t, err)

	clip, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	// 0.5 * 32767 = 16383.5, truncated to 16383.
	assert.Equal(t, 16383, clip.Data[0][0])
}
