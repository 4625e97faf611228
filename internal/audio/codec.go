package audio

import (
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

// Output is always re-encoded at 16-bit width.
const outputSampleWidth = 2

// Clip is a decoded PCM container: channel-major integer samples plus
// the format attributes needed to interpret them.
type Clip struct {
	Data        [][]int
	SampleRate  int
	SampleWidth int // bytes per sample; only 2 and 4 are supported
}

// NumChannels returns the clip's channel count.
func (c *Clip) NumChannels() int { return len(c.Data) }

// Frames returns the number of frames per channel.
func (c *Clip) Frames() int {
	if len(c.Data) == 0 {
		return 0
	}
	return len(c.Data[0])
}

// Decode reads a WAV container into a Clip. Sample widths other than
// 2 and 4 bytes are rejected as unsupported.
func Decode(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, domain.Validationf("not a valid WAV file")
	}

	width := int(d.BitDepth) / 8
	if width != 2 && width != 4 {
		return nil, domain.Unsupportedf("unsupported sample width: %d", width)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, domain.Validationf("failed to decode WAV data").WithDetail("%v", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, domain.Validationf("WAV file declares no channels")
	}
	frames := len(buf.Data) / channels

	data := make([][]int, channels)
	for ch := range data {
		data[ch] = make([]int, frames)
		for f := 0; f < frames; f++ {
			data[ch][f] = buf.Data[f*channels+ch]
		}
	}

	return &Clip{
		Data:        data,
		SampleRate:  buf.Format.SampleRate,
		SampleWidth: width,
	}, nil
}

// Normalize converts the integer samples to floating point by dividing
// by the maximum magnitude representable in the sample's bit width,
// yielding values nominally in [-1, 1).
func (c *Clip) Normalize() Buffer {
	divisor := float64(int64(1) << (8*c.SampleWidth - 1))
	out := make(Buffer, len(c.Data))
	for ch := range c.Data {
		out[ch] = make([]float64, len(c.Data[ch]))
		for f, v := range c.Data[ch] {
			out[ch][f] = float64(v) / divisor
		}
	}
	return out
}

// Encode re-quantizes the buffer to 16-bit signed PCM (scaling by the
// maximum signed 16-bit magnitude, truncating toward zero) and writes
// a WAV container at the given sample rate.
func Encode(b Buffer, sampleRate int) ([]byte, error) {
	channels := b.NumChannels()
	frames := b.Frames()

	data := make([]int, frames*channels)
	for ch := range b {
		for f, v := range b[ch] {
			data[f*channels+ch] = int(v * 32767.0)
		}
	}

	ws := &writeSeeker{}
	e := wav.NewEncoder(ws, sampleRate, 8*outputSampleWidth, channels, 1)
	ib := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: 8 * outputSampleWidth,
	}
	if err := e.Write(ib); err != nil {
		return nil, err
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks
// back to patch the header lengths on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		grown := make([]byte, need)
		copy(grown, ws.buf)
		ws.buf = grown
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		ws.pos = int(offset)
	case io.SeekCurrent:
		ws.pos += int(offset)
	case io.SeekEnd:
		ws.pos = len(ws.buf) + int(offset)
	}
	return int64(ws.pos), nil
}
