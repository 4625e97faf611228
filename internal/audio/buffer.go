package audio

// Buffer is a non-interleaved multi-channel float64 signal. The outer
// slice is the channel axis, the inner slice the frame axis. All
// channels of a buffer hold the same number of frames.
type Buffer [][]float64

// NewBuffer allocates a zeroed buffer of the given dimensions.
func NewBuffer(channels, frames int) Buffer {
	b := make(Buffer, channels)
	for i := range b {
		b[i] = make([]float64, frames)
	}
	return b
}

// NumChannels returns the number of channels.
func (b Buffer) NumChannels() int { return len(b) }

// Frames returns the number of frames per channel.
func (b Buffer) Frames() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Truncate shortens the frame axis to at most n frames. The returned
// buffer shares storage with the receiver.
func (b Buffer) Truncate(n int) Buffer {
	if n >= b.Frames() {
		return b
	}
	out := make(Buffer, len(b))
	for i := range b {
		out[i] = b[i][:n]
	}
	return out
}

// AppendChannels concatenates other's channels after b's, keeping the
// frame axis as-is. Callers are expected to have aligned frame counts
// beforehand.
func (b Buffer) AppendChannels(other Buffer) Buffer {
	return append(b, other...)
}

// SliceChannels returns the contiguous channel span [offset, offset+n).
// The returned buffer shares storage with the receiver.
func (b Buffer) SliceChannels(offset, n int) Buffer {
	return Buffer(b[offset : offset+n])
}
