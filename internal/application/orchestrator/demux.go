package orchestrator

import (
	"fmt"

	"github.com/michaelpoluektov/dspd/internal/audio"
	"github.com/michaelpoluektov/dspd/internal/domain"
)

// splitOutputs slices the processed buffer into per-output artifacts,
// walking the forked graph's output declarations in order. The frame
// axis is aligned to the ingestion minimum; a stage that shrank the
// window further wins, so the slice can never run out of range.
func (m *Manager) splitOutputs(forked *domain.Graph, processed audio.Buffer, sampleRate, minFrames int) ([]artifact, error) {
	frames := minFrames
	if processed.Frames() < frames {
		frames = processed.Frames()
	}

	total := 0
	for _, out := range forked.Outputs {
		total += len(out.Input)
	}
	if processed.NumChannels() < total {
		return nil, fmt.Errorf("processed buffer has %d channels, outputs declare %d",
			processed.NumChannels(), total)
	}

	artifacts := make([]artifact, 0, len(forked.Outputs))
	offset := 0
	for _, out := range forked.Outputs {
		channels := len(out.Input)
		slice := processed.SliceChannels(offset, channels).Truncate(frames)
		offset += channels

		wavData, err := audio.Encode(slice, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output %q: %w", out.Name, err)
		}
		artifacts = append(artifacts, artifact{name: out.Name + ".wav", data: wavData})
	}
	return artifacts, nil
}
