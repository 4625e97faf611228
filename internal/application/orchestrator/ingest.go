package orchestrator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/michaelpoluektov/dspd/internal/audio"
	"github.com/michaelpoluektov/dspd/internal/domain"
)

// InputFile is one uploaded audio file, paired positionally with an
// external input declaration.
type InputFile struct {
	Name string
	Data []byte
}

// combinedInput is the aligned multi-channel buffer the executor
// consumes, plus the attributes the demux step needs.
type combinedInput struct {
	buffer     audio.Buffer
	sampleRate int
	minFrames  int
}

// buildInputBuffer decodes each file, adapts it to its input
// declaration's channel count, normalizes to float and concatenates
// all inputs side by side on the channel axis. All files must agree on
// sample rate and sample width; frame counts are truncated to the
// shortest file.
func (m *Manager) buildInputBuffer(graph *domain.Graph, files []InputFile) (*combinedInput, error) {
	if len(graph.Inputs) == 0 {
		return nil, domain.Validationf("graph declares no external inputs")
	}
	if len(files) != len(graph.Inputs) {
		return nil, domain.Validationf("expected %d input files, got %d", len(graph.Inputs), len(files))
	}

	segments := make([]audio.Buffer, len(files))
	sampleRate := 0
	sampleWidth := 0
	minFrames := -1

	for i, file := range files {
		clip, err := audio.Decode(bytes.NewReader(file.Data))
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				if verr.Detail == "" {
					verr.Detail = fmt.Sprintf("file %q", file.Name)
				} else {
					verr.Detail = fmt.Sprintf("file %q: %s", file.Name, verr.Detail)
				}
			}
			return nil, err
		}

		if i == 0 {
			sampleRate = clip.SampleRate
			sampleWidth = clip.SampleWidth
		} else {
			if clip.SampleRate != sampleRate {
				return nil, domain.Validationf("all files must have the same sample rate").
					WithDetail("%q has %d Hz, expected %d Hz", file.Name, clip.SampleRate, sampleRate)
			}
			if clip.SampleWidth != sampleWidth {
				return nil, domain.Validationf("all files must have the same sample width").
					WithDetail("%q has %d bytes, expected %d bytes", file.Name, clip.SampleWidth, sampleWidth)
			}
		}

		if err := clip.AdaptChannels(len(graph.Inputs[i].Output)); err != nil {
			return nil, err
		}
		if minFrames < 0 || clip.Frames() < minFrames {
			minFrames = clip.Frames()
		}
		segments[i] = clip.Normalize()
	}

	var combined audio.Buffer
	for _, segment := range segments {
		combined = combined.AppendChannels(segment.Truncate(minFrames))
	}
	return &combinedInput{
		buffer:     combined,
		sampleRate: sampleRate,
		minFrames:  minFrames,
	}, nil
}
