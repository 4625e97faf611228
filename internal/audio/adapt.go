package audio

import "github.com/michaelpoluektov/dspd/internal/domain"

// AdaptChannels reconciles the clip's channel count against the
// declared target. Mono is upmixed by duplicating the single channel;
// stereo is downmixed by averaging both channels per frame (integer
// mean, truncated toward zero like the eventual requantization). Any
// other transition is unsupported.
func (c *Clip) AdaptChannels(want int) error {
	have := c.NumChannels()
	switch {
	case have == want:
		return nil
	case have == 1 && want == 2:
		dup := make([]int, len(c.Data[0]))
		copy(dup, c.Data[0])
		c.Data = append(c.Data, dup)
		return nil
	case have == 2 && want == 1:
		mono := make([]int, len(c.Data[0]))
		for f := range mono {
			mono[f] = (c.Data[0][f] + c.Data[1][f]) / 2
		}
		c.Data = [][]int{mono}
		return nil
	default:
		return domain.Unsupportedf("unsupported channel conversion: %d -> %d", have, want)
	}
}
