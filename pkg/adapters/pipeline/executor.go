package pipeline

import (
	"context"
	"fmt"

	"github.com/michaelpoluektov/dspd/internal/audio"
	"github.com/michaelpoluektov/dspd/internal/domain"
)

// executable is a compiled pipeline over a fork-expanded graph. Every
// edge carries one channel; execution walks the nodes in topological
// order, binding input columns to external-input edges and collecting
// external-output edges into the result buffer.
type executable struct {
	graph  *domain.Graph
	order  []int
	stages map[string]*stageDef
}

// Execute implements ports.Pipeline. The effective sample rate of the
// built-in stage set equals the input rate.
func (p *executable) Execute(ctx context.Context, in audio.Buffer, sampleRate int) (audio.Buffer, int, error) {
	want := p.graph.InputChannels()
	if in.NumChannels() != want {
		return nil, 0, domain.Validationf("input buffer has %d channels, graph expects %d",
			in.NumChannels(), want)
	}
	frames := in.Frames()

	edges := make(map[int][]float64)
	col := 0
	for _, ip := range p.graph.Inputs {
		for _, e := range ip.Output {
			edges[e] = in[col]
			col++
		}
	}

	for _, idx := range p.order {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		node := &p.graph.Nodes[idx]
		def := p.stages[node.OpType]

		ins := make([][]float64, len(node.Placement.Input))
		for i, e := range node.Placement.Input {
			ins[i] = edges[e]
		}
		outs := make([][]float64, len(node.Placement.Output))
		for i := range outs {
			outs[i] = make([]float64, frames)
		}

		params, err := def.newParams(node.Parameters)
		if err != nil {
			return nil, 0, err
		}
		if err := def.kernel(params, ins, outs, sampleRate); err != nil {
			return nil, 0, fmt.Errorf("stage %q failed: %w", node.Placement.Name, err)
		}
		for i, e := range node.Placement.Output {
			edges[e] = outs[i]
		}
	}

	out := make(audio.Buffer, 0, p.graph.OutputChannels())
	for _, op := range p.graph.Outputs {
		for _, e := range op.Input {
			out = append(out, edges[e])
		}
	}
	return out, sampleRate, nil
}
