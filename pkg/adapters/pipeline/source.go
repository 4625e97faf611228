package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GenerateSource implements ports.Pipeline. It writes the graph
// document plus a standalone Go rendition of the pipeline into dir and
// returns the generated file paths.
func (p *executable) GenerateSource(dir string) ([]string, error) {
	graphPath := filepath.Join(dir, "graph.json")
	doc, err := json.MarshalIndent(p.graph, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	if err := os.WriteFile(graphPath, doc, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write graph document: %w", err)
	}

	srcPath := filepath.Join(dir, "pipeline.go")
	if err := os.WriteFile(srcPath, []byte(p.renderSource()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pipeline source: %w", err)
	}
	return []string{graphPath, srcPath}, nil
}

// renderSource emits a self-contained package with one Process
// function whose body is the unrolled node sequence.
func (p *executable) renderSource() string {
	var b strings.Builder
	b.WriteString("// Code generated by dspd; DO NOT EDIT.\n\n")
	b.WriteString("// Package dsppipeline processes a non-interleaved multi-channel\n")
	b.WriteString("// buffer through the exported graph.\n")
	b.WriteString("package dsppipeline\n\n")
	b.WriteString(sourceRuntime)

	b.WriteString("// Process runs the pipeline over in (one slice per input channel)\n")
	b.WriteString("// and returns one slice per output channel.\n")
	b.WriteString("func Process(in [][]float64, sampleRate int) [][]float64 {\n")
	col := 0
	for _, ip := range p.graph.Inputs {
		for _, e := range ip.Output {
			fmt.Fprintf(&b, "\te%d := in[%d] // input %q\n", e, col, ip.Name)
			col++
		}
	}
	for _, idx := range p.order {
		node := &p.graph.Nodes[idx]
		params, _ := p.stages[node.OpType].newParams(node.Parameters)
		switch node.OpType {
		case "gain":
			fmt.Fprintf(&b, "\te%d := gainStage(e%d, %g) // node %q\n",
				node.Placement.Output[0], node.Placement.Input[0], params["gain_db"], node.Placement.Name)
		case "mix":
			ins := make([]string, len(node.Placement.Input))
			for i, e := range node.Placement.Input {
				ins[i] = fmt.Sprintf("e%d", e)
			}
			fmt.Fprintf(&b, "\te%d := mixStage([][]float64{%s}, %g) // node %q\n",
				node.Placement.Output[0], strings.Join(ins, ", "), params["gain_db"], node.Placement.Name)
		case "biquad":
			fmt.Fprintf(&b, "\te%d := biquadStage(e%d, sampleRate, %q, %g, %g) // node %q\n",
				node.Placement.Output[0], node.Placement.Input[0],
				params["filter_type"], params["cutoff_hz"], params["q"], node.Placement.Name)
		case "fork":
			for _, out := range node.Placement.Output {
				fmt.Fprintf(&b, "\te%d := forkStage(e%d) // node %q\n",
					out, node.Placement.Input[0], node.Placement.Name)
			}
		}
	}
	b.WriteString("\treturn [][]float64{")
	first := true
	for _, op := range p.graph.Outputs {
		for _, e := range op.Input {
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "e%d", e)
			first = false
		}
	}
	b.WriteString("}\n}\n")
	return b.String()
}

const sourceRuntime = `import "math"

func gainStage(in []float64, gainDB float64) []float64 {
	scale := math.Pow(10, gainDB/20)
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = v * scale
	}
	return out
}

func mixStage(in [][]float64, gainDB float64) []float64 {
	scale := math.Pow(10, gainDB/20)
	out := make([]float64, len(in[0]))
	for i := range out {
		sum := 0.0
		for _, ch := range in {
			sum += ch[i]
		}
		out[i] = sum * scale
	}
	return out
}

func forkStage(in []float64) []float64 {
	out := make([]float64, len(in))
	copy(out, in)
	return out
}

func biquadStage(in []float64, sampleRate int, filterType string, cutoffHz, q float64) []float64 {
	w0 := 2 * math.Pi * cutoffHz / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)
	var b0, b1, b2 float64
	if filterType == "highpass" {
		b0, b1, b2 = (1+cosW0)/2, -(1+cosW0), (1+cosW0)/2
	} else {
		b0, b1, b2 = (1-cosW0)/2, 1-cosW0, (1-cosW0)/2
	}
	a0, a1, a2 := 1+alpha, -2*cosW0, 1-alpha
	out := make([]float64, len(in))
	var x1, x2, y1, y2 float64
	for i, x := range in {
		y := (b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2) / a0
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[i] = y
	}
	return out
}

`
