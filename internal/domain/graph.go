package domain

import (
	"encoding/json"
	"fmt"
)

// Graph is the user-authored DSP topology. Edges are integer
// identifiers and every edge carries exactly one audio channel; a port
// binding is the list of edges attached to a node or boundary.
type Graph struct {
	Name    string   `json:"name,omitempty"`
	Nodes   []Node   `json:"nodes"`
	Inputs  []IOPort `json:"inputs"`
	Outputs []IOPort `json:"outputs"`
}

// Node is a single processing stage placement. The shape of Parameters
// is owned by the stage type named in OpType and resolved through the
// stage registry, not through reflection.
type Node struct {
	OpType     string         `json:"op_type"`
	Placement  Placement      `json:"placement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Placement binds a named node to its input and output edges.
type Placement struct {
	Name   string `json:"name"`
	Input  []int  `json:"input"`
	Output []int  `json:"output"`
}

// IOPort declares an external input or output of the graph. An input
// drives the edges in Output; an output collects the edges in Input.
// The length of the bound edge list is the port's channel count.
type IOPort struct {
	Name   string `json:"name"`
	Input  []int  `json:"input,omitempty"`
	Output []int  `json:"output,omitempty"`
}

// Channels returns the declared channel count of the port.
func (p IOPort) Channels() int {
	if len(p.Output) > 0 {
		return len(p.Output)
	}
	return len(p.Input)
}

// ParseGraph decodes a stored graph document into the typed model.
func ParseGraph(doc json.RawMessage) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, Validationf("malformed graph document").WithDetail("%v", err)
	}
	return &g, nil
}

// Document encodes the graph back into its stored JSON form.
func (g *Graph) Document() (json.RawMessage, error) {
	doc, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	return doc, nil
}

// FindNode returns the node with the given placement name.
func (g *Graph) FindNode(name string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Placement.Name == name {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// InputChannels is the total channel count across external inputs,
// i.e. the width of the combined execution buffer on ingress.
func (g *Graph) InputChannels() int {
	total := 0
	for _, in := range g.Inputs {
		total += len(in.Output)
	}
	return total
}

// OutputChannels is the total channel count across external outputs.
func (g *Graph) OutputChannels() int {
	total := 0
	for _, out := range g.Outputs {
		total += len(out.Input)
	}
	return total
}
