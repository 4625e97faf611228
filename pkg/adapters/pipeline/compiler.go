package pipeline

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/domain"
	"github.com/michaelpoluektov/dspd/internal/ports"
)

// Compiler is the reference implementation of the pipeline compiler
// boundary: structural validation, deterministic fork insertion and
// compilation to an executable pipeline.
type Compiler struct {
	stages map[string]*stageDef
	logger *zap.Logger
}

// New creates a compiler over the built-in stage set.
func New(logger *zap.Logger) *Compiler {
	return &Compiler{
		stages: stageDefs(),
		logger: logger,
	}
}

// NewParams implements ports.StageRegistry.
func (c *Compiler) NewParams(opType string, values map[string]any) (map[string]any, bool, error) {
	def, ok := c.stages[opType]
	if !ok {
		return nil, false, domain.Validationf("unknown stage type %q", opType)
	}
	if def.fields == nil {
		return nil, false, nil
	}
	params, err := def.newParams(values)
	if err != nil {
		return nil, true, err
	}
	return params, true, nil
}

// HasParams implements ports.StageRegistry.
func (c *Compiler) HasParams(opType string) bool {
	def, ok := c.stages[opType]
	return ok && def.fields != nil
}

// ParamSchemas implements ports.StageRegistry.
func (c *Compiler) ParamSchemas() map[string]map[string]any {
	schemas := make(map[string]map[string]any)
	for name, def := range c.stages {
		if s := def.schema(); s != nil {
			schemas[name] = s
		}
	}
	return schemas
}

// GraphSchema implements ports.StageRegistry.
func (c *Compiler) GraphSchema() map[string]any {
	edgeList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "integer", "minimum": 0},
	}
	port := func(bound string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
				bound:  edgeList,
			},
			"required": []string{"name", bound},
		}
	}
	opTypes := make([]string, 0, len(c.stages))
	for name := range c.stages {
		opTypes = append(opTypes, name)
	}
	sort.Strings(opTypes)
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"op_type": map[string]any{"type": "string", "enum": opTypes},
						"placement": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":   map[string]any{"type": "string"},
								"input":  edgeList,
								"output": edgeList,
							},
							"required": []string{"name"},
						},
						"parameters": map[string]any{"type": "object"},
					},
					"required": []string{"op_type", "placement"},
				},
			},
			"inputs":  map[string]any{"type": "array", "items": port("output")},
			"outputs": map[string]any{"type": "array", "items": port("input")},
		},
	}
}

// DeriveForkedGraph implements ports.PipelineCompiler. It validates g
// and returns a copy with every multi-consumer edge expanded through
// an explicit fork node, so each consumer has its own edge.
func (c *Compiler) DeriveForkedGraph(g *domain.Graph) (*domain.Graph, error) {
	if err := c.validate(g); err != nil {
		return nil, err
	}
	return c.insertForks(g)
}

// Compile implements ports.PipelineCompiler. It runs the full
// validation pass and returns an executable pipeline over the
// fork-expanded graph.
func (c *Compiler) Compile(g *domain.Graph) (ports.Pipeline, error) {
	forked, err := c.DeriveForkedGraph(g)
	if err != nil {
		return nil, err
	}
	order, err := c.topoOrder(forked)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pipeline compiled",
		zap.Int("nodes", len(forked.Nodes)),
		zap.Int("input_channels", forked.InputChannels()),
		zap.Int("output_channels", forked.OutputChannels()))
	return &executable{graph: forked, order: order, stages: c.stages}, nil
}

// validate checks the structural contract: known stage types, arity,
// parameters, unique names, exactly one producer per edge, no dangling
// edges and no cycles.
func (c *Compiler) validate(g *domain.Graph) error {
	if g == nil {
		return domain.Validationf("graph is empty")
	}

	names := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		name := node.Placement.Name
		if name == "" {
			return domain.Validationf("node %d has no name", i)
		}
		if names[name] {
			return domain.Validationf("duplicate node name %q", name)
		}
		names[name] = true

		def, ok := c.stages[node.OpType]
		if !ok {
			return domain.Validationf("node %q has unknown stage type %q", name, node.OpType)
		}
		if err := def.arity(len(node.Placement.Input), len(node.Placement.Output)); err != nil {
			return domain.Validationf("node %q", name).WithDetail("%v", err)
		}
		if def.fields != nil {
			if _, err := def.newParams(node.Parameters); err != nil {
				return domain.Validationf("node %q has invalid parameters", name).WithDetail("%v", err)
			}
		} else if len(node.Parameters) > 0 {
			return domain.Validationf("node %q of type %q takes no parameters", name, node.OpType)
		}
	}

	for _, ports := range []struct {
		kind  string
		ports []domain.IOPort
	}{{"input", g.Inputs}, {"output", g.Outputs}} {
		seen := make(map[string]bool, len(ports.ports))
		for _, p := range ports.ports {
			if p.Name == "" {
				return domain.Validationf("external %s has no name", ports.kind)
			}
			if seen[p.Name] {
				return domain.Validationf("duplicate external %s name %q", ports.kind, p.Name)
			}
			seen[p.Name] = true
			if p.Channels() == 0 {
				return domain.Validationf("external %s %q binds no edges", ports.kind, p.Name)
			}
		}
	}

	producers := make(map[int]string)
	produce := func(edge int, by string) error {
		if prev, ok := producers[edge]; ok {
			return domain.Validationf("edge %d has multiple producers", edge).
				WithDetail("%s and %s", prev, by)
		}
		producers[edge] = by
		return nil
	}
	for _, in := range g.Inputs {
		for _, e := range in.Output {
			if err := produce(e, fmt.Sprintf("input %q", in.Name)); err != nil {
				return err
			}
		}
	}
	for i := range g.Nodes {
		for _, e := range g.Nodes[i].Placement.Output {
			if err := produce(e, fmt.Sprintf("node %q", g.Nodes[i].Placement.Name)); err != nil {
				return err
			}
		}
	}

	consumed := make(map[int]int)
	for i := range g.Nodes {
		for _, e := range g.Nodes[i].Placement.Input {
			if _, ok := producers[e]; !ok {
				return domain.Validationf("node %q consumes edge %d which nothing produces",
					g.Nodes[i].Placement.Name, e)
			}
			consumed[e]++
		}
	}
	for _, out := range g.Outputs {
		for _, e := range out.Input {
			if _, ok := producers[e]; !ok {
				return domain.Validationf("output %q consumes edge %d which nothing produces",
					out.Name, e)
			}
			consumed[e]++
		}
	}
	for edge, by := range producers {
		if consumed[edge] == 0 {
			return domain.Validationf("edge %d is dangling", edge).WithDetail("produced by %s, never consumed", by)
		}
	}

	if _, err := c.topoOrder(g); err != nil {
		return err
	}
	return nil
}

// topoOrder returns a deterministic execution order over the nodes, or
// a validation error when the graph is cyclic. External inputs are the
// roots; declaration order breaks ties.
func (c *Compiler) topoOrder(g *domain.Graph) ([]int, error) {
	producerNode := make(map[int]int) // edge -> producing node index
	for i := range g.Nodes {
		for _, e := range g.Nodes[i].Placement.Output {
			producerNode[e] = i
		}
	}

	indegree := make([]int, len(g.Nodes))
	dependents := make([][]int, len(g.Nodes))
	for i := range g.Nodes {
		for _, e := range g.Nodes[i].Placement.Input {
			if p, ok := producerNode[e]; ok {
				indegree[i]++
				dependents[p] = append(dependents[p], i)
			}
		}
	}

	var ready []int
	for i := range g.Nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		var stuck []string
		for i, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, g.Nodes[i].Placement.Name)
			}
		}
		return nil, domain.Validationf("graph contains a cycle").WithDetail("involving nodes %v", stuck)
	}
	return order, nil
}

// insertForks rewires every edge with more than one consumer through a
// fork node. Consumers are visited in declaration order (nodes first,
// then external outputs) and fresh edge ids are allocated sequentially
// above the current maximum, so the expansion is deterministic.
func (c *Compiler) insertForks(g *domain.Graph) (*domain.Graph, error) {
	forked := cloneGraph(g)

	type consumerRef struct {
		edges []int // the Input slice holding the reference
		pos   int
	}
	consumers := make(map[int][]consumerRef)
	maxEdge := -1
	note := func(edges []int) {
		for pos, e := range edges {
			consumers[e] = append(consumers[e], consumerRef{edges: edges, pos: pos})
			if e > maxEdge {
				maxEdge = e
			}
		}
	}
	for i := range forked.Nodes {
		note(forked.Nodes[i].Placement.Input)
		for _, e := range forked.Nodes[i].Placement.Output {
			if e > maxEdge {
				maxEdge = e
			}
		}
	}
	for i := range forked.Outputs {
		note(forked.Outputs[i].Input)
	}
	for i := range forked.Inputs {
		for _, e := range forked.Inputs[i].Output {
			if e > maxEdge {
				maxEdge = e
			}
		}
	}

	shared := make([]int, 0)
	for e, refs := range consumers {
		if len(refs) > 1 {
			shared = append(shared, e)
		}
	}
	sort.Ints(shared)

	nextEdge := maxEdge + 1
	for _, e := range shared {
		refs := consumers[e]
		outEdges := make([]int, len(refs))
		for i, ref := range refs {
			outEdges[i] = nextEdge
			ref.edges[ref.pos] = nextEdge
			nextEdge++
		}
		forked.Nodes = append(forked.Nodes, domain.Node{
			OpType: "fork",
			Placement: domain.Placement{
				Name:   forkName(forked, e),
				Input:  []int{e},
				Output: outEdges,
			},
		})
	}
	return forked, nil
}

func forkName(g *domain.Graph, edge int) string {
	name := fmt.Sprintf("fork_%d", edge)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", name, i)
		}
		if _, taken := g.FindNode(candidate); !taken {
			return candidate
		}
	}
}

func cloneGraph(g *domain.Graph) *domain.Graph {
	out := &domain.Graph{
		Name:    g.Name,
		Nodes:   make([]domain.Node, len(g.Nodes)),
		Inputs:  make([]domain.IOPort, len(g.Inputs)),
		Outputs: make([]domain.IOPort, len(g.Outputs)),
	}
	for i, n := range g.Nodes {
		cn := n
		cn.Placement.Input = append([]int(nil), n.Placement.Input...)
		cn.Placement.Output = append([]int(nil), n.Placement.Output...)
		if n.Parameters != nil {
			cn.Parameters = make(map[string]any, len(n.Parameters))
			for k, v := range n.Parameters {
				cn.Parameters[k] = v
			}
		}
		out.Nodes[i] = cn
	}
	for i, p := range g.Inputs {
		cp := p
		cp.Output = append([]int(nil), p.Output...)
		out.Inputs[i] = cp
	}
	for i, p := range g.Outputs {
		cp := p
		cp.Input = append([]int(nil), p.Input...)
		out.Outputs[i] = cp
	}
	return out
}
