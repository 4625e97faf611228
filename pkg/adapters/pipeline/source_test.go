package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

func TestGenerateSource(t *testing.T) {
	p, err := newTestCompiler().Compile(gainGraph(6))
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := p.GenerateSource(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	names := []string{filepath.Base(paths[0]), filepath.Base(paths[1])}
	assert.Contains(t, names, "graph.json")
	assert.Contains(t, names, "pipeline.go")

	doc, err := os.ReadFile(filepath.Join(dir, "graph.json"))
	require.NoError(t, err)
	var g domain.Graph
	require.NoError(t, json.Unmarshal(doc, &g))
	assert.Len(t, g.Nodes, 1)

	src, err := os.ReadFile(filepath.Join(dir, "pipeline.go"))
	require.NoError(t, err)
	assert.Contains(t, string(src), "package dsppipeline")
	assert.Contains(t, string(src), "func Process(in [][]float64, sampleRate int) [][]float64")
	assert.Contains(t, string(src), "gainStage")
}

func TestGenerateSourceUnrollsFork(t *testing.T) {
	p, err := newTestCompiler().Compile(sharedEdgeGraph())
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = p.GenerateSource(dir)
	require.NoError(t, err)

	src, err := os.ReadFile(filepath.Join(dir, "pipeline.go"))
	require.NoError(t, err)
	assert.Contains(t, string(src), "forkStage")
}
