package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/domain"
	"github.com/michaelpoluektov/dspd/internal/ports"
)

// Manager coordinates graph mutation and execution for sessions. All
// work is triggered by inbound requests; the only shared state is the
// per-session write lock and the execution semaphore.
type Manager struct {
	store       ports.SessionStore
	compiler    ports.PipelineCompiler
	stages      ports.StageRegistry
	broadcaster ports.Broadcaster
	metrics     ports.MetricsCollector
	logger      *zap.Logger

	execTimeout time.Duration
	execSem     chan struct{}

	// Serializes validate -> persist -> notify per session so two
	// writers can never produce an inconsistent graph/forked_graph
	// pair.
	sessionLocks sync.Map // map[string]*sync.Mutex
}

// Config holds the manager's collaborators and tunables.
type Config struct {
	Store                   ports.SessionStore
	Compiler                ports.PipelineCompiler
	Stages                  ports.StageRegistry
	Broadcaster             ports.Broadcaster
	Metrics                 ports.MetricsCollector
	Logger                  *zap.Logger
	ExecutionTimeout        time.Duration
	MaxConcurrentExecutions int
}

// NewManager creates a new orchestrator manager.
func NewManager(cfg *Config) *Manager {
	concurrency := cfg.MaxConcurrentExecutions
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		store:       cfg.Store,
		compiler:    cfg.Compiler,
		stages:      cfg.Stages,
		broadcaster: cfg.Broadcaster,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		execTimeout: cfg.ExecutionTimeout,
		execSem:     make(chan struct{}, concurrency),
	}
}

func (m *Manager) lockSession(sessionID string) func() {
	v, _ := m.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateSession initializes an empty session for the owner.
func (m *Manager) CreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := m.store.Create(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordSessionCreated()
	m.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))
	return session, nil
}

// GetSession returns the owned session.
func (m *Manager) GetSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	return m.store.Get(ctx, sessionID, userID)
}

// ListSessions returns all sessions of the owner.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return m.store.ListByOwner(ctx, userID)
}

// DeleteSession removes the session and releases its live
// subscriptions.
func (m *Manager) DeleteSession(ctx context.Context, sessionID, userID string) error {
	unlock := m.lockSession(sessionID)
	defer unlock()

	removed, err := m.store.Delete(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFound
	}
	m.broadcaster.Drop(sessionID)
	m.sessionLocks.Delete(sessionID)
	m.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// GetGraph returns the session's current graph as the typed model.
func (m *Manager) GetGraph(ctx context.Context, sessionID, userID string) (*domain.Graph, error) {
	session, err := m.store.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return domain.ParseGraph(session.Graph)
}

// SetGraph validates the candidate graph, persists it together with
// its derived forked graph and notifies subscribers. On success it
// returns the parameter schema map of the forked graph's nodes, keyed
// by placement name. Any validation failure aborts before persistence.
func (m *Manager) SetGraph(ctx context.Context, sessionID, userID string, graph *domain.Graph) (map[string]map[string]any, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	schemas, err := m.setGraphLocked(ctx, sessionID, userID, graph)
	if err != nil {
		m.metrics.RecordGraphUpdate("set_graph", "failed")
		return nil, err
	}
	m.metrics.RecordGraphUpdate("set_graph", "ok")
	return schemas, nil
}

func (m *Manager) setGraphLocked(ctx context.Context, sessionID, userID string, graph *domain.Graph) (map[string]map[string]any, error) {
	forked, err := m.compiler.DeriveForkedGraph(graph)
	if err != nil {
		m.logger.Warn("fork derivation rejected graph",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, err
	}

	// Second validation pass; catches what fork insertion does not.
	if _, err := m.compiler.Compile(graph); err != nil {
		m.logger.Warn("compilation rejected graph",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, err
	}

	graphDoc, err := graph.Document()
	if err != nil {
		return nil, err
	}
	forkedDoc, err := forked.Document()
	if err != nil {
		return nil, err
	}

	if _, err := m.store.Update(ctx, sessionID, userID, graphDoc, forkedDoc); err != nil {
		return nil, err
	}
	m.broadcaster.Notify(ctx, sessionID, userID)

	m.logger.Info("graph updated",
		zap.String("session_id", sessionID),
		zap.Int("nodes", len(graph.Nodes)))

	schemas := make(map[string]map[string]any)
	for i := range forked.Nodes {
		node := &forked.Nodes[i]
		if m.stages.HasParams(node.OpType) {
			schemas[node.Placement.Name] = m.stages.ParamSchemas()[node.OpType]
		}
	}
	return schemas, nil
}

// SetParameters replaces the parameters of each named node whose stage
// type exposes a parameter object with a freshly constructed instance,
// then re-runs the full validate-fork-persist-broadcast sequence on
// the freshly mutated graph. Nodes not named, and nodes of
// parameterless types, are left untouched.
func (m *Manager) SetParameters(ctx context.Context, sessionID, userID string, params map[string]map[string]any) error {
	unlock := m.lockSession(sessionID)
	defer unlock()

	session, err := m.store.Get(ctx, sessionID, userID)
	if err != nil {
		m.metrics.RecordGraphUpdate("set_parameters", "failed")
		return err
	}
	graph, err := domain.ParseGraph(session.Graph)
	if err != nil {
		m.metrics.RecordGraphUpdate("set_parameters", "failed")
		return err
	}

	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		values, named := params[node.Placement.Name]
		if !named || !m.stages.HasParams(node.OpType) {
			continue
		}
		fresh, _, err := m.stages.NewParams(node.OpType, values)
		if err != nil {
			m.metrics.RecordGraphUpdate("set_parameters", "failed")
			return err
		}
		node.Parameters = fresh
	}

	if _, err := m.setGraphLocked(ctx, sessionID, userID, graph); err != nil {
		m.metrics.RecordGraphUpdate("set_parameters", "failed")
		return err
	}
	m.metrics.RecordGraphUpdate("set_parameters", "ok")
	return nil
}

// GraphSchema returns the graph document's JSON schema.
func (m *Manager) GraphSchema() map[string]any {
	return m.stages.GraphSchema()
}

// ParamSchemas returns the per-stage parameter schemas.
func (m *Manager) ParamSchemas() map[string]map[string]any {
	return m.stages.ParamSchemas()
}

// RunAudio executes the session's graph against the uploaded files and
// returns a zip archive with one 16-bit WAV per external output.
func (m *Manager) RunAudio(ctx context.Context, sessionID, userID string, files []InputFile) ([]byte, error) {
	session, err := m.store.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	graph, err := domain.ParseGraph(session.Graph)
	if err != nil {
		return nil, err
	}
	forked, err := domain.ParseGraph(session.ForkedGraph)
	if err != nil {
		return nil, err
	}

	pipeline, err := m.compiler.Compile(graph)
	if err != nil {
		m.metrics.RecordExecution("rejected", 0)
		return nil, err
	}

	in, err := m.buildInputBuffer(graph, files)
	if err != nil {
		m.metrics.RecordExecution("rejected", 0)
		return nil, err
	}
	m.metrics.RecordIngestedFrames(in.buffer.Frames() * in.buffer.NumChannels())

	select {
	case m.execSem <- struct{}{}:
		defer func() { <-m.execSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	execCtx := ctx
	if m.execTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.execTimeout)
		defer cancel()
	}

	start := time.Now()
	processed, outRate, err := pipeline.Execute(execCtx, in.buffer, in.sampleRate)
	if err != nil {
		m.metrics.RecordExecution("failed", time.Since(start).Seconds())
		m.logger.Error("pipeline execution failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, err
	}
	m.metrics.RecordExecution("ok", time.Since(start).Seconds())

	artifacts, err := m.splitOutputs(forked, processed, outRate, in.minFrames)
	if err != nil {
		return nil, err
	}

	m.logger.Info("audio processed",
		zap.String("session_id", sessionID),
		zap.Int("frames", in.minFrames),
		zap.Int("outputs", len(artifacts)),
		zap.Duration("duration", time.Since(start)))
	return zipArtifacts(artifacts)
}

// ExportSource compiles the stored graph and returns a zip of the
// generated portable source files.
func (m *Manager) ExportSource(ctx context.Context, sessionID, userID string) ([]byte, error) {
	session, err := m.store.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	graph, err := domain.ParseGraph(session.Graph)
	if err != nil {
		return nil, err
	}
	pipeline, err := m.compiler.Compile(graph)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "dspd-source-")
	if err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	defer os.RemoveAll(dir)

	paths, err := pipeline.GenerateSource(dir)
	if err != nil {
		m.logger.Error("source generation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("source generation failed: %w", err)
	}

	artifacts := make([]artifact, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read generated file: %w", err)
		}
		artifacts = append(artifacts, artifact{name: filepath.Base(path), data: data})
	}
	return zipArtifacts(artifacts)
}

// artifact is one named member of a result archive.
type artifact struct {
	name string
	data []byte
}

// zipArtifacts buffers the whole archive; delivery is atomic.
func zipArtifacts(artifacts []artifact) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range artifacts {
		w, err := zw.Create(a.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive member %q: %w", a.name, err)
		}
		if _, err := w.Write(a.data); err != nil {
			return nil, fmt.Errorf("failed to write archive member %q: %w", a.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
