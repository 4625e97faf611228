// Package ports defines the interfaces between the application core
// and its adapters: session storage, the pipeline compiler boundary,
// update broadcasting and metrics.
package ports

import (
	"context"
	"encoding/json"

	"github.com/michaelpoluektov/dspd/internal/audio"
	"github.com/michaelpoluektov/dspd/internal/domain"
)

// SessionStore owns the persisted session records, keyed by
// (session id, owner id). Ownership is enforced by returning
// domain.ErrNotFound rather than a forbidden error.
type SessionStore interface {
	// Create initializes an empty session. Returns domain.ErrConflict
	// if the id already exists for any owner.
	Create(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// Get returns the session only if userID matches the stored owner.
	Get(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// Update atomically replaces both graph documents and bumps
	// updated_at. Returns domain.ErrNotFound if no owned session
	// matches.
	Update(ctx context.Context, sessionID, userID string, graph, forkedGraph json.RawMessage) (*domain.Session, error)

	// Delete removes the record and reports whether one was removed.
	Delete(ctx context.Context, sessionID, userID string) (bool, error)

	// ListByOwner returns all sessions for the owner, in insertion
	// order.
	ListByOwner(ctx context.Context, userID string) ([]*domain.Session, error)
}

// Pipeline is the compiled, executable form of a validated graph.
type Pipeline interface {
	// Execute processes a combined multi-channel buffer and returns
	// the processed buffer together with the effective output sample
	// rate.
	Execute(ctx context.Context, in audio.Buffer, sampleRate int) (audio.Buffer, int, error)

	// GenerateSource writes portable source artifacts for the pipeline
	// into dir and returns the generated file paths.
	GenerateSource(dir string) ([]string, error)
}

// PipelineCompiler is the external compiler/executor boundary. Both
// calls perform structural validation; failures are
// *domain.ValidationError values carrying diagnostic detail.
type PipelineCompiler interface {
	// DeriveForkedGraph expands multicast points into explicit fork
	// nodes so every consumer has its own edge. The result is fully
	// derived from g and deterministic.
	DeriveForkedGraph(g *domain.Graph) (*domain.Graph, error)

	// Compile validates g a second time and produces an executable
	// pipeline.
	Compile(g *domain.Graph) (Pipeline, error)
}

// StageRegistry exposes the closed set of stage types: their parameter
// constructors and introspectable schemas.
type StageRegistry interface {
	// NewParams builds a fresh, fully validated parameter object of
	// the stage's own type from the supplied values. The second return
	// is false when the stage type exposes no parameters.
	NewParams(opType string, values map[string]any) (map[string]any, bool, error)

	// HasParams reports whether the stage type exposes a parameter
	// object.
	HasParams(opType string) bool

	// ParamSchemas maps each parameter-bearing stage type to the JSON
	// schema of its parameter object.
	ParamSchemas() map[string]map[string]any

	// GraphSchema returns the JSON schema of the graph document.
	GraphSchema() map[string]any
}

// Subscription is one live observer's handle on a session's update
// stream.
type Subscription interface {
	// Updates is drained by the observer; each element is the full
	// current graph document.
	Updates() <-chan json.RawMessage

	// Cancel removes exactly this subscription. Idempotent and safe to
	// call concurrently with Notify.
	Cancel()
}

// Broadcaster fans graph-mutation events out to live subscribers,
// per session.
type Broadcaster interface {
	// Subscribe registers a new delivery channel for the session.
	Subscribe(sessionID string) Subscription

	// Notify re-reads the current persisted graph and pushes a copy to
	// every subscriber of the session. A missing session is a silent
	// no-op.
	Notify(ctx context.Context, sessionID, userID string)

	// Drop releases all live subscriptions for the session.
	Drop(sessionID string)

	// Close releases the broadcaster's resources.
	Close() error
}

// MetricsCollector records operational metrics.
type MetricsCollector interface {
	RecordSessionCreated()
	RecordGraphUpdate(op, status string)
	RecordExecution(status string, seconds float64)
	RecordIngestedFrames(frames int)
	IncSubscribers()
	DecSubscribers()
}
