package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/application/orchestrator"
	"github.com/michaelpoluektov/dspd/internal/audio"
	memoryevents "github.com/michaelpoluektov/dspd/pkg/adapters/events/memory"
	"github.com/michaelpoluektov/dspd/pkg/adapters/metrics/prometheus"
	"github.com/michaelpoluektov/dspd/pkg/adapters/pipeline"
	memorystorage "github.com/michaelpoluektov/dspd/pkg/adapters/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()
	store := memorystorage.NewStore()
	compiler := pipeline.New(logger)
	broadcaster := memoryevents.NewBroadcaster(store, prometheus.Nop{}, logger, 4)
	t.Cleanup(func() { _ = broadcaster.Close() })

	mgr := orchestrator.NewManager(&orchestrator.Config{
		Store:                   store,
		Compiler:                compiler,
		Stages:                  compiler,
		Broadcaster:             broadcaster,
		Metrics:                 prometheus.Nop{},
		Logger:                  logger,
		ExecutionTimeout:        time.Minute,
		MaxConcurrentExecutions: 2,
	})
	return NewServer(&Config{
		Port:           0,
		Orchestrator:   mgr,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	})
}

func doRequest(s *Server, method, path, user string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

const passthroughDoc = `{
	"nodes": [],
	"inputs": [{"name": "in", "output": [0, 1]}],
	"outputs": [{"name": "out", "input": [0, 1]}]
}`

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingUserHeader(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/api/v1/sessions", "", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestSessionCreateGetDelete(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var created SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "alice", created.UserID)
	assert.JSONEq(t, `{}`, string(created.Graph))

	// Duplicate id conflicts.
	w = doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Another user cannot see it.
	w = doRequest(s, http.MethodGet, "/api/v1/sessions/s1", "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/sessions/s1", "alice", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodDelete, "/api/v1/sessions/s1", "alice", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/sessions/s1", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	s := newTestServer(t)

	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	doRequest(s, http.MethodPost, "/api/v1/sessions/s2", "alice", nil, "")
	doRequest(s, http.MethodPost, "/api/v1/sessions/other", "bob", nil, "")

	w := doRequest(s, http.MethodGet, "/api/v1/sessions", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []SessionResponse `json:"sessions"`
		Total    int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestSetGraphReturnsSchemas(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")

	graphDoc := `{
		"nodes": [{
			"op_type": "gain",
			"placement": {"name": "g0", "input": [0], "output": [1]},
			"parameters": {"gain_db": -3}
		}],
		"inputs": [{"name": "in", "output": [0]}],
		"outputs": [{"name": "out", "input": [1]}]
	}`
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(graphDoc), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var schemas map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schemas))
	assert.Contains(t, schemas, "g0")
}

func TestSetGraphValidationFailure(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")

	graphDoc := `{
		"nodes": [{
			"op_type": "reverb",
			"placement": {"name": "r0", "input": [0], "output": [1]}
		}],
		"inputs": [{"name": "in", "output": [0]}],
		"outputs": [{"name": "out", "input": [1]}]
	}`
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(graphDoc), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "unknown stage type")
}

func TestSetGraphUnknownSession(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/ghost/graph", "alice", []byte(passthroughDoc), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetParametersEndpoint(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")

	graphDoc := `{
		"nodes": [{
			"op_type": "gain",
			"placement": {"name": "g0", "input": [0], "output": [1]}
		}],
		"inputs": [{"name": "in", "output": [0]}],
		"outputs": [{"name": "out", "input": [1]}]
	}`
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(graphDoc), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph/params", "alice",
		[]byte(`{"g0": {"gain_db": -12}}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/sessions/s1/graph", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `-12`)
}

func TestRunAudioEndpoint(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(passthroughDoc), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	buf := audio.NewBuffer(2, 256)
	for ch := range buf {
		for f := range buf[ch] {
			buf[ch][f] = float64(f%50) / 100.0
		}
	}
	wavData, err := audio.Encode(buf, 44100)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "input.wav")
	require.NoError(t, err)
	_, err = fw.Write(wavData)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w = doRequest(s, http.MethodPost, "/api/v1/sessions/s1/audio", "alice", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestRunAudioWrongFileCount(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(passthroughDoc), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.Close())

	w = doRequest(s, http.MethodPost, "/api/v1/sessions/s1/audio", "alice", body.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportSourceEndpoint(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/v1/sessions/s1", "alice", nil, "")
	w := doRequest(s, http.MethodPost, "/api/v1/sessions/s1/graph", "alice", []byte(passthroughDoc), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/sessions/s1/source", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
}

func TestSchemaEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/v1/schema/graph", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "op_type")

	w = doRequest(s, http.MethodGet, "/api/v1/schema/params", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var schemas map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schemas))
	assert.Contains(t, schemas, "gain")
	assert.Contains(t, schemas, "biquad")
}
