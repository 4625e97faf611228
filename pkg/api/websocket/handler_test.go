package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memoryevents "github.com/michaelpoluektov/dspd/pkg/adapters/events/memory"
	"github.com/michaelpoluektov/dspd/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/michaelpoluektov/dspd/pkg/adapters/storage/memory"
)

func newTestStack(t *testing.T) (*httptest.Server, *memorystorage.Store, *memoryevents.Broadcaster) {
	t.Helper()
	logger := zap.NewNop()
	store := memorystorage.NewStore()
	broadcaster := memoryevents.NewBroadcaster(store, prometheus.Nop{}, logger, 4)
	t.Cleanup(func() { _ = broadcaster.Close() })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(store, broadcaster, logger)
	router.GET("/api/v1/sessions/:id/updates", handler.HandleSessionUpdates)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store, broadcaster
}

func wsURL(srv *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + sessionID + "/updates"
}

func TestStreamDeliversGraphUpdates(t *testing.T) {
	srv, store, broadcaster := newTestStack(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "alice")
	require.NoError(t, err)

	header := http.Header{"X-User-ID": []string{"alice"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	doc := json.RawMessage(`{"name":"v1"}`)
	_, err = store.Update(ctx, "s1", "alice", doc, doc)
	require.NoError(t, err)

	// The server registers its subscription after the upgrade returns,
	// so keep notifying until the message arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				broadcaster.Notify(ctx, "s1", "alice")
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"v1"}`, string(msg))
}

func TestStreamRejectsUnknownSession(t *testing.T) {
	srv, _, _ := newTestStack(t)

	header := http.Header{"X-User-ID": []string{"alice"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "ghost"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRejectsForeignSession(t *testing.T) {
	srv, store, _ := newTestStack(t)

	_, err := store.Create(context.Background(), "s1", "alice")
	require.NoError(t, err)

	header := http.Header{"X-User-ID": []string{"bob"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamClosesWhenSessionDropped(t *testing.T) {
	srv, store, broadcaster := newTestStack(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "alice")
	require.NoError(t, err)

	header := http.Header{"X-User-ID": []string{"alice"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Confirm the subscription is live before dropping the session.
	doc := json.RawMessage(`{"name":"v1"}`)
	_, err = store.Update(ctx, "s1", "alice", doc, doc)
	require.NoError(t, err)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				broadcaster.Notify(ctx, "s1", "alice")
			}
		}
	}()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	close(stop)
	require.NoError(t, err)

	broadcaster.Drop("s1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected a normal close, got %v", err)
}
