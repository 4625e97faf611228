package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/domain"
	"github.com/michaelpoluektov/dspd/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler handles WebSocket connections
type Handler struct {
	store       ports.SessionStore
	broadcaster ports.Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(store ports.SessionStore, broadcaster ports.Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleSessionUpdates streams the session's graph document to the
// client: one message per mutation, each carrying the full current
// document. Ownership is checked before the upgrade so an unknown or
// foreign session never becomes a socket.
func (h *Handler) HandleSessionUpdates(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.GetHeader("X-User-ID")

	if _, err := h.store.Get(c.Request.Context(), sessionID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Session not found",
			}})
			return
		}
		h.logger.Error("failed to verify session ownership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    "INTERNAL",
			"message": "Internal server error",
		}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("session_id", sessionID),
		zap.String("client", c.ClientIP()))

	sub := h.broadcaster.Subscribe(sessionID)
	defer sub.Cancel()

	// Reader loop; its only job is noticing the peer went away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Info("WebSocket connection closed",
				zap.String("session_id", sessionID))
			return
		case doc, ok := <-sub.Updates():
			if !ok {
				// Session deleted; tell the client before hanging up.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"),
					deadline())
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, doc); err != nil {
				h.logger.Warn("failed to write update",
					zap.String("session_id", sessionID),
					zap.Error(err))
				return
			}
		}
	}
}

func deadline() time.Time {
	return time.Now().Add(5 * time.Second)
}
