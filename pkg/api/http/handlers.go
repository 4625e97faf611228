package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/application/orchestrator"
	"github.com/michaelpoluektov/dspd/internal/domain"
)

// SessionResponse represents a session record
type SessionResponse struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Graph       json.RawMessage `json:"graph"`
	ForkedGraph json.RawMessage `json:"forked_graph"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func sessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Graph:       s.Graph,
		ForkedGraph: s.ForkedGraph,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// writeError maps domain errors onto the API error envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Session not found",
			},
		})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "ALREADY_EXISTS",
				Message: "Session already exists",
			},
		})
	case domain.IsBadRequest(err):
		detail := ""
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			detail = verr.Detail
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "VALIDATION_FAILED",
				Message: err.Error(),
				Details: detail,
			},
		})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL",
				Message: "Internal server error",
			},
		})
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCreateSession handles session creation
func (s *Server) handleCreateSession(c *gin.Context) {
	session, err := s.orchestrator.CreateSession(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(session))
}

// handleGetSession handles getting session details
func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.orchestrator.GetSession(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

// handleListSessions handles listing the caller's sessions
func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.orchestrator.ListSessions(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]SessionResponse, len(sessions))
	for i, session := range sessions {
		out[i] = sessionResponse(session)
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": out,
		"total":    len(out),
	})
}

// handleDeleteSession handles session deletion
func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.orchestrator.DeleteSession(c.Request.Context(), sessionID, userID(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     sessionID,
		"status": "deleted",
	})
}

// handleGetGraph handles getting the session's current graph
func (s *Server) handleGetGraph(c *gin.Context) {
	graph, err := s.orchestrator.GetGraph(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

// handleSetGraph handles replacing the session's graph. On success the
// response maps each parameter-bearing node of the forked graph to its
// parameter schema.
func (s *Server) handleSetGraph(c *gin.Context) {
	var graph domain.Graph
	if err := c.ShouldBindJSON(&graph); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	schemas, err := s.orchestrator.SetGraph(c.Request.Context(), c.Param("id"), userID(c), &graph)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, schemas)
}

// handleSetParameters handles the per-node parameter update
func (s *Server) handleSetParameters(c *gin.Context) {
	var params map[string]map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if err := s.orchestrator.SetParameters(c.Request.Context(), c.Param("id"), userID(c), params); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleRunAudio executes the session's graph against the uploaded
// files. Files are paired with the graph's external inputs in upload
// order.
func (s *Server) handleRunAudio(c *gin.Context) {
	if s.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: fmt.Sprintf("invalid multipart form: %v", err),
			},
		})
		return
	}

	var files []orchestrator.InputFile
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			s.writeError(c, err)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.writeError(c, err)
			return
		}
		files = append(files, orchestrator.InputFile{Name: header.Filename, Data: data})
	}

	sessionID := c.Param("id")
	archive, err := s.orchestrator.RunAudio(c.Request.Context(), sessionID, userID(c), files)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".zip"))
	c.Data(http.StatusOK, "application/zip", archive)
}

// handleExportSource returns the generated pipeline source as a zip
func (s *Server) handleExportSource(c *gin.Context) {
	sessionID := c.Param("id")
	archive, err := s.orchestrator.ExportSource(c.Request.Context(), sessionID, userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+"-source.zip"))
	c.Data(http.StatusOK, "application/zip", archive)
}

// handleGraphSchema returns the graph document schema
func (s *Server) handleGraphSchema(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.GraphSchema())
}

// handleParamSchemas returns the per-stage parameter schemas
func (s *Server) handleParamSchemas(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.ParamSchemas())
}
