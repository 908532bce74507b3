package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/orc"
	"github.com/vsariola/kantele/version"
	"go.uber.org/zap"
)

// CompileRequest is the JSON form of a compile request. Plain text bodies
// are taken as the orchestra itself.
type CompileRequest struct {
	Orchestra string `json:"orchestra" binding:"required"`
}

// ScoreRequest is the JSON form of a score request. Plain text bodies are
// parsed as score text.
type ScoreRequest struct {
	Events []kantele.ScoreEvent `json:"events" binding:"required"`
}

// SubmitResponse acknowledges a queued update
type SubmitResponse struct {
	UpdateID    string `json:"update_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.performance.Status()
	code, health := http.StatusOK, "healthy"
	if status.State == engine.StateStopped {
		code, health = http.StatusServiceUnavailable, "stopped"
	}
	c.JSON(code, gin.H{
		"status":    health,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version.Current.String(),
		"checks": gin.H{
			"performance": status.State.String(),
		},
	})
}

func (s *Server) handleCompile(c *gin.Context) {
	var text string
	if c.ContentType() == gin.MIMEJSON {
		var req CompileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
		text = req.Orchestra
	} else {
		body, err := c.GetRawData()
		if err != nil {
			s.badRequest(c, err)
			return
		}
		text = string(body)
	}

	id, err := s.performance.SubmitCompile(text)
	if err != nil {
		s.submitFailed(c, err)
		return
	}
	s.accepted(c, id.String())
}

func (s *Server) handleScore(c *gin.Context) {
	var (
		id  uuid.UUID
		err error
	)
	if c.ContentType() == gin.MIMEJSON {
		var req ScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
		for i := range req.Events {
			req.Events[i].Instrument = orc.NormalizeID(req.Events[i].Instrument)
		}
		id, err = s.performance.SubmitScoreAppend(req.Events)
	} else {
		body, rerr := c.GetRawData()
		if rerr != nil {
			s.badRequest(c, rerr)
			return
		}
		id, err = s.performance.SubmitScoreText(string(body))
	}
	if err != nil {
		s.submitFailed(c, err)
		return
	}
	s.accepted(c, id.String())
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.performance.Status())
}

func (s *Server) handleListInstruments(c *gin.Context) {
	instruments := s.performance.Instruments()
	c.JSON(http.StatusOK, gin.H{
		"instruments": instruments,
		"total":       len(instruments),
	})
}

func (s *Server) handleGetInstrument(c *gin.Context) {
	id := orc.NormalizeID(kantele.InstrumentID(c.Param("id")))
	for _, info := range s.performance.Instruments() {
		if info.ID == id {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Instrument not found",
		},
	})
}

// handleListing writes the compiled instruments, or the status with
// ?view=status, as plain text.
func (s *Server) handleListing(c *gin.Context) {
	var b strings.Builder
	var err error
	if c.Query("view") == "status" {
		err = s.reporter.Status(&b, s.performance.Status())
	} else {
		err = s.reporter.Listing(&b, s.performance.Instruments())
	}
	if err != nil {
		s.logger.Error("failed to render listing", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "LISTING_FAILED",
				Message: err.Error(),
			},
		})
		return
	}
	c.String(http.StatusOK, b.String())
}

func (s *Server) accepted(c *gin.Context, id string) {
	c.JSON(http.StatusAccepted, SubmitResponse{
		UpdateID:    id,
		Status:      "queued",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.Warn("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

func (s *Server) submitFailed(c *gin.Context, err error) {
	code, status := errorCode(err)
	detail := ErrorDetail{Code: code, Message: err.Error()}
	var ce *kantele.CompileError
	if errors.As(err, &ce) && ce.Line > 0 {
		detail.Details = gin.H{"line": ce.Line, "col": ce.Col}
	}
	c.JSON(status, ErrorResponse{Error: detail})
}

func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, kantele.ErrUnresolvedWiring):
		return "UNRESOLVED_WIRING", http.StatusUnprocessableEntity
	case errors.Is(err, kantele.ErrCompile):
		return "COMPILE_ERROR", http.StatusUnprocessableEntity
	case errors.Is(err, kantele.ErrInvalidEvent):
		return "INVALID_EVENT", http.StatusUnprocessableEntity
	case errors.Is(err, kantele.ErrUnknownInstrument):
		return "UNKNOWN_INSTRUMENT", http.StatusUnprocessableEntity
	case errors.Is(err, kantele.ErrAlreadyStopped):
		return "PERFORMANCE_STOPPED", http.StatusConflict
	}
	return "SUBMISSION_FAILED", http.StatusInternalServerError
}
