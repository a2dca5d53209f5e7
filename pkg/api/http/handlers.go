package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/orchestrator"
)

// maxBodyBytes bounds trigger payloads; notification envelopes are small.
const maxBodyBytes = 1 << 20

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth reports process and collaborator health.
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	overall := "healthy"
	if s.monitor != nil && !s.monitor.Healthy() {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	resp := gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.monitor != nil {
		resp["collaborators"] = s.monitor.Status()
	}
	c.JSON(status, resp)
}

// handleOptimize runs one optimization execution synchronously and
// relays the entry point's structured response.
func (s *Server) handleOptimize(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("failed to read request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "failed to read request body"},
		})
		return
	}

	query := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.GetHeader(key)
	}

	req := orchestrator.Request{
		Method:    c.Request.Method,
		Headers:   headers,
		Query:     query,
		Body:      body,
		AccountID: c.Query("account"),
	}
	if deadline, ok := c.Request.Context().Deadline(); ok {
		req.DeadlineAt = deadline
	}

	resp := s.entryPoint.Handle(c.Request.Context(), req)
	for key, value := range resp.Headers {
		c.Header(key, value)
	}
	c.Data(resp.StatusCode, resp.Headers["Content-Type"], []byte(resp.Body))
}

// handleLatestExecution returns the most recent execution snapshot for
// an account.
func (s *Server) handleLatestExecution(c *gin.Context) {
	accountID := c.Param("account")

	exec, err := s.snapshots.GetLatestExecution(c.Request.Context(), accountID)
	if err != nil {
		s.logger.Error("failed to load latest execution",
			zap.String("account_id", accountID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Code: "STORAGE_ERROR", Message: "failed to load execution"},
		})
		return
	}
	if exec == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "no executions for account"},
		})
		return
	}

	c.JSON(http.StatusOK, exec)
}

// handleGetExecution returns one execution snapshot.
func (s *Server) handleGetExecution(c *gin.Context) {
	accountID := c.Param("account")
	executionID := c.Param("id")

	exec, err := s.snapshots.GetExecution(c.Request.Context(), accountID, executionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "execution not found"},
		})
		return
	}

	c.JSON(http.StatusOK, exec)
}
