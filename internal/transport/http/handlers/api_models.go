package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-identity/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// BulkImportAddRequest carries staged user records to enqueue for import.
type BulkImportAddRequest struct {
	Users []domain.StagedUser `json:"users" binding:"required"`
}

// BulkImportAddResponse returns the ids assigned to newly staged records.
type BulkImportAddResponse struct {
	IDs []string `json:"ids"`
}

// StagedUserPayload is the API view of one staged record.
type StagedUserPayload struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	User         domain.StagedUser `json:"user"`
}

// BulkImportListResponse wraps a page of staged records.
type BulkImportListResponse struct {
	Users []StagedUserPayload `json:"users"`
	Total int                 `json:"total"`
}

// BulkImportValidationErrors reports per-record validation failures on add.
type BulkImportValidationErrors struct {
	Error string                  `json:"error"`
	Users []BulkImportRecordError `json:"users"`
}

// BulkImportRecordError names the failing record index and its reasons.
type BulkImportRecordError struct {
	Index   int      `json:"index"`
	Reasons []string `json:"reasons"`
}

// JobStartRequest optionally overrides the batch size for this run of the job.
type JobStartRequest struct {
	BatchSize int `json:"batchSize"`
}

// JobStatusResponse reports the background job state.
type JobStatusResponse struct {
	Status string `json:"status"`
}

// ImportSingleRequest carries one record for synchronous import.
type ImportSingleRequest struct {
	User domain.StagedUser `json:"user" binding:"required"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newStagedUserPayload(user domain.StagedUser) StagedUserPayload {
	return StagedUserPayload{
		ID:           user.ID,
		Status:       string(user.Status),
		ErrorMessage: user.ErrorMessage,
		User:         user,
	}
}
