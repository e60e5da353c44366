package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/repository"
	"github.com/arklim/social-platform-identity/internal/usecase"
)

// maxAddBatch bounds how many records one add request may stage.
const maxAddBatch = 10000

const defaultAppID = "public"

// BulkImportHandler exposes the staging, job control, and synchronous import
// endpoints of the bulk user import API.
type BulkImportHandler struct {
	staging    port.StagingStore
	importer   *usecase.BulkImportService
	controller *usecase.JobController
}

// NewBulkImportHandler constructs the handler.
func NewBulkImportHandler(staging port.StagingStore, importer *usecase.BulkImportService, controller *usecase.JobController) *BulkImportHandler {
	return &BulkImportHandler{staging: staging, importer: importer, controller: controller}
}

// RegisterRoutes wires the bulk import endpoints onto the group. The optional
// middlewares apply only to the staging endpoint, which is the one exposed to
// bulk client traffic.
func (h *BulkImportHandler) RegisterRoutes(r *gin.RouterGroup, addMiddlewares ...gin.HandlerFunc) {
	addHandlers := append([]gin.HandlerFunc{}, addMiddlewares...)
	addHandlers = append(addHandlers, h.AddUsers)
	r.POST("/users", addHandlers...)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.POST("/users/import", h.ImportUser)
	r.POST("/job/start", h.StartJob)
	r.POST("/job/stop", h.StopJob)
	r.GET("/job/status", h.JobStatus)
}

func appIDFromRequest(c *gin.Context) string {
	appID := strings.TrimSpace(c.Query("app_id"))
	if appID == "" {
		return defaultAppID
	}
	return appID
}

// AddUsers godoc
// @Summary Stage users for import
// @Description Validates and stages up to 10000 user records. A single invalid record rejects the whole request.
// @Tags BulkImport
// @Accept json
// @Produce json
// @Param app_id query string false "Application ID (defaults to public)"
// @Param request body BulkImportAddRequest true "Users to stage"
// @Success 200 {object} BulkImportAddResponse
// @Failure 400 {object} BulkImportValidationErrors
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/bulk-import/users [post]
func (h *BulkImportHandler) AddUsers(c *gin.Context) {
	var req BulkImportAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid bulk import payload"))
		return
	}

	if len(req.Users) == 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "no users provided"))
		return
	}
	if len(req.Users) > maxAddBatch {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "too many users: the limit per request is 10000"))
		return
	}

	recordErrors := make([]BulkImportRecordError, 0)
	for i := range req.Users {
		if err := req.Users[i].Validate(); err != nil {
			var vErr *domain.ValidationError
			reasons := []string{err.Error()}
			if errors.As(err, &vErr) {
				reasons = vErr.Reasons
			}
			recordErrors = append(recordErrors, BulkImportRecordError{Index: i, Reasons: reasons})
		}
	}
	if len(recordErrors) > 0 {
		c.JSON(http.StatusBadRequest, BulkImportValidationErrors{
			Error: "some users are invalid, nothing was staged",
			Users: recordErrors,
		})
		return
	}

	ids, err := h.staging.Add(c.Request.Context(), appIDFromRequest(c), req.Users)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to stage users"))
		return
	}

	c.JSON(http.StatusOK, BulkImportAddResponse{IDs: ids})
}

// ListUsers godoc
// @Summary List staged users
// @Description Returns staged records, optionally filtered by status.
// @Tags BulkImport
// @Produce json
// @Param app_id query string false "Application ID (defaults to public)"
// @Param status query string false "Filter by status (NEW, PROCESSING, FAILED)"
// @Param limit query int false "Page size (default 100, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} BulkImportListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/bulk-import/users [get]
func (h *BulkImportHandler) ListUsers(c *gin.Context) {
	filter := port.StagedUserFilter{Limit: 100}

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		switch domain.StagedUserStatus(status) {
		case domain.StagedUserStatusNew, domain.StagedUserStatusProcessing, domain.StagedUserStatusFailed:
			filter.Status = domain.StagedUserStatus(status)
		default:
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid status filter"))
			return
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be between 1 and 500"))
			return
		}
		filter.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "offset must not be negative"))
			return
		}
		filter.Offset = offset
	}

	users, err := h.staging.List(c.Request.Context(), appIDFromRequest(c), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list staged users"))
		return
	}

	payloads := make([]StagedUserPayload, 0, len(users))
	for _, user := range users {
		payloads = append(payloads, newStagedUserPayload(user))
	}

	c.JSON(http.StatusOK, BulkImportListResponse{Users: payloads, Total: len(payloads)})
}

// GetUser godoc
// @Summary Get one staged user
// @Tags BulkImport
// @Produce json
// @Param app_id query string false "Application ID (defaults to public)"
// @Param id path string true "Staged record ID"
// @Success 200 {object} StagedUserPayload
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/bulk-import/users/{id} [get]
func (h *BulkImportHandler) GetUser(c *gin.Context) {
	user, err := h.staging.GetByID(c.Request.Context(), appIDFromRequest(c), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "staged user not found"},
		}, http.StatusInternalServerError, "failed to load staged user")
		return
	}

	c.JSON(http.StatusOK, newStagedUserPayload(*user))
}

// ImportUser godoc
// @Summary Import one user synchronously
// @Description Runs the import pipeline for a single record, bypassing the staging queue.
// @Tags BulkImport
// @Accept json
// @Produce json
// @Param app_id query string false "Application ID (defaults to public)"
// @Param request body ImportSingleRequest true "User to import"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/bulk-import/users/import [post]
func (h *BulkImportHandler) ImportUser(c *gin.Context) {
	var req ImportSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid import payload"))
		return
	}

	if err := h.importer.ImportSingle(c.Request.Context(), appIDFromRequest(c), req.User); err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, vErr.Error()))
			return
		}

		RespondWithMappedError(c, err, importErrorCases(), http.StatusInternalServerError, "failed to import user")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "user imported"})
}

// StartJob godoc
// @Summary Start the background import job
// @Description Idempotent: starting an already running job leaves it running.
// @Tags BulkImport
// @Accept json
// @Produce json
// @Param request body JobStartRequest false "Optional batch size override"
// @Success 200 {object} JobStatusResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/bulk-import/job/start [post]
func (h *BulkImportHandler) StartJob(c *gin.Context) {
	var req JobStartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid job start payload"))
			return
		}
	}

	state := h.controller.Start(req.BatchSize)
	c.JSON(http.StatusOK, JobStatusResponse{Status: string(state)})
}

// StopJob godoc
// @Summary Stop the background import job
// @Description Blocks until the current batch finishes. Idempotent when already stopped.
// @Tags BulkImport
// @Produce json
// @Success 200 {object} JobStatusResponse
// @Router /api/v1/bulk-import/job/stop [post]
func (h *BulkImportHandler) StopJob(c *gin.Context) {
	state := h.controller.Stop()
	c.JSON(http.StatusOK, JobStatusResponse{Status: string(state)})
}

// JobStatus godoc
// @Summary Report the background import job state
// @Tags BulkImport
// @Produce json
// @Success 200 {object} JobStatusResponse
// @Router /api/v1/bulk-import/job/status [get]
func (h *BulkImportHandler) JobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, JobStatusResponse{Status: string(h.controller.Status())})
}
