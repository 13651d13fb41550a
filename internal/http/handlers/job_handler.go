// Job HTTP handlers.
//
// This file exposes REST endpoints for transcription job resources:
//   - GET    /jobs           (list, paginated, ETag support)
//   - GET    /jobs/{id}      (fetch one)
//   - DELETE /jobs/{id}      (cancel)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/http/middleware"
	"github.com/tbourn/go-transcribe-backend/internal/repo"
	"github.com/tbourn/go-transcribe-backend/internal/services"
	"github.com/tbourn/go-transcribe-backend/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	Pagination Pagination   `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// canAccess reports whether the resolved requester may act on the job.
// Authenticated jobs are owner-only; anonymous jobs carry no owner identity,
// so the unguessable job id itself acts as the capability.
func canAccess(job *domain.Job, userID string) bool {
	return job.OwnerIdentity == "" || job.OwnerIdentity == userID
}

//
// Handlers
//

// GetJob godoc
// @ID          getJob
// @Summary     Fetch a transcription job
// @Description Returns the job's current status, durations, and cost. Owner-only for authenticated jobs.
// @Tags        Jobs
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Job ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object}  domain.Job
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	job, err := h.jobSvc.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load job")
		return
	}

	userID, _, _ := middleware.RequestIdentity(c)
	if !canAccess(job, userID) {
		// Do not reveal that the job exists.
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}

	ok(c, http.StatusOK, job)
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List transcription jobs (paginated)
// @Description Returns a page of the requester's jobs, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Jobs
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListJobsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _, _ := middleware.RequestIdentity(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Anonymous jobs carry no owner identity,
	// so anonymous listings are always empty and skip the check.
	if h.db != nil && userID != "" {
		count, maxTS, err := repo.JobsStats(ctx, h.db, userID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"jobs:%s:%d:%d"`, userID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.jobSvc.ListPage(ctx, userID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list jobs")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListJobsResponse{
		Jobs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// CancelJob godoc
// @ID          cancelJob
// @Summary     Cancel a transcription job
// @Description Cancels a queued or in-flight job. Terminal jobs cannot be cancelled and return 409.
// @Tags        Jobs
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Job ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Job not found"
// @Failure     409  {object} handlers.ErrorResponse "Job already terminal"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs/{id} [delete]
func (h *Handlers) CancelJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobSvc.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load job")
		return
	}
	userID, _, _ := middleware.RequestIdentity(c)
	if !canAccess(job, userID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}

	if err := h.jobSvc.Cancel(ctx, jobID); err != nil {
		switch {
		case errors.Is(err, repo.ErrSuperseded):
			fail(c, http.StatusConflict, ErrCodeConflict, "job already finished")
		case errors.Is(err, repo.ErrNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not cancel job")
		}
		return
	}

	noContent(c)
}
