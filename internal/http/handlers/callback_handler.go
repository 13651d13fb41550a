// Supplier callback HTTP handler.
//
// This file exposes the endpoint external STT suppliers call when a job
// finishes:
//   - POST /callbacks/{supplier}/{id}?sig=...
//
// The route lives outside the versioned API base path because suppliers are
// configured with the full callback URL at dispatch time. When a callback
// secret is configured, the sig query parameter must carry a valid HMAC of
// the job id; unsigned suppliers (trusted, token-authenticated) skip it.
//
// Callbacks are idempotent: duplicate deliveries and deliveries racing a
// cancellation are absorbed by the service layer's guarded terminal writes,
// so suppliers can safely retry.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-transcribe-backend/internal/http/middleware"
	"github.com/tbourn/go-transcribe-backend/internal/services"
	"github.com/tbourn/go-transcribe-backend/internal/suppliers"
)

// SupplierCallbackRequest is the JSON payload suppliers post when a job
// reaches a terminal state on their side.
type SupplierCallbackRequest struct {
	// Status is the supplier-reported outcome: completed or failed.
	Status string `json:"status" binding:"required" example:"completed"`
	// DurationSeconds is the actually processed media length; used for
	// billing reconciliation against the admission estimate.
	DurationSeconds float64 `json:"duration_seconds"`
	// Error carries the supplier's failure reason when status is failed.
	Error string `json:"error" example:"unsupported codec"`
}

// SupplierCallback godoc
// @ID          supplierCallback
// @Summary     Receive a supplier result callback
// @Description Applies the terminal completed/failed write reported by an external supplier. Duplicate deliveries are absorbed.
// @Tags        Callbacks
// @Accept      json
// @Produce     json
//
// @Param       supplier  path   string  true  "Supplier name"  example(premium)
// @Param       id        path   string  true  "Job ID (UUID)"  format(uuid)
// @Param       sig       query  string  false "HMAC signature of the job id (required for signed suppliers)"
// @Param       body      body   handlers.SupplierCallbackRequest  true  "Terminal result"
//
// @Success     200  {object} map[string]bool
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Invalid signature"
// @Failure     404  {object} handlers.ErrorResponse "Job not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /callbacks/{supplier}/{id} [post]
func (h *Handlers) SupplierCallback(c *gin.Context) {
	supplier := c.Param("supplier")
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	if h.callbackSecret != "" {
		sig := c.Query("sig")
		if sig == "" || !suppliers.VerifySignature(h.callbackSecret, jobID, sig) {
			middleware.LoggerFrom(c).Warn().
				Str("supplier", supplier).
				Str("job_id", jobID).
				Msg("callback signature rejected")
			fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid callback signature")
			return
		}
	}

	var req SupplierCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "completed":
		err = h.jobSvc.Complete(ctx, jobID, req.DurationSeconds)
	case "failed":
		reason := strings.TrimSpace(req.Error)
		if reason == "" {
			reason = "supplier reported failure"
		}
		err = h.jobSvc.Fail(ctx, jobID, reason)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be completed or failed")
		return
	}

	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not apply callback")
		return
	}

	middleware.LoggerFrom(c).Info().
		Str("supplier", supplier).
		Str("job_id", jobID).
		Str("status", req.Status).
		Msg("supplier callback applied")

	ok(c, http.StatusOK, gin.H{"success": true})
}
