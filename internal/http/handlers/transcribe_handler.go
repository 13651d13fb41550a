// Transcription admission HTTP handler.
//
// This file exposes the single admission endpoint:
//   - POST /transcriptions  (admit a transcription request and dispatch it)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. All admission policy (quota,
// duration, verification, dispatch) lives in the services layer; this file
// only maps service sentinels onto the stable error code taxonomy.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/http/middleware"
	"github.com/tbourn/go-transcribe-backend/internal/repo"
	"github.com/tbourn/go-transcribe-backend/internal/services"
)

// statusClientClosedRequest is the non-standard (nginx-originated) status used
// when the client walked away before admission finished. No response usually
// reaches the client; the status exists for access logs and metrics.
const statusClientClosedRequest = 499

//
// Service contracts (context-aware)
//

// AdmissionGateway runs the admission pipeline for one transcription request.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts: the context doubles as the
// client-abort signal.
type AdmissionGateway interface {
	// Admit validates, gates, persists, and dispatches one request.
	Admit(ctx context.Context, req *services.AdmissionRequest) (*services.AdmissionResult, error)
}

// JobManager defines job lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type JobManager interface {
	// Get fetches a job by id.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// ListPage returns a page of an identity's jobs and the total count.
	ListPage(ctx context.Context, identity string, page, pageSize int) ([]domain.Job, int64, error)
	// Cancel transitions a job to cancelled.
	Cancel(ctx context.Context, id string) error
	// Complete applies the terminal completed write from a supplier callback.
	Complete(ctx context.Context, id string, actualDurationSec float64) error
	// Fail applies the terminal failed write with a reason.
	Fail(ctx context.Context, id, reason string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for admission, jobs, and supplier
// callbacks. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	admSvc AdmissionGateway
	jobSvc JobManager

	// db backs the ETag pre-check and idempotency persistence; both are
	// best-effort and skipped when nil (tests).
	db *gorm.DB

	// callbackSecret verifies supplier callback signatures when non-empty.
	callbackSecret string

	// idemTTL is the replay window for stored admissions.
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(admSvc AdmissionGateway, jobSvc JobManager, db *gorm.DB, callbackSecret string) *Handlers {
	return &Handlers{
		admSvc:         admSvc,
		jobSvc:         jobSvc,
		db:             db,
		callbackSecret: callbackSecret,
		idemTTL:        24 * time.Hour,
	}
}

//
// DTOs
//

// TranscriptionOptions mirrors the request's options object. Field names are
// camelCase on the wire to match the client contract.
type TranscriptionOptions struct {
	// Formats lists requested output formats (srt, vtt, txt, json).
	Formats []string `json:"formats" example:"srt,txt"`
	// Language is an optional BCP-47 hint; normalized server-side.
	Language string `json:"language" example:"en"`
	// HighAccuracyMode requests the premium model (tier-gated, may downgrade).
	HighAccuracyMode bool `json:"highAccuracyMode"`
	// EnableDiarizationAfterWhisper requests speaker labels as a post-pass.
	EnableDiarizationAfterWhisper bool `json:"enableDiarizationAfterWhisper"`
	// OriginalFileName is the client-side name of an uploaded file.
	OriginalFileName string `json:"originalFileName" example:"meeting.mp3"`
	// Title optionally names the job; defaults server-side when empty.
	Title string `json:"title" example:"Weekly sync"`
	// R2Key is the object-storage key of an uploaded file.
	R2Key string `json:"r2Key" example:"uploads/ab/cd/meeting.mp3"`

	// Client-supplied duration hints, in priority order.
	OriginalDurationSeconds  float64 `json:"originalDurationSeconds"`
	EstimatedDurationSeconds float64 `json:"estimatedDurationSeconds"`
	MetadataDurationSeconds  float64 `json:"metadataDurationSeconds"`
}

// CreateTranscriptionRequest is the JSON payload for the admission endpoint.
type CreateTranscriptionRequest struct {
	// Type is the media source: youtube_url, audio_url, or file_upload.
	Type string `json:"type" binding:"required" example:"youtube_url"`
	// Content is the source URL (or upload reference for file_upload).
	Content string `json:"content" binding:"required" example:"https://www.youtube.com/watch?v=dQw4w9WgXcQ"`
	// Options carries per-request processing options.
	Options TranscriptionOptions `json:"options"`
	// Action distinguishes bounded previews ("preview") from full runs.
	Action string `json:"action" example:"preview"`
	// TurnstileToken is the bot-check challenge response (anonymous previews).
	TurnstileToken string `json:"turnstileToken"`
	// SessionToken is a short-lived verification session minted after a
	// successful challenge (anonymous previews).
	SessionToken string `json:"sessionToken"`
}

// CreateTranscriptionResponse is the success envelope of the admission
// endpoint. Processing continues asynchronously; clients poll the job.
type CreateTranscriptionResponse struct {
	Success bool   `json:"success" example:"true"`
	JobID   string `json:"job_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Status  string `json:"status" example:"processing"`
	Message string `json:"message" example:"Transcription started"`
}

// QuotaErrorResponse extends the error envelope with the quota verdict so
// clients can render remaining allowance without a second round trip.
type QuotaErrorResponse struct {
	ErrorResponse
	Quota *domain.QuotaDecision `json:"quota,omitempty"`
}

// DurationErrorResponse extends the error envelope with the offending and
// permitted durations for upload ceiling rejections.
type DurationErrorResponse struct {
	ErrorResponse
	ActualSeconds float64 `json:"actual_seconds,omitempty"`
	LimitSeconds  float64 `json:"limit_seconds,omitempty"`
}

//
// Handlers
//

// CreateTranscription godoc
// @ID          createTranscription
// @Summary     Admit a transcription request
// @Description Validates, quota-checks, and dispatches a transcription request. Returns the job id immediately; processing continues asynchronously. Supports Idempotency-Key replays.
// @Tags        Transcriptions
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string  false "Bearer token (omit for anonymous previews)"
// @Param       Idempotency-Key  header  string  false "Client retry deduplication key"
// @Param       body             body    handlers.CreateTranscriptionRequest  true  "Admission payload"
//
// @Success     202  {object}  handlers.CreateTranscriptionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     403  {object}  handlers.ErrorResponse  "Verification required or failed"
// @Failure     413  {object}  handlers.DurationErrorResponse  "Duration ceiling exceeded"
// @Failure     429  {object}  handlers.QuotaErrorResponse  "Quota exhausted"
// @Failure     503  {object}  handlers.ErrorResponse  "No supplier available"
// @Router      /transcriptions [post]
func (h *Handlers) CreateTranscription(c *gin.Context) {
	// Replay: a previous admission with the same identity and key is served
	// back without re-running the pipeline, so retries never bill twice.
	if jobID, replay := middleware.ReplayJobID(c); replay {
		ok(c, http.StatusAccepted, CreateTranscriptionResponse{
			Success: true,
			JobID:   jobID,
			Status:  "processing",
			Message: "Transcription already in progress",
		})
		return
	}

	var req CreateTranscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	userID, tier, identityKey := middleware.RequestIdentity(c)
	if tier == "" {
		tier = domain.TierFree
	}

	adm := &services.AdmissionRequest{
		Type:    req.Type,
		Content: req.Content,
		Action:  req.Action,
		Options: services.AdmissionOptions{
			Formats:                       req.Options.Formats,
			Language:                      req.Options.Language,
			HighAccuracyMode:              req.Options.HighAccuracyMode,
			EnableDiarizationAfterWhisper: req.Options.EnableDiarizationAfterWhisper,
			OriginalFileName:              req.Options.OriginalFileName,
			Title:                         req.Options.Title,
			R2Key:                         req.Options.R2Key,
			OriginalDurationSeconds:       req.Options.OriginalDurationSeconds,
			EstimatedDurationSeconds:      req.Options.EstimatedDurationSeconds,
			MetadataDurationSeconds:       req.Options.MetadataDurationSeconds,
		},
		TurnstileToken: req.TurnstileToken,
		SessionToken:   req.SessionToken,
		Identity: services.Identity{
			UserID: userID,
			Tier:   tier,
		},
		RemoteIP: c.ClientIP(),
	}
	if userID == "" {
		adm.Identity.AnonKey = identityKey
	}

	res, err := h.admSvc.Admit(c.Request.Context(), adm)
	if err != nil {
		h.failAdmission(c, err)
		return
	}

	// Store the admission against the idempotency key (best effort; a lost
	// write only costs the client one replay).
	if key, has := middleware.GetIdempotencyKey(c); has && h.db != nil {
		if _, err := repo.CreateIdempotency(c.Request.Context(), h.db, identityKey, key, res.JobID, http.StatusAccepted, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusAccepted, CreateTranscriptionResponse{
		Success: true,
		JobID:   res.JobID,
		Status:  "processing",
		Message: admissionMessage(res),
	})
}

// admissionMessage picks the user-facing message for a successful admission.
func admissionMessage(res *services.AdmissionResult) string {
	if res.Clipped {
		return "Preview transcription started"
	}
	return "Transcription started"
}

// failAdmission maps service sentinels onto HTTP statuses and stable codes.
// Quota and duration rejections carry structured context in the envelope.
func (h *Handlers) failAdmission(c *gin.Context, err error) {
	var qe *services.QuotaExceededError
	if errors.As(err, &qe) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, QuotaErrorResponse{
			ErrorResponse: ErrorResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeQuotaExceeded,
				Message:   "usage limit reached",
			},
			Quota: &qe.Decision,
		})
		return
	}
	var de *services.DurationExceededError
	if errors.As(err, &de) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, DurationErrorResponse{
			ErrorResponse: ErrorResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeDurationExceeded,
				Message:   "media exceeds the duration limit for your plan",
			},
			ActualSeconds: de.ActualSeconds,
			LimitSeconds:  de.LimitSeconds,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid transcription request")
	case errors.Is(err, services.ErrAuthRequired):
		fail(c, http.StatusUnauthorized, ErrCodeAuthRequired, "authentication required for full transcription")
	case errors.Is(err, services.ErrVerificationRequired):
		fail(c, http.StatusForbidden, ErrCodeVerificationRequired, "verification required for anonymous previews")
	case errors.Is(err, services.ErrVerificationFailed):
		fail(c, http.StatusForbidden, ErrCodeTurnstileInvalid, "verification failed")
	case errors.Is(err, services.ErrYouTubeLimitReached):
		fail(c, http.StatusTooManyRequests, ErrCodeYouTubeLimit, "monthly YouTube transcription limit reached")
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, "usage limit reached")
	case errors.Is(err, services.ErrDurationExceeded):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeDurationExceeded, "media exceeds the duration limit for your plan")
	case errors.Is(err, services.ErrSupplierUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeSupplierUnavailable, "no transcription supplier available")
	case errors.Is(err, services.ErrClientAborted):
		fail(c, statusClientClosedRequest, ErrCodeClientAborted, "client aborted the request")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "admission failed")
	}
}
