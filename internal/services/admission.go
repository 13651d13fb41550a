// Package services – AdmissionService
//
// The admission orchestrator runs the whole decision pipeline for one
// transcription request: validation, identity/verification gating, duration
// and clip policy resolution, quota evaluation, ledger bookkeeping, job
// placeholder creation, and supplier dispatch. The inbound request context
// doubles as the cancellation monitor: its Done channel is checked at every
// checkpoint (after validation, after the quota check, after placeholder
// creation, immediately before dispatch), and an abort reconciles the job to
// cancelled+deleted and yields the distinct ErrClientAborted outcome.
//
// There is exactly one orchestrator. Request variants (preview vs full,
// anonymous vs authenticated, per-source behavior) are policy inputs, not
// separate code paths.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/suppliers"
)

// ActionPreview marks bounded preview runs; anything else is a full
// transcription.
const ActionPreview = "preview"

// Identity is the resolved requester identity, produced by the transport
// layer (auth middleware) before admission starts.
type Identity struct {
	// UserID is the authenticated user id, or "" for anonymous requests.
	UserID string
	// Tier is the pricing tier in effect now; snapshotted onto the job.
	Tier domain.Tier
	// AnonKey is the anonymized IP-derived ledger key ("anon:<hmac>").
	// Never a raw address.
	AnonKey string
}

// Authenticated reports whether a user identity was resolved.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// Key returns the ledger partition key for this identity.
func (i Identity) Key() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.AnonKey
}

// AdmissionOptions mirrors the request's options object.
type AdmissionOptions struct {
	Formats                       []string
	Language                      string
	HighAccuracyMode              bool
	EnableDiarizationAfterWhisper bool
	OriginalFileName              string
	Title                         string
	R2Key                         string

	// Duration hints, checked in priority order before probing.
	OriginalDurationSeconds  float64
	EstimatedDurationSeconds float64
	MetadataDurationSeconds  float64
}

// AdmissionRequest is one inbound transcription request.
type AdmissionRequest struct {
	Type    string
	Content string
	Action  string
	Options AdmissionOptions

	TurnstileToken string
	SessionToken   string

	Identity Identity
	RemoteIP string
}

// IsPreview reports whether the request asks for a bounded preview run.
func (r *AdmissionRequest) IsPreview() bool { return r.Action == ActionPreview }

// AdmissionResult is the success outcome returned to the transport layer.
type AdmissionResult struct {
	JobID    string
	Supplier string
	Route    suppliers.Route
	Clipped  bool
}

// SupplierDispatcher is the dispatch contract consumed by admission; the
// concrete implementation lives in internal/suppliers.
type SupplierDispatcher interface {
	Dispatch(ctx context.Context, req suppliers.DispatchRequest) (suppliers.Outcome, error)
}

// AdmissionService wires the admission pipeline together. All policy values
// arrive injected; nothing here reads ambient process state.
type AdmissionService struct {
	Quota      *QuotaEvaluator
	Durations  *DurationResolver
	Jobs       *JobService
	Ledger     *UsageLedger
	Dispatcher SupplierDispatcher

	Verifier TierGate
	Tiers    TierPolicy
	Clipper  AudioClipper
	Rewriter StorageRewriter

	// Deadline bounds the whole admission path (default 10s, matching
	// constrained hosting execution limits).
	Deadline time.Duration
}

// TierGate is the verification collaborator; aliased so the zero Verifier
// field reads naturally in construction sites.
type TierGate = Verifier

// Admit runs the full admission-to-dispatch sequence and returns the job id
// on success. Error values are the service sentinels from errors.go; the
// transport layer maps them to stable HTTP codes.
func (s *AdmissionService) Admit(ctx context.Context, req *AdmissionRequest) (*AdmissionResult, error) {
	tr := otel.Tracer("services/AdmissionService")
	ctx, span := tr.Start(ctx, "Admit",
		trace.WithAttributes(
			attribute.String("source.type", req.Type),
			attribute.Bool("preview", req.IsPreview()),
		),
	)
	defer span.End()

	if s.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Deadline)
		defer cancel()
	}

	// --- Validation: rejected before any side effect. ---
	srcType := domain.SourceType(strings.TrimSpace(req.Type))
	content := strings.TrimSpace(req.Content)
	if !srcType.Valid() || content == "" {
		return nil, ErrInvalidRequest
	}

	ident := req.Identity
	preview := req.IsPreview()

	// Non-preview requests require an authenticated identity.
	if !preview && !ident.Authenticated() {
		return nil, ErrAuthRequired
	}
	// Anonymous previews must pass the bot check.
	if preview && !ident.Authenticated() {
		if err := s.verifyAnonymous(ctx, req); err != nil {
			return nil, err
		}
	}

	// Checkpoint: after validation.
	if aborted(ctx) {
		return nil, ErrClientAborted
	}

	// --- Source canonicalization (fail-open repairs). ---
	mediaURL := canonicalizeSourceURL(content)
	if srcType == domain.SourceFileUpload && req.Options.R2Key != "" {
		mediaURL = req.Options.R2Key
	}
	if s.Rewriter != nil {
		if rewritten, err := s.Rewriter.Rewrite(mediaURL); err == nil && rewritten != "" {
			mediaURL = rewritten
		} else if err != nil {
			log.Warn().Err(err).Msg("storage URL rewrite failed (fail-open)")
		}
	}
	hash := sourceHash(srcType, mediaURL)

	// --- Duration, clip policy, hard ceiling. ---
	originalSec, err := s.Durations.ResolveDuration(ctx, srcType, mediaURL, DurationHints{
		OriginalDurationSeconds:  req.Options.OriginalDurationSeconds,
		EstimatedDurationSeconds: req.Options.EstimatedDurationSeconds,
		MetadataDurationSeconds:  req.Options.MetadataDurationSeconds,
	})
	if err != nil {
		// Probe failure: duration stays unknown; clip policy fails toward
		// clipping below, so nothing unbounded can reach a supplier.
		log.Warn().Err(err).Str("source", string(srcType)).Msg("duration probe failed (fail-open)")
		originalSec = 0
	}

	clip := s.Durations.ResolveClipPolicy(preview, ident.Tier, ident.Authenticated(), originalSec)
	if err := s.Durations.CheckUploadDurationLimit(originalSec, ident.Tier, ident.Authenticated(), clip != nil); err != nil {
		return nil, err
	}

	processedSec := originalSec
	if clip != nil && clip.ShouldClip {
		processedSec = clip.LimitSeconds
	}

	// High-accuracy mode needs elevated tier access; silently downgraded
	// when the tier does not carry it, matching the dispatch fallback model.
	highAccuracy := req.Options.HighAccuracyMode
	if highAccuracy && ident.Authenticated() && s.Tiers != nil {
		ok, err := s.Tiers.HighAccuracyAllowed(ctx, ident.UserID, ident.Tier)
		if err != nil {
			return nil, err
		}
		highAccuracy = ok
	} else if !ident.Authenticated() {
		highAccuracy = false
	}

	estMinutes := EstimateCostMinutes(processedSec, highAccuracy)

	// --- Quota gates (fail-closed). ---
	decision, err := s.Quota.Check(ctx, QuotaInput{
		IdentityKey:      ident.Key(),
		UserID:           ident.UserID,
		Tier:             ident.Tier,
		SourceType:       srcType,
		EstimatedMinutes: estMinutes,
		IsPreview:        preview,
		Now:              time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if decision.Reason == ReasonYouTubeLimit {
			return nil, ErrYouTubeLimitReached
		}
		return nil, &QuotaExceededError{Decision: decision}
	}

	// Checkpoint: after the quota check.
	if aborted(ctx) {
		return nil, ErrClientAborted
	}

	// --- Ledger bookkeeping (best-effort, fail-open). ---
	now := time.Now()
	if preview && !ident.Authenticated() {
		s.Ledger.RecordBestEffort(ctx, ident.Key(), domain.UsageAnonPreview, 0, now)
	}
	if srcType == domain.SourceYouTube && (!ident.Authenticated() || ident.Tier == domain.TierFree) {
		s.Ledger.RecordBestEffort(ctx, ident.Key(), domain.UsageAnonYouTube, 0, now)
	}
	s.Ledger.RecordBestEffort(ctx, ident.Key(), CategoryFor(ident.Authenticated(), highAccuracy), estMinutes, now)

	// --- Job placeholder (fail-open insert). ---
	job := &domain.Job{
		ID:                  uuid.NewString(),
		SourceType:          srcType,
		SourceHash:          hash,
		SourceURL:           mediaURL,
		OwnerIdentity:       ident.UserID,
		Tier:                ident.Tier,
		Status:              domain.StatusQueued,
		DurationSec:         processedSec,
		OriginalDurationSec: originalSec,
		CostMinutes:         estMinutes,
		Language:            normalizeLanguage(req.Options.Language),
		Title:               strings.TrimSpace(req.Options.Title),
		CreatedAt:           now.UTC(),
	}
	if err := s.Jobs.CreatePlaceholder(ctx, job); err != nil {
		// Availability over strict bookkeeping: the caller still gets an id.
		log.Warn().Err(err).Str("job_id", job.ID).Msg("job placeholder insert failed (fail-open)")
	}

	// Checkpoint: after placeholder creation.
	if aborted(ctx) {
		s.Jobs.CancelBestEffort(job.ID)
		return nil, ErrClientAborted
	}

	// --- Clip enrichment: started, never awaited. ---
	clipLimit := 0.0
	if clip != nil && clip.ShouldClip {
		clipLimit = clip.LimitSeconds
		if s.Clipper != nil {
			go func(id, url string, limit float64) {
				clipCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if _, err := s.Clipper.Clip(clipCtx, id, url, limit); err != nil {
					log.Warn().Err(err).Str("job_id", id).Msg("clip enrichment failed (fail-open)")
				}
			}(job.ID, mediaURL, clipLimit)
		}
	}

	// --- Dispatch. The dispatcher re-checks the abort signal itself. ---
	outcome, err := s.Dispatcher.Dispatch(ctx, suppliers.DispatchRequest{
		JobID:            job.ID,
		MediaURL:         mediaURL,
		Language:         job.Language,
		HighAccuracy:     highAccuracy,
		Diarization:      req.Options.EnableDiarizationAfterWhisper,
		ClipLimitSeconds: clipLimit,
	})
	if err != nil && errors.Is(err, context.Canceled) {
		s.Jobs.CancelBestEffort(job.ID)
		return nil, ErrClientAborted
	}
	if err != nil && outcome.Route == suppliers.RouteUnavailable {
		// The admission deadline expired before any provider was contacted.
		s.Jobs.CancelBestEffort(job.ID)
		return nil, ErrClientAborted
	}

	switch outcome.Route {
	case suppliers.RouteUnavailable:
		// Server configuration problem: fail the job now, never leave it
		// queued forever.
		if ferr := s.Jobs.Fail(ctx, job.ID, "no supplier configured"); ferr != nil && !errors.Is(ferr, ErrJobNotFound) {
			log.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		return nil, ErrSupplierUnavailable
	default:
		// A dispatch attempt was made (or the local route took the job);
		// transcribing reflects the attempt, not provider acceptance. The
		// submission error, if any, was already logged by the dispatcher and
		// recovery belongs to the monitoring surface, not this path.
		if merr := s.Jobs.MarkTranscribing(ctx, job.ID, outcome.Supplier, outcome.Tagged); merr != nil {
			log.Warn().Err(merr).Str("job_id", job.ID).Msg("transcribing write skipped")
		}
	}

	return &AdmissionResult{
		JobID:    job.ID,
		Supplier: outcome.Supplier,
		Route:    outcome.Route,
		Clipped:  clipLimit > 0,
	}, nil
}

// verifyAnonymous gates anonymous previews behind the bot check,
// distinguishing "no token supplied" from "token invalid".
func (s *AdmissionService) verifyAnonymous(ctx context.Context, req *AdmissionRequest) error {
	if req.SessionToken == "" && req.TurnstileToken == "" {
		return ErrVerificationRequired
	}
	if s.Verifier == nil {
		return ErrVerificationFailed
	}
	if req.SessionToken != "" {
		ok, err := s.Verifier.VerifySession(ctx, req.SessionToken)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// Fall through to the challenge token when the session is stale.
	}
	if req.TurnstileToken != "" {
		ok, err := s.Verifier.VerifyChallenge(ctx, req.TurnstileToken, req.RemoteIP)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrVerificationFailed
}

// aborted reports whether the inbound request signal has fired.
func aborted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
