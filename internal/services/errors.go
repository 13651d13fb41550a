// Package services defines the business logic for transcription admission:
// usage ledger, quota evaluation, duration/clip policy, job lifecycle, and
// the admission orchestrator. This file centralizes service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; the
// handler layer translates them into HTTP statuses and stable error codes.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

var (
	// ErrInvalidRequest is returned when the request is missing its type or
	// content, or names an unknown source type. Rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid transcription request")

	// ErrAuthRequired is returned for non-preview requests without an
	// authenticated identity.
	ErrAuthRequired = errors.New("authentication required")

	// ErrVerificationRequired is returned for anonymous preview requests that
	// carry neither a session token nor a challenge token.
	ErrVerificationRequired = errors.New("verification token required")

	// ErrVerificationFailed is returned when a supplied session or challenge
	// token does not verify. Distinct from ErrVerificationRequired so the
	// client can tell "send a token" apart from "your token is bad".
	ErrVerificationFailed = errors.New("verification token invalid")

	// ErrQuotaExceeded is the base error for any quota gate denial; wrapped by
	// QuotaExceededError which carries the evaluator's decision.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrYouTubeLimitReached is returned when the monthly YouTube request
	// count limit denies the request. Kept separate from the generic quota
	// error because clients surface it with dedicated copy.
	ErrYouTubeLimitReached = errors.New("youtube monthly limit reached")

	// ErrDurationExceeded is the base error for the per-tier upload duration
	// ceiling; wrapped by DurationExceededError.
	ErrDurationExceeded = errors.New("duration limit exceeded")

	// ErrSupplierUnavailable is returned when no external supplier and no
	// local fallback are configured. The job is marked failed, never left
	// queued forever; this is a server configuration problem.
	ErrSupplierUnavailable = errors.New("no transcription supplier available")

	// ErrClientAborted is the distinct outcome for a client disconnect
	// observed at an admission checkpoint. Not a true error.
	ErrClientAborted = errors.New("client aborted")

	// ErrJobNotFound indicates the requested job does not exist or is not
	// visible to the requesting identity.
	ErrJobNotFound = errors.New("job not found")
)

// QuotaExceededError wraps ErrQuotaExceeded with the evaluator's decision so
// handlers can return remaining-budget context to the client.
type QuotaExceededError struct {
	Decision domain.QuotaDecision
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s (used %.1f, remaining %.1f)",
		e.Decision.Reason, e.Decision.Usage, e.Decision.Remaining)
}

// Unwrap lets errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// DurationExceededError wraps ErrDurationExceeded with both the actual and
// allowed duration for client display.
type DurationExceededError struct {
	ActualSeconds float64
	LimitSeconds  float64
}

func (e *DurationExceededError) Error() string {
	return fmt.Sprintf("media duration %.0fs exceeds the %.0fs limit", e.ActualSeconds, e.LimitSeconds)
}

// Unwrap lets errors.Is(err, ErrDurationExceeded) match.
func (e *DurationExceededError) Unwrap() error { return ErrDurationExceeded }
