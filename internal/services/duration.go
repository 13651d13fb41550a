// Package services – DurationResolver
//
// This file decides three things about a request's media length: what the
// duration actually is (caller hints first, probe last), whether a clip
// policy bounds the processed length to a preview window, and whether the
// unclipped upload exceeds the per-tier hard ceiling.
package services

import (
	"context"
	"math"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// DurationHints are the caller-supplied duration fields, checked in a fixed
// priority order before any probing happens: the explicit original-duration
// field wins, then the client-side estimate, then the nested metadata field.
type DurationHints struct {
	OriginalDurationSeconds  float64
	EstimatedDurationSeconds float64
	MetadataDurationSeconds  float64
}

// first returns the highest-priority positive hint, or 0 when none is set.
func (h DurationHints) first() float64 {
	for _, v := range []float64{h.OriginalDurationSeconds, h.EstimatedDurationSeconds, h.MetadataDurationSeconds} {
		if v > 0 {
			return v
		}
	}
	return 0
}

// DurationResolver resolves media durations and applies clip/ceiling policy.
// All limit values are injected; see config.Load for the env mapping.
type DurationResolver struct {
	Probe DurationProbe

	// PreviewLimitSeconds is the clip ceiling for anonymous/free/preview
	// requests (default 300). ClipToleranceSeconds absorbs container rounding
	// so a 300.4s file is not re-clipped to 300s (default 1).
	PreviewLimitSeconds  float64
	ClipToleranceSeconds float64

	// UploadLimitSeconds is the per-tier hard ceiling for unclipped uploads.
	// Anonymous requests use the Free entry.
	UploadLimitSeconds map[domain.Tier]float64
}

// DefaultUploadLimits returns the per-tier hard ceilings for unclipped media.
func DefaultUploadLimits() map[domain.Tier]float64 {
	return map[domain.Tier]float64{
		domain.TierFree:  2 * 3600,
		domain.TierBasic: 4 * 3600,
		domain.TierPro:   10 * 3600,
	}
}

// ResolveDuration returns the media duration in seconds, or 0 when unknown.
//
// Hints win over probing. The probe is only consulted for audio_url and
// file_upload sources — YouTube durations are resolved in a later
// preparation step — and probe failures are reported to the caller, who
// treats them as "duration unknown" (the clip policy then fails toward
// clipping rather than toward unbounded dispatch).
func (r *DurationResolver) ResolveDuration(ctx context.Context, source domain.SourceType, mediaURL string, hints DurationHints) (float64, error) {
	if v := hints.first(); v > 0 {
		return v, nil
	}
	if source == domain.SourceYouTube || r.Probe == nil {
		return 0, nil
	}
	sec, err := r.Probe.Probe(ctx, mediaURL)
	if err != nil {
		return 0, err
	}
	return sec, nil
}

// ResolveClipPolicy decides whether the media must be clipped to the preview
// ceiling before dispatch.
//
// Returns nil (no clipping) when the requester is authenticated, the request
// is not a preview, and the tier is above Free. Otherwise the preview ceiling
// applies; clipping is needed unless the original duration is known and
// within tolerance of (or under) the ceiling. Unknown duration clips: never
// send unbounded media to a supplier under a free/anonymous/preview policy.
func (r *DurationResolver) ResolveClipPolicy(isPreview bool, tier domain.Tier, authenticated bool, originalSec float64) *domain.ClipPolicy {
	if authenticated && !isPreview && tier != domain.TierFree {
		return nil
	}

	limit := r.PreviewLimitSeconds
	if limit <= 0 {
		limit = 300
	}
	tol := r.ClipToleranceSeconds
	if tol <= 0 {
		tol = 1
	}

	shouldClip := true
	if originalSec > 0 && originalSec <= limit+tol {
		shouldClip = false
	}
	return &domain.ClipPolicy{LimitSeconds: limit, ShouldClip: shouldClip}
}

// CheckUploadDurationLimit enforces the per-tier hard ceiling on unclipped
// media. The check is skipped when a clip policy is active — clipping already
// bounds the processed length, so only the unclipped path needs the ceiling.
// Unknown durations pass; the ceiling cannot reject what it cannot measure.
func (r *DurationResolver) CheckUploadDurationLimit(originalSec float64, tier domain.Tier, authenticated bool, clipActive bool) error {
	if clipActive || originalSec <= 0 {
		return nil
	}
	t := tier
	if !authenticated {
		t = domain.TierFree
	}
	limit, ok := r.UploadLimitSeconds[t]
	if !ok || limit <= 0 {
		return nil
	}
	if originalSec > limit {
		return &DurationExceededError{
			ActualSeconds: math.Round(originalSec),
			LimitSeconds:  limit,
		}
	}
	return nil
}
