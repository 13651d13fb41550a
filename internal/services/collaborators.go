// Package services – collaborator contracts
//
// The admission core treats authentication, tier policy, bot verification,
// media probing, clipping, and storage URL rewriting as external
// collaborators. This file defines the narrow interfaces the core consumes;
// default implementations live in internal/collab and tests use fakes.
package services

import (
	"context"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// TierPolicy answers pricing-tier questions for authenticated users.
type TierPolicy interface {
	// MonthlyAllowance returns the tier's total monthly minutes budget.
	// The evaluator subtracts ledger usage to obtain the remaining allowance.
	MonthlyAllowance(ctx context.Context, userID string, tier domain.Tier) (float64, error)

	// HighAccuracyAllowed reports whether the user may use the premium
	// high-accuracy processing path.
	HighAccuracyAllowed(ctx context.Context, userID string, tier domain.Tier) (bool, error)
}

// Verifier gates anonymous preview requests behind a bot check. Session
// tokens are minted after a prior successful challenge; challenge tokens are
// verified against the upstream checker on every use.
type Verifier interface {
	VerifySession(ctx context.Context, token string) (bool, error)
	VerifyChallenge(ctx context.Context, token, remoteIP string) (bool, error)
}

// DurationProbe inspects remote media and reports its duration in seconds.
// Only consulted for audio_url/file_upload sources; YouTube durations are
// resolved later in the preparation step, outside admission.
type DurationProbe interface {
	Probe(ctx context.Context, mediaURL string) (float64, error)
}

// AudioClipper bounds media to a preview length before supplier dispatch.
// Clipping is best-effort enrichment: it is started, not awaited, and must
// never block the admission response.
type AudioClipper interface {
	Clip(ctx context.Context, jobID, mediaURL string, limitSeconds float64) (string, error)
}

// StorageRewriter rewrites raw storage references (bucket keys, origin URLs)
// to public CDN URLs. Failures are fail-open: the original reference is used.
type StorageRewriter interface {
	Rewrite(raw string) (string, error)
}
