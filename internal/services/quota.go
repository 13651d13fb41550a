// Package services – QuotaEvaluator
//
// The quota evaluator decides whether a single admission may proceed under
// the configured usage limits. Four independent gates exist; a request must
// pass every gate applicable to its (authentication state × preview flag ×
// source type) combination:
//
//  1. YouTube monthly request count — anonymous identities and Free-tier
//     authenticated users; count-based, never bypassed by high-accuracy mode.
//  2. Anonymous preview daily count — tracked under its own category so it
//     does not interact with the minutes ceiling.
//  3. Anonymous daily request count AND monthly minutes ceiling.
//  4. Authenticated non-preview: estimated minutes against the tier's
//     remaining monthly allowance.
//
// Gate order matters only for which denial message the client sees first;
// cheaper count checks run before the minutes aggregation.
//
// The read-then-write sequence (Sum/Count here, Record later in admission)
// is deliberately non-atomic: two concurrent requests from one identity can
// both pass a check that would deny the second if serialized. Accepted under
// the system's load profile; see DESIGN.md.
package services

import (
	"context"
	"math"
	"time"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// Limits carries the injected quota limit values. The core never reads
// ambient process state; config maps env vars into this struct at startup.
type Limits struct {
	AnonDailyCount        int     // admitted requests per anonymous identity per UTC day
	AnonMonthlyMinutes    float64 // estimated minutes per anonymous identity per UTC month
	AnonPreviewDailyCount int     // preview actions per anonymous identity per UTC day
	YouTubeMonthlyCount   int     // YouTube requests per identity per UTC month (anon + Free tier)
}

// DefaultLimits mirrors the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		AnonDailyCount:        5,
		AnonMonthlyMinutes:    30,
		AnonPreviewDailyCount: 10,
		YouTubeMonthlyCount:   3,
	}
}

// Stable denial reasons surfaced in QuotaDecision.Reason.
const (
	ReasonYouTubeLimit   = "youtube_limit_reached"
	ReasonPreviewLimit   = "preview_limit_reached"
	ReasonDailyLimit     = "daily_limit_reached"
	ReasonMonthlyMinutes = "monthly_minutes_exceeded"
	ReasonTierAllowance  = "tier_allowance_exceeded"
)

// QuotaInput is everything the evaluator needs for one request.
type QuotaInput struct {
	IdentityKey      string
	UserID           string // "" when anonymous
	Tier             domain.Tier
	SourceType       domain.SourceType
	EstimatedMinutes float64
	IsPreview        bool
	Now              time.Time
}

// Authenticated reports whether the request carries a user identity.
func (in QuotaInput) Authenticated() bool { return in.UserID != "" }

// QuotaEvaluator checks admissions against ledger aggregates and tier policy.
// Evaluation errors are fail-closed: the caller surfaces them as server
// errors instead of silently admitting the request.
type QuotaEvaluator struct {
	Ledger *UsageLedger
	Tiers  TierPolicy
	Limits Limits
}

// Check runs every applicable gate and returns the first denial, or an
// allowed decision carrying the most relevant remaining budget.
func (q *QuotaEvaluator) Check(ctx context.Context, in QuotaInput) (domain.QuotaDecision, error) {
	// Gate 1: YouTube monthly request count (anon + Free tier), count-based.
	if in.SourceType == domain.SourceYouTube && (!in.Authenticated() || in.Tier == domain.TierFree) {
		n, err := q.Ledger.CountMonth(ctx, in.IdentityKey, domain.UsageAnonYouTube, in.Now)
		if err != nil {
			return domain.QuotaDecision{}, err
		}
		if n >= int64(q.Limits.YouTubeMonthlyCount) {
			return deny(ReasonYouTubeLimit, float64(n), 0), nil
		}
	}

	// Gate 2: anonymous preview daily count, its own category.
	if !in.Authenticated() && in.IsPreview {
		n, err := q.Ledger.CountDay(ctx, in.IdentityKey, domain.UsageAnonPreview, in.Now)
		if err != nil {
			return domain.QuotaDecision{}, err
		}
		if n >= int64(q.Limits.AnonPreviewDailyCount) {
			return deny(ReasonPreviewLimit, float64(n), 0), nil
		}
	}

	// Gate 3: anonymous daily count and monthly minutes ceiling.
	if !in.Authenticated() {
		n, err := q.Ledger.CountDay(ctx, in.IdentityKey, domain.UsageAnonGeneral, in.Now)
		if err != nil {
			return domain.QuotaDecision{}, err
		}
		if n >= int64(q.Limits.AnonDailyCount) {
			return deny(ReasonDailyLimit, float64(n), 0), nil
		}

		used, err := q.Ledger.SumMonth(ctx, in.IdentityKey, domain.UsageAnonGeneral, in.Now)
		if err != nil {
			return domain.QuotaDecision{}, err
		}
		remaining := q.Limits.AnonMonthlyMinutes - used
		if in.EstimatedMinutes > remaining {
			return deny(ReasonMonthlyMinutes, used, math.Max(remaining, 0)), nil
		}
		return allow(used, remaining-in.EstimatedMinutes), nil
	}

	// Gate 4: authenticated non-preview minutes against tier allowance.
	// Previews are capped by clip policy instead of minutes accounting.
	if in.IsPreview {
		return allow(0, 0), nil
	}
	allowance, err := q.Tiers.MonthlyAllowance(ctx, in.UserID, in.Tier)
	if err != nil {
		return domain.QuotaDecision{}, err
	}
	used := 0.0
	for _, cat := range []domain.UsageCategory{domain.UsageStandard, domain.UsageHighAccuracy} {
		m, err := q.Ledger.SumMonth(ctx, in.IdentityKey, cat, in.Now)
		if err != nil {
			return domain.QuotaDecision{}, err
		}
		used += m
	}
	remaining := allowance - used
	if in.EstimatedMinutes > remaining {
		return deny(ReasonTierAllowance, used, math.Max(remaining, 0)), nil
	}
	return allow(used, remaining-in.EstimatedMinutes), nil
}

// CategoryFor maps an admission to the ledger bucket its estimate is
// recorded under.
func CategoryFor(authenticated, highAccuracy bool) domain.UsageCategory {
	switch {
	case !authenticated:
		return domain.UsageAnonGeneral
	case highAccuracy:
		return domain.UsageHighAccuracy
	default:
		return domain.UsageStandard
	}
}

// EstimateCostMinutes converts a media duration into billable minutes,
// rounded up to whole minutes. High-accuracy processing bills double.
func EstimateCostMinutes(durationSec float64, highAccuracy bool) float64 {
	if durationSec <= 0 {
		return 0
	}
	m := math.Ceil(durationSec / 60)
	if highAccuracy {
		m *= 2
	}
	return m
}

func deny(reason string, usage, remaining float64) domain.QuotaDecision {
	return domain.QuotaDecision{Allowed: false, Reason: reason, Usage: usage, Remaining: remaining}
}

func allow(usage, remaining float64) domain.QuotaDecision {
	return domain.QuotaDecision{Allowed: true, Usage: usage, Remaining: remaining}
}
