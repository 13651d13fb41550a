// Package collab provides the default implementations of the collaborator
// interfaces the admission services consume: the tier policy table, the
// anonymous-preview verifier, and the CDN URL rewriter. Everything here is
// replaceable; the services only see the interfaces.
package collab

import (
	"context"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// StaticTierPolicy answers tier questions from an in-process table. Suitable
// while tier entitlements ship with the binary; a billing-backed policy can
// replace it without touching the services.
type StaticTierPolicy struct {
	// Allowances maps each tier to its monthly minutes budget.
	Allowances map[domain.Tier]float64
	// HighAccuracy lists the tiers allowed to use the premium processing path.
	HighAccuracy map[domain.Tier]bool
}

// DefaultTierPolicy returns the shipped entitlement table.
func DefaultTierPolicy() *StaticTierPolicy {
	return &StaticTierPolicy{
		Allowances: map[domain.Tier]float64{
			domain.TierFree:  30,
			domain.TierBasic: 300,
			domain.TierPro:   1200,
		},
		HighAccuracy: map[domain.Tier]bool{
			domain.TierPro: true,
		},
	}
}

// MonthlyAllowance returns the tier's monthly minutes budget. Unknown tiers
// get zero, which denies every non-preview request.
func (p *StaticTierPolicy) MonthlyAllowance(ctx context.Context, userID string, tier domain.Tier) (float64, error) {
	return p.Allowances[tier], nil
}

// HighAccuracyAllowed reports whether the tier may use premium processing.
func (p *StaticTierPolicy) HighAccuracyAllowed(ctx context.Context, userID string, tier domain.Tier) (bool, error) {
	return p.HighAccuracy[tier], nil
}
