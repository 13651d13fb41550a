// Package suppliers integrates the external, webhook-driven speech-to-text
// providers. It owns route selection (which provider, if any, receives a
// job), callback URL construction and signing, and the bounded-timeout HTTP
// dispatch itself.
package suppliers

// Route is the dispatcher's explicit routing decision. It replaces the
// nested boolean toggles ("use premium?", "fall back to premium?") with one
// enumerated value produced by a single pure function, so the combinatorial
// flag interactions cannot drift between call sites.
type Route string

const (
	// RoutePremium: high-accuracy was requested and the premium provider is up.
	RoutePremium Route = "premium"
	// RouteStandard: the default provider handles the job.
	RouteStandard Route = "standard"
	// RouteFallbackPremium: no standard provider; premium takes the job but
	// the dispatch is tagged so the callback treats the result as
	// standard-tier output.
	RouteFallbackPremium Route = "fallback_premium"
	// RouteLocal: no external provider; hand the job to the local
	// process-one fallback worker.
	RouteLocal Route = "local_fallback"
	// RouteUnavailable: nothing can take the job; it must be failed
	// immediately rather than left queued forever.
	RouteUnavailable Route = "unavailable"
)

// SelectRoute picks the provider route for a job. Evaluation order is fixed:
//
//  1. high-accuracy + premium available → premium
//  2. standard available → standard
//  3. premium available → fallback premium (tagged standard-tier)
//  4. local fallback enabled → local
//  5. otherwise → unavailable
func SelectRoute(highAccuracy, premiumAvailable, standardAvailable, localFallback bool) Route {
	switch {
	case highAccuracy && premiumAvailable:
		return RoutePremium
	case standardAvailable:
		return RouteStandard
	case premiumAvailable:
		return RouteFallbackPremium
	case localFallback:
		return RouteLocal
	default:
		return RouteUnavailable
	}
}

// Tagged reports whether results dispatched on this route must be treated as
// standard-tier output despite running on the premium provider.
func (r Route) Tagged() bool { return r == RouteFallbackPremium }
