package suppliers

import "testing"

func TestSelectRoute(t *testing.T) {
	cases := []struct {
		name                              string
		highAccuracy, premium, standard   bool
		localFallback                     bool
		want                              Route
	}{
		{"high accuracy with premium", true, true, true, false, RoutePremium},
		{"high accuracy without premium", true, false, true, false, RouteStandard},
		{"default standard", false, true, true, false, RouteStandard},
		{"premium fallback", false, true, false, false, RouteFallbackPremium},
		{"local fallback", false, false, false, true, RouteLocal},
		{"nothing configured", false, false, false, false, RouteUnavailable},
		{"high accuracy nothing configured", true, false, false, false, RouteUnavailable},
		{"premium beats local", false, true, false, true, RouteFallbackPremium},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SelectRoute(c.highAccuracy, c.premium, c.standard, c.localFallback)
			if got != c.want {
				t.Fatalf("SelectRoute = %s, want %s", got, c.want)
			}
		})
	}
}

func TestRouteTagged(t *testing.T) {
	if !RouteFallbackPremium.Tagged() {
		t.Fatal("fallback premium must be tagged")
	}
	for _, r := range []Route{RoutePremium, RouteStandard, RouteLocal, RouteUnavailable} {
		if r.Tagged() {
			t.Fatalf("%s unexpectedly tagged", r)
		}
	}
}
