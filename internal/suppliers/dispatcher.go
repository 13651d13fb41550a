// Package suppliers – Dispatcher
//
// The dispatcher is the last admission stage: it re-checks the client abort
// signal, selects a provider route, builds the signed callback reference,
// and issues the submission under a bounded timeout. A network-level failure
// of the chosen provider is reported to the caller but does not pick another
// provider — synchronous retries would blow the admission deadline, so the
// job stays in transcribing and the monitoring surface owns recovery.
package suppliers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var dispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "supplier_dispatch_total",
		Help: "Supplier dispatch attempts by route and outcome.",
	},
	[]string{"route", "outcome"},
)

func init() {
	prometheus.MustRegister(dispatchTotal)
}

// DispatchRequest describes one job submission.
type DispatchRequest struct {
	JobID        string
	MediaURL     string
	Language     string
	HighAccuracy bool
	Diarization  bool
	// ClipLimitSeconds > 0 asks the provider to stop at the preview ceiling;
	// belt-and-braces on top of the clipping collaborator.
	ClipLimitSeconds float64
}

// Outcome reports where a job went.
type Outcome struct {
	Route    Route
	Supplier string
	// Tagged marks fallback-premium dispatches whose results must be treated
	// as standard-tier output.
	Tagged bool
}

// Dispatcher routes jobs to the configured providers.
type Dispatcher struct {
	Premium  *Client
	Standard *Client

	// LocalFallback enables the process-one local route when no external
	// provider is configured.
	LocalFallback bool

	// CallbackBase is the externally reachable prefix for callback URLs,
	// e.g. "https://api.example.com". CallbackSecret signs job ids for
	// providers that require it.
	CallbackBase   string
	CallbackSecret string

	// Timeout bounds each provider submission (default 8s, inside the ~10s
	// admission deadline).
	Timeout time.Duration
}

// Dispatch selects a route and, for external routes, submits the job.
//
// Returned errors:
//   - ctx.Err() when the client aborted before the external call was made;
//     no provider is contacted in that case.
//   - the provider's submission error; the caller records the dispatch
//     attempt regardless (the job's transcribing state reflects "an attempt
//     was made", not "the provider accepted it").
//
// RouteUnavailable and RouteLocal return a nil error; the caller decides
// what those routes mean for the job record.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Outcome, error) {
	// Abort check immediately before any external call.
	if err := ctx.Err(); err != nil {
		return Outcome{Route: RouteUnavailable}, err
	}

	route := SelectRoute(req.HighAccuracy, d.Premium.Configured(), d.Standard.Configured(), d.LocalFallback)

	var client *Client
	switch route {
	case RoutePremium, RouteFallbackPremium:
		client = d.Premium
	case RouteStandard:
		client = d.Standard
	case RouteLocal:
		dispatchTotal.WithLabelValues(string(route), "ok").Inc()
		return Outcome{Route: route, Supplier: "local"}, nil
	case RouteUnavailable:
		dispatchTotal.WithLabelValues(string(route), "unavailable").Inc()
		return Outcome{Route: route}, nil
	}

	out := Outcome{Route: route, Supplier: client.Name, Tagged: route.Tagged()}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	err := client.Submit(callCtx, req.MediaURL, d.callbackURL(client, req.JobID), req.Language, req.Diarization, req.ClipLimitSeconds)
	if err != nil {
		dispatchTotal.WithLabelValues(string(route), "error").Inc()
		log.Warn().Err(err).
			Str("supplier", client.Name).
			Str("job_id", req.JobID).
			Msg("supplier submission failed")
		return out, err
	}

	dispatchTotal.WithLabelValues(string(route), "ok").Inc()
	return out, nil
}

// callbackURL builds the provider's result callback, embedding the job id
// and, when the provider requires it, an HMAC signature over the id.
func (d *Dispatcher) callbackURL(c *Client, jobID string) string {
	u := fmt.Sprintf("%s/callbacks/%s/%s", d.CallbackBase, c.Name, url.PathEscape(jobID))
	if c.SignCallbacks && d.CallbackSecret != "" {
		u += "?sig=" + SignJobID(d.CallbackSecret, jobID)
	}
	return u
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 8 * time.Second
}
