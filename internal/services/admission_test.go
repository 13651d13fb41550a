package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/suppliers"
)

// ----- Fakes -----

type fakeDispatcher struct {
	outcome suppliers.Outcome
	err     error

	calls int
	last  suppliers.DispatchRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req suppliers.DispatchRequest) (suppliers.Outcome, error) {
	f.calls++
	f.last = req
	return f.outcome, f.err
}

type fakeVerifier struct {
	sessionOK   bool
	challengeOK bool
	err         error
}

func (f *fakeVerifier) VerifySession(ctx context.Context, token string) (bool, error) {
	return f.sessionOK, f.err
}

func (f *fakeVerifier) VerifyChallenge(ctx context.Context, token, remoteIP string) (bool, error) {
	return f.challengeOK, f.err
}

type fakeRewriter struct{ prefix string }

func (f *fakeRewriter) Rewrite(raw string) (string, error) {
	if f.prefix == "" {
		return raw, nil
	}
	return f.prefix + raw, nil
}

type admissionFixture struct {
	svc        *AdmissionService
	jobs       *JobService
	ledger     *UsageLedger
	dispatcher *fakeDispatcher
	verifier   *fakeVerifier
	tiers      *fakeTiers
}

func newAdmission(t *testing.T) *admissionFixture {
	t.Helper()
	db := newServiceDB(t)
	ledger := &UsageLedger{DB: db}
	jobs := &JobService{DB: db, Ledger: ledger}
	tiers := &fakeTiers{allowance: 120, highAccuracy: true}
	dispatcher := &fakeDispatcher{outcome: suppliers.Outcome{Route: suppliers.RouteStandard, Supplier: "standard"}}
	verifier := &fakeVerifier{}

	return &admissionFixture{
		svc: &AdmissionService{
			Quota: &QuotaEvaluator{Ledger: ledger, Tiers: tiers, Limits: DefaultLimits()},
			Durations: &DurationResolver{
				PreviewLimitSeconds:  300,
				ClipToleranceSeconds: 1,
				UploadLimitSeconds:   DefaultUploadLimits(),
			},
			Jobs:       jobs,
			Ledger:     ledger,
			Dispatcher: dispatcher,
			Verifier:   verifier,
			Tiers:      tiers,
		},
		jobs:       jobs,
		ledger:     ledger,
		dispatcher: dispatcher,
		verifier:   verifier,
		tiers:      tiers,
	}
}

func basicRequest() *AdmissionRequest {
	return &AdmissionRequest{
		Type:    string(domain.SourceAudioURL),
		Content: "https://cdn.example.com/a.mp3",
		Options: AdmissionOptions{OriginalDurationSeconds: 240},
		Identity: Identity{
			UserID: "u1",
			Tier:   domain.TierBasic,
		},
	}
}

func TestAdmit_RejectsInvalidBeforeSideEffects(t *testing.T) {
	f := newAdmission(t)

	for _, req := range []*AdmissionRequest{
		{Type: "carrier_pigeon", Content: "x", Identity: Identity{UserID: "u1"}},
		{Type: string(domain.SourceAudioURL), Content: "   ", Identity: Identity{UserID: "u1"}},
	} {
		if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("err = %v, want ErrInvalidRequest", err)
		}
	}
	if f.dispatcher.calls != 0 {
		t.Fatal("invalid request reached the dispatcher")
	}
	if n, _ := f.ledger.CountDay(context.Background(), "u1", domain.UsageStandard, time.Now()); n != 0 {
		t.Fatal("invalid request wrote to the ledger")
	}
}

func TestAdmit_NonPreviewRequiresAuth(t *testing.T) {
	f := newAdmission(t)
	req := basicRequest()
	req.Identity = Identity{AnonKey: "anon:k"}

	if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
}

func TestAdmit_AnonymousPreviewVerification(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		f := newAdmission(t)
		req := basicRequest()
		req.Action = ActionPreview
		req.Identity = Identity{AnonKey: "anon:k"}

		if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrVerificationRequired) {
			t.Fatalf("err = %v, want ErrVerificationRequired", err)
		}
	})

	t.Run("bad token", func(t *testing.T) {
		f := newAdmission(t)
		req := basicRequest()
		req.Action = ActionPreview
		req.Identity = Identity{AnonKey: "anon:k"}
		req.TurnstileToken = "tok"

		if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("err = %v, want ErrVerificationFailed", err)
		}
	})

	t.Run("stale session falls back to challenge", func(t *testing.T) {
		f := newAdmission(t)
		f.verifier.sessionOK = false
		f.verifier.challengeOK = true
		req := basicRequest()
		req.Action = ActionPreview
		req.Identity = Identity{AnonKey: "anon:k"}
		req.SessionToken = "stale"
		req.TurnstileToken = "fresh"

		if _, err := f.svc.Admit(context.Background(), req); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	})
}

func TestAdmit_AnonymousPreviewFullPath(t *testing.T) {
	f := newAdmission(t)
	f.verifier.sessionOK = true

	req := basicRequest()
	req.Action = ActionPreview
	req.Identity = Identity{AnonKey: "anon:k"}
	req.SessionToken = "sess"
	req.Options.OriginalDurationSeconds = 1800
	req.Options.HighAccuracyMode = true // must be ignored for anonymous callers

	res, err := f.svc.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.JobID == "" || !res.Clipped {
		t.Fatalf("result = %+v, want clipped job", res)
	}

	// Dispatch carries the clip ceiling and no high-accuracy flag.
	if f.dispatcher.last.ClipLimitSeconds != 300 {
		t.Fatalf("clip limit = %v, want 300", f.dispatcher.last.ClipLimitSeconds)
	}
	if f.dispatcher.last.HighAccuracy {
		t.Fatal("anonymous request dispatched as high accuracy")
	}

	// The estimate bills the clipped length, not the full 30 minutes.
	sum, _ := f.ledger.SumMonth(context.Background(), "anon:k", domain.UsageAnonGeneral, time.Now())
	if sum != 5 {
		t.Fatalf("anon minutes = %v, want 5", sum)
	}
	if n, _ := f.ledger.CountDay(context.Background(), "anon:k", domain.UsageAnonPreview, time.Now()); n != 1 {
		t.Fatalf("preview count = %d, want 1", n)
	}

	job, err := f.jobs.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.OwnerIdentity != "" {
		t.Fatalf("anonymous job stored owner %q", job.OwnerIdentity)
	}
	if job.OriginalDurationSec != 1800 || job.DurationSec != 300 {
		t.Fatalf("durations = %v/%v, want 1800/300", job.OriginalDurationSec, job.DurationSec)
	}
	if job.Status != domain.StatusTranscribing || job.Supplier != "standard" {
		t.Fatalf("job = (%s, %s), want transcribing on standard", job.Status, job.Supplier)
	}
}

func TestAdmit_AuthenticatedFullRun(t *testing.T) {
	f := newAdmission(t)
	req := basicRequest()
	req.Options.Language = "EN-us"

	res, err := f.svc.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Clipped {
		t.Fatal("paid full run was clipped")
	}

	job, err := f.jobs.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.StatusTranscribing {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Language != "en-US" {
		t.Fatalf("language = %q, want canonical en-US", job.Language)
	}
	if job.Tier != domain.TierBasic {
		t.Fatalf("tier snapshot = %s", job.Tier)
	}

	sum, _ := f.ledger.SumMonth(context.Background(), "u1", domain.UsageStandard, time.Now())
	if sum != 4 {
		t.Fatalf("standard minutes = %v, want 4", sum)
	}
}

func TestAdmit_HighAccuracyDowngradeWhenTierLacksIt(t *testing.T) {
	f := newAdmission(t)
	f.tiers.highAccuracy = false
	req := basicRequest()
	req.Options.HighAccuracyMode = true

	if _, err := f.svc.Admit(context.Background(), req); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if f.dispatcher.last.HighAccuracy {
		t.Fatal("high accuracy not downgraded")
	}
	// Billed single rate under the standard category.
	sum, _ := f.ledger.SumMonth(context.Background(), "u1", domain.UsageStandard, time.Now())
	if sum != 4 {
		t.Fatalf("minutes = %v, want undoubled 4", sum)
	}
}

func TestAdmit_YouTubeMonthlyDenial(t *testing.T) {
	f := newAdmission(t)
	f.verifier.sessionOK = true
	seedUsage(t, f.ledger, "anon:k", domain.UsageAnonYouTube, 0, 3, time.Now())

	req := basicRequest()
	req.Type = string(domain.SourceYouTube)
	req.Content = "https://youtu.be/x"
	req.Action = ActionPreview
	req.Identity = Identity{AnonKey: "anon:k"}
	req.SessionToken = "sess"

	if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrYouTubeLimitReached) {
		t.Fatalf("err = %v, want ErrYouTubeLimitReached", err)
	}
	if f.dispatcher.calls != 0 {
		t.Fatal("denied request reached the dispatcher")
	}
}

func TestAdmit_QuotaDenialCarriesDecision(t *testing.T) {
	f := newAdmission(t)
	f.tiers.allowance = 3
	req := basicRequest() // 240s → 4 minutes > 3 allowed

	_, err := f.svc.Admit(context.Background(), req)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qe.Decision.Reason != ReasonTierAllowance {
		t.Fatalf("reason = %q", qe.Decision.Reason)
	}
}

func TestAdmit_UploadCeilingDenial(t *testing.T) {
	f := newAdmission(t)
	req := basicRequest()
	req.Options.OriginalDurationSeconds = 5 * 3600 // above the basic 4h ceiling

	if _, err := f.svc.Admit(context.Background(), req); !errors.Is(err, ErrDurationExceeded) {
		t.Fatalf("err = %v, want ErrDurationExceeded", err)
	}
}

func TestAdmit_AbortBeforeDispatch(t *testing.T) {
	f := newAdmission(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Admit(ctx, basicRequest())
	if !errors.Is(err, ErrClientAborted) {
		t.Fatalf("err = %v, want ErrClientAborted", err)
	}
	if f.dispatcher.calls != 0 {
		t.Fatal("aborted request reached the dispatcher")
	}
}

func TestAdmit_AbortDuringDispatchCancelsJob(t *testing.T) {
	f := newAdmission(t)
	f.dispatcher.outcome = suppliers.Outcome{Route: suppliers.RouteStandard, Supplier: "standard"}
	f.dispatcher.err = context.Canceled

	_, err := f.svc.Admit(context.Background(), basicRequest())
	if !errors.Is(err, ErrClientAborted) {
		t.Fatalf("err = %v, want ErrClientAborted", err)
	}

	// The placeholder must have been reconciled to cancelled, not left queued.
	items, total, lerr := f.jobs.ListPage(context.Background(), "u1", 1, 10)
	if lerr != nil {
		t.Fatalf("list: %v", lerr)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("aborted job still visible: total=%d", total)
	}
}

func TestAdmit_NoSupplierFailsJob(t *testing.T) {
	f := newAdmission(t)
	f.dispatcher.outcome = suppliers.Outcome{Route: suppliers.RouteUnavailable}

	_, err := f.svc.Admit(context.Background(), basicRequest())
	if !errors.Is(err, ErrSupplierUnavailable) {
		t.Fatalf("err = %v, want ErrSupplierUnavailable", err)
	}

	// The placeholder is failed, never left queued forever.
	var jobs []domain.Job
	if err := f.jobs.DB.Find(&jobs).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != domain.StatusFailed {
		t.Fatalf("jobs = %+v, want one failed", jobs)
	}
}

func TestAdmit_SubmissionErrorStillMarksTranscribing(t *testing.T) {
	// A network-level supplier failure is not a client error: the attempt was
	// made, the job reflects it, and recovery belongs to monitoring.
	f := newAdmission(t)
	f.dispatcher.outcome = suppliers.Outcome{Route: suppliers.RouteStandard, Supplier: "standard"}
	f.dispatcher.err = errors.New("connection refused")

	res, err := f.svc.Admit(context.Background(), basicRequest())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	job, err := f.jobs.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.StatusTranscribing {
		t.Fatalf("status = %s, want transcribing", job.Status)
	}
}

func TestAdmit_SourceRepairAndRewrite(t *testing.T) {
	f := newAdmission(t)
	f.svc.Rewriter = &fakeRewriter{prefix: "cdn/"}
	req := basicRequest()
	req.Content = "https://https://origin.example.com/a.mp3"

	if _, err := f.svc.Admit(context.Background(), req); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got := f.dispatcher.last.MediaURL; got != "cdn/https://origin.example.com/a.mp3" {
		t.Fatalf("dispatched URL = %q", got)
	}
}
