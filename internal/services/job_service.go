// Package services – JobService
//
// This file implements the job record manager: placeholder creation at
// admission time, guarded status transitions, terminal writes applied by the
// supplier callback handlers, and the cancellation path. It enforces the
// lifecycle rules (cancelled is terminal and never overwritten; terminal
// writes absorb duplicate callback deliveries) on top of the thin repo layer.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/repo"
)

// JobService owns the job lifecycle record.
type JobService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Ledger receives reconciliation entries when a callback reports more
	// processed minutes than the admission estimate.
	Ledger *UsageLedger
}

// CreatePlaceholder inserts the queued job row. Callers treat failure as
// non-fatal: the admission flow proceeds and still returns the job id —
// availability over strict bookkeeping.
func (s *JobService) CreatePlaceholder(ctx context.Context, job *domain.Job) error {
	return repo.CreateJob(ctx, s.DB, job)
}

// Get fetches a job by id, mapping missing rows to ErrJobNotFound.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	j, err := repo.GetJob(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

// ListPage returns a page of an identity's jobs plus the total count.
func (s *JobService) ListPage(ctx context.Context, identity string, page, pageSize int) ([]domain.Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountJobs(ctx, s.DB, identity)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Job{}, 0, nil
	}
	items, err := repo.ListJobsPage(ctx, s.DB, identity, offset, pageSize)
	return items, total, err
}

// MarkTranscribing records that a dispatch attempt was made. The underlying
// write is conditioned on the job not being cancelled; a lost race against
// cancellation surfaces as repo.ErrSuperseded for the caller to absorb.
func (s *JobService) MarkTranscribing(ctx context.Context, id, supplier string, tagged bool) error {
	return repo.MarkTranscribing(ctx, s.DB, id, supplier, tagged)
}

// Cancel transitions a job to cancelled+deleted. Already-terminal jobs
// return repo.ErrSuperseded.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	return repo.MarkCancelled(ctx, s.DB, id)
}

// CancelBestEffort reconciles job state after a client abort. The request
// context is already dead, so it runs on a background context and tolerates
// persistence failures (a stale queued row is preferable to blocking the
// abort path).
func (s *JobService) CancelBestEffort(id string) {
	if err := repo.MarkCancelled(context.Background(), s.DB, id); err != nil &&
		!errors.Is(err, repo.ErrSuperseded) && !errors.Is(err, repo.ErrNotFound) {
		log.Warn().Err(err).Str("job_id", id).Msg("cancel reconciliation failed (fail-open)")
	}
}

// Complete applies the terminal completed write reported by a supplier
// callback and reconciles billing: when the actually processed minutes
// exceed the admission estimate, the shortfall is appended to the ledger
// (best-effort). Duplicate callbacks are absorbed.
func (s *JobService) Complete(ctx context.Context, id string, actualDurationSec float64) error {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	highAccuracy := job.Supplier == "premium" && !job.SupplierTagged
	actualMinutes := EstimateCostMinutes(actualDurationSec, highAccuracy)

	if err := repo.MarkCompleted(ctx, s.DB, id, actualDurationSec, actualMinutes); err != nil {
		if errors.Is(err, repo.ErrSuperseded) {
			return nil // duplicate delivery
		}
		return err
	}

	// Bill only the shortfall against the admission estimate; the estimate
	// itself was recorded when the job was admitted. Anonymous jobs keep the
	// admission estimate as authoritative (the anon ledger key is derived
	// per-request and is not stored on the job).
	if delta := actualMinutes - job.CostMinutes; delta > 0 && job.OwnerIdentity != "" && s.Ledger != nil {
		cat := CategoryFor(true, highAccuracy)
		s.Ledger.RecordBestEffort(ctx, job.OwnerIdentity, cat, delta, job.CreatedAt)
	}
	return nil
}

// Fail applies the terminal failed write with a reason. Duplicate callbacks
// are absorbed.
func (s *JobService) Fail(ctx context.Context, id, reason string) error {
	if err := repo.MarkFailed(ctx, s.DB, id, reason); err != nil {
		if errors.Is(err, repo.ErrSuperseded) {
			return nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	return nil
}
