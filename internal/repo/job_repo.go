// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and guarded status transitions.
//
// Error semantics:
//   - When a job is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Guarded status writes that match no row because the job already reached
//     a conflicting state return ErrSuperseded, so callers can absorb
//     duplicate or late signals without treating them as failures.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateJob inserts a new job row. The caller supplies the fully populated
// placeholder (id, source fields, tier snapshot, status queued).
func CreateJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(job).Error
}

// GetJob fetches a single job by ID, or ErrNotFound if missing.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CountJobs returns the total number of non-deleted jobs owned by identity.
func CountJobs(ctx context.Context, db *gorm.DB, identity string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("owner_identity = ? AND deleted = ?", identity, false).
		Count(&total).Error
	return total, err
}

// ListJobsPage returns a paginated slice of non-deleted jobs for identity,
// ordered by creation time descending. Use CountJobs for pagination metadata.
func ListJobsPage(ctx context.Context, db *gorm.DB, identity string, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("owner_identity = ? AND deleted = ?", identity, false).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ErrSuperseded is returned by guarded status writes when the job exists but
// already reached a state that forbids the transition (for example a
// transcribing write racing a cancellation, or a duplicate supplier callback
// after the job is terminal).
var ErrSuperseded = errors.New("job state superseded")

// MarkTranscribing moves a job to transcribing and records the chosen
// supplier. The write is conditioned on the job not being cancelled: once a
// client abort has cancelled the job, no later dispatch bookkeeping may
// resurrect it.
func MarkTranscribing(ctx context.Context, db *gorm.DB, id, supplier string, tagged bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status <> ?", id, domain.StatusCancelled).
		Updates(map[string]any{
			"status":          domain.StatusTranscribing,
			"supplier":        supplier,
			"supplier_tagged": tagged,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return checkExists(ctx, db, id)
	}
	return nil
}

// MarkCancelled transitions a job to cancelled and flags it deleted.
// Only non-terminal jobs are affected; cancelling an already-terminal job is
// reported as ErrSuperseded.
func MarkCancelled(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.StatusQueued, domain.StatusTranscribing}).
		Updates(map[string]any{
			"status":  domain.StatusCancelled,
			"deleted": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return checkExists(ctx, db, id)
	}
	return nil
}

// MarkCompleted applies the terminal completed write with the reconciled
// duration and cost. Duplicate callbacks are absorbed: once the job is
// terminal the guarded update matches no row and ErrSuperseded is returned.
func MarkCompleted(ctx context.Context, db *gorm.DB, id string, durationSec, costMinutes float64) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.StatusQueued, domain.StatusTranscribing}).
		Updates(map[string]any{
			"status":       domain.StatusCompleted,
			"duration_sec": durationSec,
			"cost_minutes": costMinutes,
			"completed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return checkExists(ctx, db, id)
	}
	return nil
}

// MarkFailed applies the terminal failed write with a reason. Like
// MarkCompleted it is idempotent with respect to duplicate signals.
func MarkFailed(ctx context.Context, db *gorm.DB, id, reason string) error {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.StatusQueued, domain.StatusTranscribing}).
		Updates(map[string]any{
			"status": domain.StatusFailed,
			"error":  reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return checkExists(ctx, db, id)
	}
	return nil
}

// checkExists distinguishes "row missing" from "row in a conflicting state"
// after a guarded update affected zero rows.
func checkExists(ctx context.Context, db *gorm.DB, id string) error {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrSuperseded
}
