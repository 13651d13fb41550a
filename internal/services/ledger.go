// Package services – UsageLedger
//
// The usage ledger is the append-only record of consumed minutes and counts
// per identity and category. It answers "how much has this identity consumed
// in window W" by re-aggregating rows; there is no cached counter to drift.
//
// Writes are best-effort by policy, not by accident: a missed ledger write
// must fail open rather than block a user, so RecordBestEffort swallows the
// error after logging it and the request path never aborts on bookkeeping.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/repo"
)

// UsageLedger provides windowed aggregation over the usage_records table.
type UsageLedger struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// Record appends one ledger row. Safe under concurrent duplicate calls; the
// ledger has no uniqueness constraint and over-counting by one admission is
// an accepted failure mode.
func (l *UsageLedger) Record(ctx context.Context, identityKey string, category domain.UsageCategory, minutes float64, when time.Time) error {
	_, err := repo.AppendUsage(ctx, l.DB, identityKey, category, minutes, when)
	return err
}

// RecordBestEffort appends one row and logs (never propagates) failures.
func (l *UsageLedger) RecordBestEffort(ctx context.Context, identityKey string, category domain.UsageCategory, minutes float64, when time.Time) {
	if err := l.Record(ctx, identityKey, category, minutes, when); err != nil {
		log.Warn().
			Err(err).
			Str("identity", identityKey).
			Str("category", string(category)).
			Msg("usage ledger write failed (fail-open)")
	}
}

// SumMonth re-aggregates minutes for the UTC calendar month containing `at`.
func (l *UsageLedger) SumMonth(ctx context.Context, identityKey string, category domain.UsageCategory, at time.Time) (float64, error) {
	from, to := monthWindow(at)
	return repo.SumUsage(ctx, l.DB, identityKey, category, from, to)
}

// CountDay counts ledger rows for the UTC calendar day containing `at`.
func (l *UsageLedger) CountDay(ctx context.Context, identityKey string, category domain.UsageCategory, at time.Time) (int64, error) {
	day := dayOf(at)
	return repo.CountUsage(ctx, l.DB, identityKey, category, day, day)
}

// CountMonth counts ledger rows for the UTC calendar month containing `at`.
func (l *UsageLedger) CountMonth(ctx context.Context, identityKey string, category domain.UsageCategory, at time.Time) (int64, error) {
	from, to := monthWindow(at)
	return repo.CountUsage(ctx, l.DB, identityKey, category, from, to)
}

// dayOf returns the UTC calendar date of t.
func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// monthWindow returns the first and last UTC calendar dates of t's month.
func monthWindow(t time.Time) (from, to time.Time) {
	u := t.UTC()
	from = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	to = from.AddDate(0, 1, -1)
	return from, to
}
