// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// usage ledger.
//
// Ledger rows are immutable once written. There is deliberately no uniqueness
// constraint: two concurrent admissions from the same identity may both append
// a row, and over-counting by one request is an accepted failure mode. The
// trade is write amplification for simplicity — no cached counter exists, so
// there is no counter-consistency problem to solve.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// AppendUsage inserts one ledger row for identityKey under category.
// The row is attributed to the UTC calendar date of `when`.
func AppendUsage(ctx context.Context, db *gorm.DB, identityKey string, category domain.UsageCategory, minutes float64, when time.Time) (*domain.UsageRecord, error) {
	rec := &domain.UsageRecord{
		ID:          uuid.NewString(),
		IdentityKey: identityKey,
		Category:    category,
		Minutes:     minutes,
		WindowDate:  truncateUTC(when),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// SumUsage re-aggregates the minutes consumed by identityKey under category
// within [from, to] (inclusive calendar-date bounds, UTC).
func SumUsage(ctx context.Context, db *gorm.DB, identityKey string, category domain.UsageCategory, from, to time.Time) (float64, error) {
	var total float64
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("identity_key = ? AND category = ? AND window_date >= ? AND window_date <= ?",
			identityKey, category, truncateUTC(from), truncateUTC(to)).
		Select("COALESCE(SUM(minutes), 0)").
		Scan(&total).Error
	return total, err
}

// CountUsage counts the ledger rows for identityKey under category within
// [from, to] (inclusive calendar-date bounds, UTC). Used for count-style
// limits where the minutes column is zero.
func CountUsage(ctx context.Context, db *gorm.DB, identityKey string, category domain.UsageCategory, from, to time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("identity_key = ? AND category = ? AND window_date >= ? AND window_date <= ?",
			identityKey, category, truncateUTC(from), truncateUTC(to)).
		Count(&n).Error
	return n, err
}

// truncateUTC normalizes a timestamp to its UTC calendar date.
func truncateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
