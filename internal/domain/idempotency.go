// Package domain defines the core persistence models for the application.
package domain

import "time"

// Idempotency records the outcome of a previously admitted transcription
// request, keyed by (identity_key, key). Retried admissions carrying the same
// Idempotency-Key are answered with the original job id instead of admitting
// (and dispatching) a second job — the "at most one intended dispatch per
// job" guarantee for client retries.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	IdentityKey string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_identity_key,priority:1"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_identity_key,priority:2"`
	JobID       string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
