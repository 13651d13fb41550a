// Package domain defines the persistence models for transcription jobs and
// the append-only usage ledger, together with the small ephemeral value types
// (quota decisions, clip policies) that flow between the admission services.
// Persistent types are mapped with GORM and form the core data layer of the
// transcription backend.
package domain

import "time"

// SourceType identifies where the media of a transcription request comes from.
type SourceType string

const (
	SourceYouTube    SourceType = "youtube_url"
	SourceAudioURL   SourceType = "audio_url"
	SourceFileUpload SourceType = "file_upload"
)

// Valid reports whether s is one of the accepted source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceYouTube, SourceAudioURL, SourceFileUpload:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a transcription job.
//
// Transitions: queued → transcribing → completed|failed. A job may move to
// cancelled from any non-terminal state; cancelled is terminal and must never
// be overwritten by a later transcribing write.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusTranscribing JobStatus = "transcribing"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Tier is the pricing tier of the requesting user, snapshotted onto the job
// at admission time. The tier in effect at admission governs the job even if
// the user later upgrades or downgrades.
type Tier string

const (
	// TierFree is the lowest tier; free users share most of the anonymous
	// restrictions (clip policy, YouTube monthly cap).
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// UsageCategory names the ledger bucket a usage record is aggregated under.
// Each configured limit reads exactly one category.
type UsageCategory string

const (
	UsageAnonPreview  UsageCategory = "anon_preview"
	UsageAnonYouTube  UsageCategory = "anon_youtube"
	UsageAnonGeneral  UsageCategory = "anon_usage"
	UsageStandard     UsageCategory = "standard"
	UsageHighAccuracy UsageCategory = "high_accuracy"
)

// Job represents one transcription attempt. The row is created at admission
// time in status queued and mutated by the dispatcher (→ transcribing), the
// supplier callback handlers (→ completed/failed), or the cancellation path
// (→ cancelled, deleted).
//
// Invariants:
//   - OriginalDurationSec >= DurationSec once a clip policy has been applied.
//   - Deleted is true only for cancelled or failed jobs.
type Job struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	SourceType    SourceType `json:"source_type"    gorm:"type:varchar(16);not null"`
	SourceHash    string     `json:"source_hash"    gorm:"type:char(64);not null;index"`
	SourceURL     string     `json:"source_url"     gorm:"type:text;not null"`
	OwnerIdentity string     `json:"owner_identity" gorm:"type:varchar(64);index:idx_owner_jobs"`
	Tier          Tier       `json:"tier"           gorm:"type:varchar(16);not null"`
	Status        JobStatus  `json:"status"         gorm:"type:varchar(16);not null;index"`

	// DurationSec is the processed (possibly clipped) length; OriginalDurationSec
	// is the pre-clip length. Both are needed for quota reconciliation and
	// client display. Zero means "not yet known".
	DurationSec         float64 `json:"duration_sec"`
	OriginalDurationSec float64 `json:"original_duration_sec"`

	// CostMinutes is the running estimate of billable minutes; the supplier
	// callback reconciles it against the actually processed duration.
	CostMinutes float64 `json:"cost_minutes"`

	// Supplier is the external provider the job was dispatched to ("" until
	// dispatch). SupplierTagged marks premium dispatches that must be treated
	// as standard-tier output (premium used only as a fallback).
	Supplier       string `json:"supplier,omitempty"       gorm:"type:varchar(32)"`
	SupplierTagged bool   `json:"supplier_tagged,omitempty"`

	Language string `json:"language,omitempty" gorm:"type:varchar(16)"`
	Title    string `json:"title,omitempty"    gorm:"type:varchar(255)"`
	Error    string `json:"error,omitempty"    gorm:"type:text"`

	Deleted     bool       `json:"-" gorm:"not null;default:false;index"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_owner_jobs,priority:2"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// UsageRecord is one append-only ledger entry. Rows are immutable once
// written; aggregates are always re-computed by range query over the rows,
// never read from a cached counter.
type UsageRecord struct {
	ID string `json:"id" gorm:"type:char(36);primaryKey"`

	// IdentityKey is the ledger partition key: an authenticated user id or an
	// anonymized IP derivation ("anon:<hmac>"). Raw addresses are never stored.
	IdentityKey string        `json:"identity_key" gorm:"type:varchar(80);not null;index:idx_usage_window,priority:1"`
	Category    UsageCategory `json:"category"     gorm:"type:varchar(24);not null;index:idx_usage_window,priority:2"`

	// Minutes is the decimal cost attributed to this entry; zero for pure
	// count-style limits (previews, YouTube requests).
	Minutes float64 `json:"minutes"`

	// WindowDate is the UTC calendar date the record belongs to, used for
	// daily and monthly aggregates by range query.
	WindowDate time.Time `json:"window_date" gorm:"type:date;not null;index:idx_usage_window,priority:3"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "usage_records" }

// QuotaDecision is the quota evaluator's verdict for a single request.
// It is ephemeral and never persisted.
type QuotaDecision struct {
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason,omitempty"`
	Remaining float64 `json:"remaining"`
	Usage     float64 `json:"usage"`
}

// ClipPolicy caps processed media to a bounded preview length before it is
// sent to a supplier. A nil *ClipPolicy means no clipping applies.
type ClipPolicy struct {
	LimitSeconds float64 `json:"limit_seconds"`
	ShouldClip   bool    `json:"should_clip"`
}
