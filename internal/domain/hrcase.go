package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HRStatus is the Hit-and-Run obligation state of one (site, torrent) pair.
// NONE, FINISHED and FAILED are terminal for risk purposes; ACTIVE and
// UNKNOWN require a risk computation.
type HRStatus string

const (
	HRNone     HRStatus = "NONE"
	HRActive   HRStatus = "ACTIVE"
	HRFinished HRStatus = "FINISHED"
	HRFailed   HRStatus = "FAILED"
	HRUnknown  HRStatus = "UNKNOWN"
)

// Terminal reports whether the status is safe-to-act without computing risk.
func (s HRStatus) Terminal() bool {
	switch s {
	case HRNone, HRFinished, HRFailed:
		return true
	default:
		return false
	}
}

// TorrentLife tracks whether the torrent record still exists on the tracker.
type TorrentLife string

const (
	LifeAlive   TorrentLife = "ALIVE"
	LifeDeleted TorrentLife = "DELETED"
)

// HRRiskLevel is a derived, presentation-only classification of an active
// obligation.
type HRRiskLevel string

const (
	RiskNone   HRRiskLevel = "none"
	RiskLow    HRRiskLevel = "low"
	RiskMedium HRRiskLevel = "medium"
	RiskHigh   HRRiskLevel = "high"
)

// HRCase is the persisted obligation record for one (site_key, torrent_id)
// pair. Exactly one row per pair; rows are superseded by status transitions,
// never hard-deleted by the evaluation path.
type HRCase struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SiteKey           string         `gorm:"column:site_key;not null;uniqueIndex:idx_hr_case_site_torrent" json:"site_key"`
	TorrentID         string         `gorm:"column:torrent_id;not null;uniqueIndex:idx_hr_case_site_torrent" json:"torrent_id"`
	Status            HRStatus       `gorm:"column:status;not null;index;default:NONE" json:"status"`
	LifeStatus        TorrentLife    `gorm:"column:life_status;not null;default:ALIVE" json:"life_status"`
	RequiredSeedHours float64        `gorm:"column:required_seed_hours" json:"required_seed_hours"`
	SeededHours       float64        `gorm:"column:seeded_hours;not null;default:0" json:"seeded_hours"`
	Deadline          *time.Time     `gorm:"column:deadline;index" json:"deadline,omitempty"`
	FirstSeenAt       *time.Time     `gorm:"column:first_seen_at" json:"first_seen_at,omitempty"`
	LastSeenAt        *time.Time     `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	EnteredAt         *time.Time     `gorm:"column:entered_at" json:"entered_at,omitempty"`
	ResolvedAt        *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	PenalizedAt       *time.Time     `gorm:"column:penalized_at" json:"penalized_at,omitempty"`
	TorrentDeletedAt  *time.Time     `gorm:"column:torrent_deleted_at" json:"torrent_deleted_at,omitempty"`
	Notes             string         `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (HRCase) TableName() string { return "hr_case" }

// RiskLevel derives the presentation risk for the case at the given instant.
// Terminal statuses carry no risk; an obligation past its deadline or within
// 24h is high, within 72h medium, anything further out low.
func (c *HRCase) RiskLevel(now time.Time) HRRiskLevel {
	if c == nil || c.Status.Terminal() {
		return RiskNone
	}
	if c.Deadline == nil {
		return RiskLow
	}
	remaining := c.Deadline.Sub(now)
	switch {
	case remaining < 24*time.Hour:
		return RiskHigh
	case remaining < 72*time.Hour:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RemainingHours is the seeding still owed, never negative.
func (c *HRCase) RemainingHours() float64 {
	if c == nil {
		return 0
	}
	remaining := c.RequiredSeedHours - c.SeededHours
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot renders the fields callers embed in decisions for auditability.
func (c *HRCase) Snapshot() map[string]any {
	if c == nil {
		return nil
	}
	snap := map[string]any{
		"status":     string(c.Status),
		"torrent_id": c.TorrentID,
	}
	if c.Deadline != nil {
		snap["deadline"] = c.Deadline.UTC().Format(time.RFC3339)
	}
	if c.SeededHours > 0 {
		snap["seeded_hours"] = c.SeededHours
	}
	if c.RequiredSeedHours > 0 {
		snap["required_seed_hours"] = c.RequiredSeedHours
	}
	return snap
}
