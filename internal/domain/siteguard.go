package domain

import (
	"time"

	"github.com/google/uuid"
)

// SiteGuardEventType classifies one guard observation.
type SiteGuardEventType string

const (
	GuardEventBlock SiteGuardEventType = "block"
	GuardEventError SiteGuardEventType = "error"
)

// SiteGuardEvent is one append-only throttle/ban observation for a site.
// Rows are never mutated after insert.
type SiteGuardEvent struct {
	ID        uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	SiteKey   string             `gorm:"column:site_key;not null;index" json:"site_key"`
	EventType SiteGuardEventType `gorm:"column:event_type;not null;default:block" json:"event_type"`
	CreatedAt time.Time          `gorm:"not null;index" json:"created_at"`
	// BlockUntil nil means an instantaneous event, not a standing block.
	BlockUntil             *time.Time `gorm:"column:block_until" json:"block_until,omitempty"`
	ScanMinutesBeforeBlock *int       `gorm:"column:scan_minutes_before_block" json:"scan_minutes_before_block,omitempty"`
	ScanPagesBeforeBlock   *int       `gorm:"column:scan_pages_before_block" json:"scan_pages_before_block,omitempty"`
	Cause                  string     `gorm:"column:cause" json:"cause,omitempty"`
}

func (SiteGuardEvent) TableName() string { return "site_guard_event" }

// Blocking reports whether the event still represents a standing block.
func (e *SiteGuardEvent) Blocking(now time.Time) bool {
	return e != nil && e.BlockUntil != nil && e.BlockUntil.After(now)
}
