package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// HRVerdict is the risk classification for one detector run. Not a state
// machine: a pure classification per call, most severe signal wins.
type HRVerdict string

const (
	HRVerdictSafe      HRVerdict = "SAFE"
	HRVerdictSuspected HRVerdict = "SUSPECTED"
	HRVerdictBlocked   HRVerdict = "BLOCKED"
)

// Severity orders verdicts for the most-severe-wins policy.
func (v HRVerdict) Severity() int {
	switch v {
	case HRVerdictBlocked:
		return 2
	case HRVerdictSuspected:
		return 1
	default:
		return 0
	}
}

// HRDetection is the persisted audit record of one detector invocation.
type HRDetection struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title        string         `gorm:"column:title;not null" json:"title"`
	SiteKey      string         `gorm:"column:site_key;index" json:"site_key,omitempty"`
	Verdict      HRVerdict      `gorm:"column:verdict;not null;index" json:"verdict"`
	Confidence   float64        `gorm:"column:confidence;not null" json:"confidence"`
	MatchedRules datatypes.JSON `gorm:"column:matched_rules" json:"matched_rules"`
	Category     string         `gorm:"column:category" json:"category,omitempty"`
	Message      string         `gorm:"column:message" json:"message,omitempty"`
	DetectedAt   time.Time      `gorm:"column:detected_at;not null;index" json:"detected_at"`
}

func (HRDetection) TableName() string { return "hr_detection" }
