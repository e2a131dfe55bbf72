package domain

import "time"

// SafetyAction is the operation being admitted.
type SafetyAction string

const (
	ActionDownload      SafetyAction = "download"
	ActionDelete        SafetyAction = "delete"
	ActionMove          SafetyAction = "move"
	ActionUploadCleanup SafetyAction = "upload_cleanup"
	ActionGenerateSTRM  SafetyAction = "generate_strm"
)

// Known reports whether the action is part of the recognized set. Unknown
// actions are admitted fail-open rather than blocked.
func (a SafetyAction) Known() bool {
	switch a {
	case ActionDownload, ActionDelete, ActionMove, ActionUploadCleanup, ActionGenerateSTRM:
		return true
	default:
		return false
	}
}

// Destructive reports whether the action can break a seeding obligation.
func (a SafetyAction) Destructive() bool {
	switch a {
	case ActionDelete, ActionMove, ActionUploadCleanup:
		return true
	default:
		return false
	}
}

// SafetyTrigger identifies who initiated the action.
type SafetyTrigger string

const (
	TriggerUserWeb      SafetyTrigger = "user_web"
	TriggerSystemRunner SafetyTrigger = "system_runner"
)

// SafetyVerdict is the engine's final word on one action.
type SafetyVerdict string

const (
	VerdictAllow          SafetyVerdict = "ALLOW"
	VerdictDeny           SafetyVerdict = "DENY"
	VerdictRequireConfirm SafetyVerdict = "REQUIRE_CONFIRM"
)

// SafetyReason is the machine-readable explanation for a verdict.
type SafetyReason string

const (
	SafetyReasonSafe                SafetyReason = "SAFE"
	SafetyReasonSettingsDisabled    SafetyReason = "SETTINGS_DISABLED"
	SafetyReasonUnknownAction       SafetyReason = "UNKNOWN_ACTION"
	SafetyReasonMissingTarget       SafetyReason = "MISSING_TARGET"
	SafetyReasonHRActiveDownload    SafetyReason = "HR_ACTIVE_DOWNLOAD"
	SafetyReasonHRActiveDelete      SafetyReason = "HR_ACTIVE_DELETE"
	SafetyReasonHRActiveMove        SafetyReason = "HR_ACTIVE_MOVE"
	SafetyReasonHRActiveCleanup     SafetyReason = "HR_ACTIVE_CLEANUP"
	SafetyReasonHRMoveSuggestCopy   SafetyReason = "HR_MOVE_SUGGEST_COPY"
	SafetyReasonHRSafe              SafetyReason = "HR_SAFE"
	SafetyReasonSubscriptionNoHR    SafetyReason = "SUBSCRIPTION_NO_HR"
	SafetyReasonSiteHighlySensitive SafetyReason = "SITE_HIGHLY_SENSITIVE"
	SafetyReasonLowRatioBlocked     SafetyReason = "LOW_RATIO_BLOCKED"
	SafetyReasonLowRatioWarning     SafetyReason = "LOW_RATIO_WARNING"
	SafetyReasonShortSeedTime       SafetyReason = "SHORT_SEED_TIME"
	SafetyReasonSiteThrottled       SafetyReason = "SITE_THROTTLED"
	SafetyReasonEngineFault         SafetyReason = "ENGINE_FAULT"
)

// SafetyContext is the input for one safety evaluation. Built per call,
// never persisted.
type SafetyContext struct {
	Action         SafetyAction
	SiteKey        string
	TorrentID      string
	Trigger        SafetyTrigger
	SubscriptionID *int64
	// ChangesSeedingPath marks a move that would break the active seed.
	ChangesSeedingPath bool
	// CurrentRatio is the share ratio reported by the downloader client for
	// the torrent, when the caller has it. Negative means unknown.
	CurrentRatio float64
	// HRCase may be pre-fetched by the caller to skip the store lookup.
	HRCase *HRCase
}

// SafetyDecision is the engine's output.
type SafetyDecision struct {
	Verdict              SafetyVerdict
	ReasonCode           SafetyReason
	Message              string
	SuggestedAlternative string
	HRSnapshot           map[string]any
	Confidence           float64
	RequiresUserAction   bool
	AutoApproveAfter     *time.Time
	ProcessingTimeMS     float64
}

// HRSensitivity grades how aggressively a site enforces HR rules.
type HRSensitivity string

const (
	SensitivityNormal          HRSensitivity = "normal"
	SensitivitySensitive       HRSensitivity = "sensitive"
	SensitivityHighlySensitive HRSensitivity = "highly_sensitive"
)

// GlobalSafetySettings is the deployment-wide policy configuration.
type GlobalSafetySettings struct {
	Enabled               bool
	Mode                  string
	MinKeepHours          float64
	MinRatioForDelete     float64
	PreferCopyOnMoveForHR bool
	EnableHRProtection    bool
	AutoApproveHours      float64
	CacheTTLSeconds       int
	BatchCheckEnabled     bool
}

// SiteSafetySettings overrides thresholds per tracker site.
type SiteSafetySettings struct {
	SiteKey               string
	SiteName              string
	HRSensitivity         HRSensitivity
	MinKeepRatio          *float64
	MinKeepTimeHours      *float64
	EnableHRDownloadBlock bool
	EnableHRDeleteBlock   bool
	EnableHRMoveWarning   bool
}

// SubscriptionSafetySettings carries the per-subscription HR preferences.
type SubscriptionSafetySettings struct {
	SubscriptionID int64
	AllowHR        bool
	StrictFreeOnly bool
	AutoSkipHR     bool
}
