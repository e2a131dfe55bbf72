package domain

// DecisionReason is the closed set of outcomes DecideDownload can report.
type DecisionReason string

const (
	ReasonRuleMismatch         DecisionReason = "RULE_MISMATCH"
	ReasonDuplicateActive      DecisionReason = "DUPLICATE_ACTIVE"
	ReasonQualityInferior      DecisionReason = "QUALITY_INFERIOR"
	ReasonHNRBlocked           DecisionReason = "HNR_BLOCKED"
	ReasonHNRSuspected         DecisionReason = "HNR_SUSPECTED"
	ReasonSafetyBlocked        DecisionReason = "SAFETY_BLOCKED"
	ReasonSafetyRequireConfirm DecisionReason = "SAFETY_REQUIRE_CONFIRM"
	ReasonOKNew                DecisionReason = "OK_NEW"
	ReasonOKUpgrade            DecisionReason = "OK_UPGRADE"
	ReasonError                DecisionReason = "ERROR"
)

// ExistingItemStatus is the lifecycle status of an already-held item.
type ExistingItemStatus string

const (
	ItemDownloading ExistingItemStatus = "downloading"
	ItemSeeding     ExistingItemStatus = "seeding"
	ItemCompleted   ExistingItemStatus = "completed"
)

// DecisionCandidate is one evaluated release. Built by the search /
// subscription-matching flow and never mutated by the pipeline.
type DecisionCandidate struct {
	Title        string
	Subtitle     string
	MediaType    string
	Quality      string
	Resolution   string
	Effect       string
	SizeGB       float64
	Seeders      int
	SiteKey      string
	TorrentID    string
	ReleaseGroup string
	// Raw carries site-specific list fields; merged into the rule engine
	// payload as-is.
	Raw map[string]any
}

// RulePayload flattens the candidate for the external rule engine.
func (c DecisionCandidate) RulePayload() map[string]any {
	payload := map[string]any{
		"title":      c.Title,
		"quality":    c.Quality,
		"resolution": c.Resolution,
		"effect":     c.Effect,
		"seeders":    c.Seeders,
		"size_gb":    c.SizeGB,
	}
	for k, v := range c.Raw {
		payload[k] = v
	}
	return payload
}

// DecisionSubscriptionInfo is the subscription the candidate is matched
// against. Read-only input.
type DecisionSubscriptionInfo struct {
	Quality      string
	Resolution   string
	Effect       string
	MinSeeders   int
	Include      string
	Exclude      string
	FilterGroups []string
}

// RulePayload renders the non-empty subscription fields for the rule engine.
func (s DecisionSubscriptionInfo) RulePayload() map[string]any {
	payload := map[string]any{}
	if s.Quality != "" {
		payload["quality"] = s.Quality
	}
	if s.Resolution != "" {
		payload["resolution"] = s.Resolution
	}
	if s.Effect != "" {
		payload["effect"] = s.Effect
	}
	if s.MinSeeders > 0 {
		payload["min_seeders"] = s.MinSeeders
	}
	if s.Include != "" {
		payload["include"] = s.Include
	}
	if s.Exclude != "" {
		payload["exclude"] = s.Exclude
	}
	if len(s.FilterGroups) > 0 {
		payload["filter_groups"] = s.FilterGroups
	}
	return payload
}

// DecisionExistingItem is a previously downloaded/seeding/library item used
// for duplicate and upgrade comparisons.
type DecisionExistingItem struct {
	Title      string
	Quality    string
	Resolution string
	Effect     string
	SizeGB     float64
	Status     ExistingItemStatus
	Source     string
	Extra      map[string]any
}

// Preferred reports the free-form "preferred" flag on the item.
func (i DecisionExistingItem) Preferred() bool {
	if i.Extra == nil {
		return false
	}
	v, ok := i.Extra["preferred"].(bool)
	return ok && v
}

// DecisionContext carries everything around one candidate evaluation.
type DecisionContext struct {
	Subscription   DecisionSubscriptionInfo
	SubscriptionID *int64
	ExistingItems  []DecisionExistingItem
	// Raw HNR signals for the risk detector.
	HNRBadges  string
	HNRHTML    string
	HNRSiteKey string
	// DebugEnabled opts into the debug context map on the result.
	DebugEnabled bool
}

// DecisionResult is the verdict of one DecideDownload call. Not persisted by
// the core; the caller owns any storage.
type DecisionResult struct {
	ShouldDownload    bool
	Reason            DecisionReason
	Message           string
	Score             float64
	SelectedQuality   string
	NormalizedQuality string
	HNRVerdict        HRVerdict
	DebugContext      map[string]any
}
