package decision

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/hnr"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

var tracer = otel.Tracer("seedguard/decision")

// RuleEngine is the pluggable subscription rule matcher. When nil, the
// built-in field matcher is used.
type RuleEngine interface {
	MatchResult(candidate, subscription map[string]any) bool
}

// RiskDetector yields the hit-and-run verdict for one candidate.
type RiskDetector interface {
	Detect(ctx context.Context, in hnr.Input) hnr.Result
}

// SafetyEvaluator admits or blocks the eventual download action.
type SafetyEvaluator interface {
	Evaluate(ctx context.Context, sc types.SafetyContext) (types.SafetyDecision, error)
}

// Config tunes the pipeline.
type Config struct {
	// AllowSuspectedHR lets SUSPECTED verdicts through instead of denying
	// them. BLOCKED verdicts always deny.
	AllowSuspectedHR bool
}

// Service runs the download admission pipeline: rule match, duplicate
// check, quality comparison, hit-and-run detection, safety policy. Stages
// run in that order and the first failing stage decides.
type Service struct {
	rules    RuleEngine
	detector RiskDetector
	safety   SafetyEvaluator
	cfg      Config
	log      *logger.Logger
}

func NewService(rules RuleEngine, detector RiskDetector, safety SafetyEvaluator, cfg Config, baseLog *logger.Logger) *Service {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Service{
		rules:    rules,
		detector: detector,
		safety:   safety,
		cfg:      cfg,
		log:      baseLog.With("service", "DecisionService"),
	}
}

// DecideDownload evaluates one candidate. It is total: every input yields a
// result, and an internal panic is reported as an ERROR result rather than
// propagated.
func (s *Service) DecideDownload(ctx context.Context, cand types.DecisionCandidate, dc types.DecisionContext) (result types.DecisionResult) {
	ctx, span := tracer.Start(ctx, "decision.DecideDownload")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("decision pipeline panicked",
				"title", cand.Title, "site", cand.SiteKey, "panic", r)
			result = types.DecisionResult{
				ShouldDownload: false,
				Reason:         types.ReasonError,
				Message:        "决策过程异常",
			}
		}
		span.SetAttributes(
			attribute.Bool("should_download", result.ShouldDownload),
			attribute.String("reason", string(result.Reason)),
		)
	}()

	debug := newDebug(dc.DebugEnabled)
	normalized := NormalizeQuality(cand.Quality)

	// Stage 1: subscription rule match.
	if !s.matchRules(cand, dc.Subscription) {
		debug.set("rule_match", false)
		return s.finish(types.DecisionResult{
			Reason:            types.ReasonRuleMismatch,
			Message:           "不符合订阅规则",
			SelectedQuality:   cand.Quality,
			NormalizedQuality: normalized,
		}, debug)
	}
	debug.set("rule_match", true)

	// Stage 2: duplicate check against in-flight items.
	if dup := findActiveDuplicate(cand, dc.ExistingItems); dup != nil {
		debug.set("duplicate_of", dup.Title)
		return s.finish(types.DecisionResult{
			Reason:            types.ReasonDuplicateActive,
			Message:           "已存在相同版本且正在下载或做种",
			SelectedQuality:   cand.Quality,
			NormalizedQuality: normalized,
		}, debug)
	}

	// Stage 3: quality scoring and upgrade comparison.
	score, upgrade, inferior := s.scoreQuality(cand, dc)
	debug.set("score", score)
	if inferior {
		return s.finish(types.DecisionResult{
			Reason:            types.ReasonQualityInferior,
			Message:           "质量不优于现有版本",
			Score:             score,
			SelectedQuality:   cand.Quality,
			NormalizedQuality: normalized,
		}, debug)
	}

	// Stage 4: hit-and-run risk.
	verdict := types.HRVerdictSafe
	if s.detector != nil {
		res := s.detector.Detect(ctx, hnr.Input{
			Title:      cand.Title,
			Subtitle:   cand.Subtitle,
			BadgesText: dc.HNRBadges,
			ListHTML:   dc.HNRHTML,
			SiteKey:    firstNonEmpty(dc.HNRSiteKey, cand.SiteKey),
		})
		verdict = res.Verdict
		debug.set("hnr_confidence", res.Confidence)
		debug.set("hnr_rules", res.MatchedRules)
		switch {
		case verdict == types.HRVerdictBlocked:
			return s.finish(types.DecisionResult{
				Reason:            types.ReasonHNRBlocked,
				Message:           res.Message,
				Score:             score,
				SelectedQuality:   cand.Quality,
				NormalizedQuality: normalized,
				HNRVerdict:        verdict,
			}, debug)
		case verdict == types.HRVerdictSuspected && !s.cfg.AllowSuspectedHR:
			return s.finish(types.DecisionResult{
				Reason:            types.ReasonHNRSuspected,
				Message:           res.Message,
				Score:             score,
				SelectedQuality:   cand.Quality,
				NormalizedQuality: normalized,
				HNRVerdict:        verdict,
			}, debug)
		}
	}

	// Stage 5: safety policy, fail-open on engine errors.
	if blocked, res := s.checkSafety(ctx, cand, dc, score, normalized, verdict, debug); blocked {
		return s.finish(res, debug)
	}

	reason := types.ReasonOKNew
	message := "可以下载"
	if upgrade {
		reason = types.ReasonOKUpgrade
		message = "优于现有版本"
	}
	return s.finish(types.DecisionResult{
		ShouldDownload:    true,
		Reason:            reason,
		Message:           message,
		Score:             score,
		SelectedQuality:   cand.Quality,
		NormalizedQuality: normalized,
		HNRVerdict:        verdict,
	}, debug)
}

func (s *Service) finish(res types.DecisionResult, debug *debugContext) types.DecisionResult {
	res.DebugContext = debug.snapshot()
	return res
}

// matchRules defers to the injected engine when present, otherwise applies
// the built-in subscription field matcher.
func (s *Service) matchRules(cand types.DecisionCandidate, sub types.DecisionSubscriptionInfo) bool {
	if s.rules != nil {
		return s.rules.MatchResult(cand.RulePayload(), sub.RulePayload())
	}
	title := strings.ToLower(cand.Title)
	if sub.Quality != "" && NormalizeQuality(cand.Quality) != NormalizeQuality(sub.Quality) &&
		!strings.Contains(strings.ToLower(cand.Quality), strings.ToLower(sub.Quality)) {
		return false
	}
	if sub.Resolution != "" && !strings.EqualFold(cand.Resolution, sub.Resolution) {
		return false
	}
	if sub.Effect != "" && !strings.Contains(strings.ToLower(cand.Effect), strings.ToLower(sub.Effect)) {
		return false
	}
	if sub.MinSeeders > 0 && cand.Seeders < sub.MinSeeders {
		return false
	}
	if sub.Include != "" && !strings.Contains(title, strings.ToLower(sub.Include)) {
		return false
	}
	if sub.Exclude != "" && strings.Contains(title, strings.ToLower(sub.Exclude)) {
		return false
	}
	if len(sub.FilterGroups) > 0 {
		ok := false
		for _, g := range sub.FilterGroups {
			if strings.EqualFold(cand.ReleaseGroup, g) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// findActiveDuplicate returns the first in-flight item with the same title.
// Sharing a quality or resolution tag is not enough: unrelated releases
// routinely carry identical tags.
func findActiveDuplicate(cand types.DecisionCandidate, items []types.DecisionExistingItem) *types.DecisionExistingItem {
	candT := strings.ToLower(strings.TrimSpace(cand.Title))
	if candT == "" {
		return nil
	}
	for i := range items {
		item := &items[i]
		if item.Status != types.ItemDownloading && item.Status != types.ItemSeeding {
			continue
		}
		if strings.ToLower(strings.TrimSpace(item.Title)) == candT {
			return item
		}
	}
	return nil
}

// scoreQuality computes the candidate score and, when existing items are
// held, compares the candidate against the best of them. Returns the final
// score, whether the candidate upgrades the library, and whether it must be
// denied as inferior.
func (s *Service) scoreQuality(cand types.DecisionCandidate, dc types.DecisionContext) (float64, bool, bool) {
	score := 0.5
	if dc.Subscription.Quality != "" &&
		strings.Contains(strings.ToLower(cand.Quality), strings.ToLower(dc.Subscription.Quality)) {
		score += 0.3
	}
	if dc.Subscription.Resolution != "" && strings.EqualFold(cand.Resolution, dc.Subscription.Resolution) {
		score += 0.2
	}

	if len(dc.ExistingItems) == 0 {
		return clamp(score), false, false
	}

	// Comparison scores key on the tags each side actually carries, not on
	// subscription preferences.
	candCmp := 0.0
	if cand.Quality != "" {
		candCmp += 0.4
	}
	if cand.Resolution != "" {
		candCmp += 0.2
	}
	if cand.Seeders >= 10 {
		candCmp += 0.1
	}
	if cand.SizeGB > 0 {
		candCmp += 0.1
	}

	// Stable max: the first item keeps the crown on ties, so reordering
	// equal items never flips the verdict.
	best := existingScore(dc.ExistingItems[0])
	for _, item := range dc.ExistingItems[1:] {
		if v := existingScore(item); v > best {
			best = v
		}
	}

	if candCmp > best {
		return clamp(score + 0.2), true, false
	}
	return clamp(score - 0.4), false, true
}

func existingScore(item types.DecisionExistingItem) float64 {
	v := 0.0
	if item.Quality != "" {
		v += 0.4
	}
	if item.Resolution != "" {
		v += 0.2
	}
	if item.Status == types.ItemCompleted {
		v += 0.2
	}
	if item.Preferred() {
		v += 0.2
	}
	return v
}

// checkSafety runs the policy engine for the eventual download action.
// Engine errors never block: the decision proceeds as if allowed.
func (s *Service) checkSafety(ctx context.Context, cand types.DecisionCandidate, dc types.DecisionContext, score float64, normalized string, verdict types.HRVerdict, debug *debugContext) (bool, types.DecisionResult) {
	if s.safety == nil || cand.SiteKey == "" || cand.TorrentID == "" {
		return false, types.DecisionResult{}
	}
	// Subscription-driven downloads are unattended; everything else is a
	// person clicking download.
	trigger := types.TriggerUserWeb
	if dc.SubscriptionID != nil {
		trigger = types.TriggerSystemRunner
	}
	sd, err := s.safety.Evaluate(ctx, types.SafetyContext{
		Action:         types.ActionDownload,
		SiteKey:        cand.SiteKey,
		TorrentID:      cand.TorrentID,
		Trigger:        trigger,
		SubscriptionID: dc.SubscriptionID,
		CurrentRatio:   -1,
	})
	if err != nil {
		s.log.Warn("safety check failed, continuing without it",
			"title", cand.Title, "site", cand.SiteKey, "err", err)
		debug.set("safety", "fault")
		return false, types.DecisionResult{}
	}
	debug.set("safety", string(sd.Verdict))
	base := types.DecisionResult{
		Message:           sd.Message,
		Score:             score,
		SelectedQuality:   cand.Quality,
		NormalizedQuality: normalized,
		HNRVerdict:        verdict,
	}
	switch sd.Verdict {
	case types.VerdictDeny:
		base.Reason = types.ReasonSafetyBlocked
		return true, base
	case types.VerdictRequireConfirm:
		base.Reason = types.ReasonSafetyRequireConfirm
		return true, base
	}
	return false, types.DecisionResult{}
}

// NormalizeQuality folds the free-form quality string into the canonical
// set used for comparisons. Idempotent.
func NormalizeQuality(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	lower := strings.ToLower(q)
	switch {
	case strings.Contains(lower, "2160") || strings.Contains(lower, "4k"):
		return "2160P"
	case strings.Contains(lower, "1080"):
		return "1080P"
	case strings.Contains(lower, "720"):
		return "720P"
	default:
		return strings.ToUpper(q)
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// debugContext collects per-stage observations when the caller opts in.
type debugContext struct {
	m map[string]any
}

func newDebug(enabled bool) *debugContext {
	if !enabled {
		return &debugContext{}
	}
	return &debugContext{m: map[string]any{}}
}

func (d *debugContext) set(k string, v any) {
	if d.m != nil {
		d.m[k] = v
	}
}

func (d *debugContext) snapshot() map[string]any { return d.m }
