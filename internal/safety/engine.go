package safety

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/seedguard/seedguard/internal/data/cache"
	"github.com/seedguard/seedguard/internal/data/repos/hrcase"
	"github.com/seedguard/seedguard/internal/data/repos/siteguard"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// ErrEngineFault wraps any internal failure of the engine. Callers fold it
// to an ALLOW so a broken policy engine never blocks user actions.
var ErrEngineFault = errors.New("safety engine fault")

var tracer = otel.Tracer("seedguard/safety")

// Engine evaluates whether a library action is safe against active
// hit-and-run obligations and site guard state. Stateless between calls;
// safe for concurrent use.
type Engine struct {
	settings *Settings
	cases    hrcase.Repo
	guard    siteguard.Repo
	caseCh   cache.CaseCache
	log      *logger.Logger

	evaluated atomic.Int64
	denied    atomic.Int64
	confirmed atomic.Int64
}

func NewEngine(settings *Settings, cases hrcase.Repo, guard siteguard.Repo, caseCh cache.CaseCache, baseLog *logger.Logger) *Engine {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Engine{
		settings: settings,
		cases:    cases,
		guard:    guard,
		caseCh:   caseCh,
		log:      baseLog.With("service", "SafetyEngine"),
	}
}

// Evaluate runs the policy for one action. It never blocks on missing data:
// unknown actions, missing targets and store failures all resolve toward
// ALLOW. A panic anywhere inside is recovered into ErrEngineFault.
func (e *Engine) Evaluate(ctx context.Context, sc types.SafetyContext) (decision types.SafetyDecision, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "safety.Evaluate")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEngineFault, r)
			decision = types.SafetyDecision{}
		}
		decision.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000.0
		e.record(sc, decision, err)
		span.SetAttributes(
			attribute.String("action", string(sc.Action)),
			attribute.String("verdict", string(decision.Verdict)),
		)
	}()

	global := e.settings.Global()
	if !global.Enabled {
		return allow(types.SafetyReasonSettingsDisabled, "安全策略已关闭"), nil
	}
	if !sc.Action.Known() {
		return allow(types.SafetyReasonUnknownAction, fmt.Sprintf("未知操作 %q, 默认放行", string(sc.Action))), nil
	}
	if sc.SiteKey == "" || sc.TorrentID == "" {
		return allow(types.SafetyReasonMissingTarget, "缺少站点或种子标识, 默认放行"), nil
	}

	c := e.resolveCase(ctx, sc)
	site := e.settings.Site(sc.SiteKey)

	switch sc.Action {
	case types.ActionDownload:
		decision = e.evaluateDownload(global, site, sc, c)
	case types.ActionDelete:
		decision = e.evaluateDelete(global, site, sc, c)
	case types.ActionMove:
		decision = e.evaluateMove(global, sc, c)
	case types.ActionUploadCleanup:
		decision = e.evaluateCleanup(global, site, c)
	case types.ActionGenerateSTRM:
		decision = allow(types.SafetyReasonSafe, "生成STRM不影响做种")
		decision.HRSnapshot = c.Snapshot()
	}

	decision = e.applySiteGuard(ctx, sc, global, decision)
	return decision, nil
}

// EvaluateOrAllow is the fail-open fold: engine errors become an ALLOW with
// reason ENGINE_FAULT so callers have a single total entry point.
func (e *Engine) EvaluateOrAllow(ctx context.Context, sc types.SafetyContext) types.SafetyDecision {
	decision, err := e.Evaluate(ctx, sc)
	if err != nil {
		e.log.Error("safety evaluation failed, admitting action",
			"action", sc.Action, "site", sc.SiteKey, "torrent", sc.TorrentID, "err", err)
		d := allow(types.SafetyReasonEngineFault, "安全检查异常, 默认放行")
		d.ProcessingTimeMS = decision.ProcessingTimeMS
		return d
	}
	return decision
}

// BatchEvaluate runs the contexts concurrently and returns decisions in
// input order. Individual faults are folded to ALLOW, never propagated.
func (e *Engine) BatchEvaluate(ctx context.Context, scs []types.SafetyContext) []types.SafetyDecision {
	out := make([]types.SafetyDecision, len(scs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, sc := range scs {
		g.Go(func() error {
			out[i] = e.EvaluateOrAllow(gctx, sc)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Stats reports evaluation counters since process start.
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"evaluated":       e.evaluated.Load(),
		"denied":          e.denied.Load(),
		"require_confirm": e.confirmed.Load(),
	}
}

// resolveCase finds the HR case: caller-provided, then warm cache, then the
// store. A store failure is treated as no case.
func (e *Engine) resolveCase(ctx context.Context, sc types.SafetyContext) *types.HRCase {
	if sc.HRCase != nil {
		return sc.HRCase
	}
	if e.caseCh != nil {
		if c, ok := e.caseCh.Get(ctx, sc.SiteKey, sc.TorrentID); ok {
			return c
		}
	}
	if e.cases == nil {
		return nil
	}
	c, err := e.cases.Get(dbctx.Context{Ctx: ctx}, sc.SiteKey, sc.TorrentID)
	if err != nil {
		e.log.Warn("hr case lookup failed, treating as no obligation",
			"site", sc.SiteKey, "torrent", sc.TorrentID, "err", err)
		return nil
	}
	if c != nil && e.caseCh != nil {
		e.caseCh.Set(ctx, c)
	}
	return c
}

func (e *Engine) evaluateDownload(global types.GlobalSafetySettings, site types.SiteSafetySettings, sc types.SafetyContext, c *types.HRCase) types.SafetyDecision {
	if hrActive(c) && global.EnableHRProtection && site.EnableHRDownloadBlock {
		d := deny(types.SafetyReasonHRActiveDownload,
			fmt.Sprintf("该种子存在未完成的H&R考核 (还需做种 %.1f 小时)", c.RemainingHours()))
		d.HRSnapshot = c.Snapshot()
		d.SuggestedAlternative = "等待考核完成或选择其他资源"
		return d
	}
	// The subscription opt-out covers every recorded case, terminal ones
	// included.
	if c != nil && sc.SubscriptionID != nil {
		sub := e.settings.Subscription(*sc.SubscriptionID)
		if !sub.AllowHR {
			d := confirm(types.SafetyReasonSubscriptionNoHR,
				"订阅设置不允许H&R种子, 需要用户确认", autoApprove(global))
			d.Confidence = 0.9
			d.HRSnapshot = c.Snapshot()
			return d
		}
	}
	if c != nil && c.Status != types.HRNone && site.HRSensitivity == types.SensitivityHighlySensitive {
		d := confirm(types.SafetyReasonSiteHighlySensitive,
			"站点为高敏感站点, 建议谨慎下载H&R种子", autoApprove(global))
		d.HRSnapshot = c.Snapshot()
		return d
	}
	if c != nil && c.Status.Terminal() {
		d := allow(types.SafetyReasonHRSafe, "考核已结束, 可以下载")
		d.HRSnapshot = c.Snapshot()
		return d
	}
	return allow(types.SafetyReasonSafe, "未发现下载风险")
}

func (e *Engine) evaluateDelete(global types.GlobalSafetySettings, site types.SiteSafetySettings, sc types.SafetyContext, c *types.HRCase) types.SafetyDecision {
	if hrActive(c) && global.EnableHRProtection && site.EnableHRDeleteBlock {
		d := deny(types.SafetyReasonHRActiveDelete,
			fmt.Sprintf("H&R考核未完成, 删除将触发违规 (还需做种 %.1f 小时)", c.RemainingHours()))
		d.HRSnapshot = c.Snapshot()
		d.SuggestedAlternative = "继续做种至考核完成后再删除"
		return d
	}

	minRatio := global.MinRatioForDelete
	if site.MinKeepRatio != nil {
		minRatio = *site.MinKeepRatio
	}
	if sc.CurrentRatio >= 0 && minRatio > 0 {
		switch {
		case sc.CurrentRatio < minRatio/2:
			return deny(types.SafetyReasonLowRatioBlocked,
				fmt.Sprintf("分享率过低 (%.2f < %.2f), 删除可能导致账号警告", sc.CurrentRatio, minRatio/2))
		case sc.CurrentRatio < minRatio:
			after := autoApprove(global)
			return confirm(types.SafetyReasonLowRatioWarning,
				fmt.Sprintf("分享率偏低 (%.2f < %.2f), 请确认后删除", sc.CurrentRatio, minRatio), after)
		}
	}

	minKeep := global.MinKeepHours
	if site.MinKeepTimeHours != nil {
		minKeep = *site.MinKeepTimeHours
	}
	if c != nil && minKeep > 0 && c.SeededHours < minKeep {
		after := autoApprove(global)
		d := confirm(types.SafetyReasonShortSeedTime,
			fmt.Sprintf("做种时长不足 (%.1f / %.1f 小时), 请确认后删除", c.SeededHours, minKeep), after)
		d.HRSnapshot = c.Snapshot()
		return d
	}
	return allow(types.SafetyReasonSafe, "删除安全")
}

func (e *Engine) evaluateMove(global types.GlobalSafetySettings, sc types.SafetyContext, c *types.HRCase) types.SafetyDecision {
	if hrActive(c) && global.EnableHRProtection {
		if !sc.ChangesSeedingPath {
			d := allow(types.SafetyReasonHRSafe, "移动不影响做种路径")
			d.HRSnapshot = c.Snapshot()
			return d
		}
		if global.PreferCopyOnMoveForHR {
			d := confirm(types.SafetyReasonHRMoveSuggestCopy,
				"H&R考核中, 移动会中断做种, 建议改用复制", nil)
			d.SuggestedAlternative = "使用复制代替移动, 保留原做种文件"
			d.HRSnapshot = c.Snapshot()
			return d
		}
		d := deny(types.SafetyReasonHRActiveMove, "H&R考核中, 移动会中断做种")
		d.HRSnapshot = c.Snapshot()
		return d
	}
	return allow(types.SafetyReasonSafe, "移动安全")
}

func (e *Engine) evaluateCleanup(global types.GlobalSafetySettings, site types.SiteSafetySettings, c *types.HRCase) types.SafetyDecision {
	if hrActive(c) && global.EnableHRProtection && site.EnableHRDeleteBlock {
		d := deny(types.SafetyReasonHRActiveCleanup,
			fmt.Sprintf("H&R考核未完成, 清理将中断做种 (还需做种 %.1f 小时)", c.RemainingHours()))
		d.HRSnapshot = c.Snapshot()
		d.SuggestedAlternative = "跳过该种子, 待考核完成后清理"
		return d
	}
	return allow(types.SafetyReasonSafe, "清理安全")
}

// applySiteGuard overlays throttle state on top of the rule verdict. Only
// automatic destructive actions are escalated; explicit user actions and
// existing denials pass through unchanged.
func (e *Engine) applySiteGuard(ctx context.Context, sc types.SafetyContext, global types.GlobalSafetySettings, decision types.SafetyDecision) types.SafetyDecision {
	if e.guard == nil || decision.Verdict != types.VerdictAllow {
		return decision
	}
	if sc.Trigger != types.TriggerSystemRunner || !sc.Action.Destructive() {
		return decision
	}
	throttled, err := e.guard.IsThrottled(dbctx.Context{Ctx: ctx}, sc.SiteKey, time.Now().UTC())
	if err != nil {
		e.log.Warn("site guard lookup failed, skipping overlay", "site", sc.SiteKey, "err", err)
		return decision
	}
	if !throttled {
		return decision
	}
	after := autoApprove(global)
	d := confirm(types.SafetyReasonSiteThrottled,
		"站点处于限流/封禁状态, 自动操作已暂停, 请人工确认", after)
	d.HRSnapshot = decision.HRSnapshot
	return d
}

func (e *Engine) record(sc types.SafetyContext, d types.SafetyDecision, err error) {
	e.evaluated.Add(1)
	switch d.Verdict {
	case types.VerdictDeny:
		e.denied.Add(1)
		e.log.Warn("action denied",
			"action", sc.Action, "site", sc.SiteKey, "torrent", sc.TorrentID,
			"reason", d.ReasonCode, "message", d.Message)
	case types.VerdictRequireConfirm:
		e.confirmed.Add(1)
	}
	if err != nil {
		e.log.Error("safety evaluation error",
			"action", sc.Action, "site", sc.SiteKey, "torrent", sc.TorrentID, "err", err)
	}
}

func hrActive(c *types.HRCase) bool {
	return c != nil && !c.Status.Terminal() && c.Status != types.HRUnknown
}

func allow(reason types.SafetyReason, msg string) types.SafetyDecision {
	return types.SafetyDecision{
		Verdict:    types.VerdictAllow,
		ReasonCode: reason,
		Message:    msg,
		Confidence: 1.0,
	}
}

func deny(reason types.SafetyReason, msg string) types.SafetyDecision {
	return types.SafetyDecision{
		Verdict:    types.VerdictDeny,
		ReasonCode: reason,
		Message:    msg,
		Confidence: 1.0,
	}
}

func confirm(reason types.SafetyReason, msg string, after *time.Time) types.SafetyDecision {
	return types.SafetyDecision{
		Verdict:            types.VerdictRequireConfirm,
		ReasonCode:         reason,
		Message:            msg,
		Confidence:         0.8,
		RequiresUserAction: true,
		AutoApproveAfter:   after,
	}
}

func autoApprove(global types.GlobalSafetySettings) *time.Time {
	if global.AutoApproveHours <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(time.Duration(global.AutoApproveHours * float64(time.Hour)))
	return &t
}
