package decision_test

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/seedguard/seedguard/internal/decision"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/hnr"
)

type stubRules struct{ ok bool }

func (s stubRules) MatchResult(_, _ map[string]any) bool { return s.ok }

type stubDetector struct{ res hnr.Result }

func (s stubDetector) Detect(_ context.Context, _ hnr.Input) hnr.Result { return s.res }

type stubSafety struct {
	d   types.SafetyDecision
	err error
}

func (s stubSafety) Evaluate(_ context.Context, _ types.SafetyContext) (types.SafetyDecision, error) {
	return s.d, s.err
}

func safeDetector() stubDetector {
	return stubDetector{res: hnr.Result{Verdict: types.HRVerdictSafe}}
}

func allowSafety() stubSafety {
	return stubSafety{d: types.SafetyDecision{
		Verdict: types.VerdictAllow, ReasonCode: types.SafetyReasonSafe,
	}}
}

func candidate() types.DecisionCandidate {
	return types.DecisionCandidate{
		Title:      "Some.Movie.2024.1080p.BluRay.x264-GRP",
		Quality:    "1080p BluRay",
		Resolution: "1080p",
		Seeders:    15,
		SizeGB:     12.4,
		SiteKey:    "mteam",
		TorrentID:  "t-1",
	}
}

func subscription() types.DecisionSubscriptionInfo {
	return types.DecisionSubscriptionInfo{Quality: "BluRay", Resolution: "1080p"}
}

func newService(rules decision.RuleEngine, det decision.RiskDetector, saf decision.SafetyEvaluator, cfg decision.Config) *decision.Service {
	return decision.NewService(rules, det, saf, cfg, nil)
}

func TestDecideRuleMismatch(t *testing.T) {
	svc := newService(stubRules{ok: false}, safeDetector(), allowSafety(), decision.Config{})

	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{
		Subscription: subscription(),
	})
	if res.ShouldDownload || res.Reason != types.ReasonRuleMismatch {
		t.Fatalf("got %v/%s, want deny/RULE_MISMATCH", res.ShouldDownload, res.Reason)
	}
}

func TestBuiltinMatcher(t *testing.T) {
	svc := newService(nil, safeDetector(), allowSafety(), decision.Config{})
	ctx := context.Background()

	cand := candidate()
	cand.Seeders = 2
	res := svc.DecideDownload(ctx, cand, types.DecisionContext{
		Subscription: types.DecisionSubscriptionInfo{MinSeeders: 5},
	})
	if res.Reason != types.ReasonRuleMismatch {
		t.Fatalf("min seeders: got %s, want RULE_MISMATCH", res.Reason)
	}

	res = svc.DecideDownload(ctx, candidate(), types.DecisionContext{
		Subscription: types.DecisionSubscriptionInfo{Exclude: "some.movie"},
	})
	if res.Reason != types.ReasonRuleMismatch {
		t.Fatalf("exclude: got %s, want RULE_MISMATCH", res.Reason)
	}

	res = svc.DecideDownload(ctx, candidate(), types.DecisionContext{
		Subscription: subscription(),
	})
	if !res.ShouldDownload {
		t.Fatalf("matching candidate rejected: %s %s", res.Reason, res.Message)
	}
}

func TestDecideDuplicateActive(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{
		Subscription: subscription(),
		ExistingItems: []types.DecisionExistingItem{
			{Title: candidate().Title, Quality: "1080p WEB-DL", Resolution: "1080p", Status: types.ItemDownloading},
		},
	})
	if res.ShouldDownload || res.Reason != types.ReasonDuplicateActive {
		t.Fatalf("got %v/%s, want deny/DUPLICATE_ACTIVE", res.ShouldDownload, res.Reason)
	}
}

func TestDecideDuplicateMatchesTitleOnly(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	// An unrelated release that happens to share the candidate's tags is not
	// a duplicate.
	cand := types.DecisionCandidate{
		Title: "Movie.A.2024.1080p", Quality: "1080p", Resolution: "1080p",
		Seeders: 50, SizeGB: 8,
	}
	res := svc.DecideDownload(context.Background(), cand, types.DecisionContext{
		ExistingItems: []types.DecisionExistingItem{
			{Title: "Totally.Different.Show.S01", Quality: "1080p", Resolution: "1080p", Status: types.ItemSeeding},
		},
	})
	if res.Reason == types.ReasonDuplicateActive {
		t.Fatalf("unrelated title flagged as duplicate: %s", res.Message)
	}
	if !res.ShouldDownload {
		t.Fatalf("got deny/%s, want allow", res.Reason)
	}
}

func TestDecideQualityInferior(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	// The held copy scores 1.0 (quality + resolution + completed +
	// preferred); the candidate peaks at 0.7 and must be denied.
	cand := candidate()
	cand.SizeGB = 0
	res := svc.DecideDownload(context.Background(), cand, types.DecisionContext{
		Subscription: subscription(),
		ExistingItems: []types.DecisionExistingItem{
			{
				Quality:    "BluRay",
				Resolution: "1080p",
				Status:     types.ItemCompleted,
				Extra:      map[string]any{"preferred": true},
			},
		},
	})
	if res.ShouldDownload || res.Reason != types.ReasonQualityInferior {
		t.Fatalf("got %v/%s, want deny/QUALITY_INFERIOR", res.ShouldDownload, res.Reason)
	}
	if math.Abs(res.Score-0.6) > 1e-9 {
		t.Fatalf("score %.2f, want 0.6 (1.0 with the inferior penalty applied)", res.Score)
	}
}

func TestDecideQualityComparisonIgnoresSubscriptionPreference(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	// With no subscription preference at all, a fully-tagged preferred copy
	// (1.0) still beats a well-seeded candidate (0.7).
	cand := types.DecisionCandidate{
		Title: "Movie.B.2024.1080p", Quality: "1080p", Resolution: "1080p", Seeders: 50,
	}
	res := svc.DecideDownload(context.Background(), cand, types.DecisionContext{
		ExistingItems: []types.DecisionExistingItem{
			{
				Title:      "Movie.B.2023.1080p",
				Quality:    "1080p",
				Resolution: "1080p",
				Status:     types.ItemCompleted,
				Extra:      map[string]any{"preferred": true},
			},
		},
	})
	if res.ShouldDownload || res.Reason != types.ReasonQualityInferior {
		t.Fatalf("got %v/%s, want deny/QUALITY_INFERIOR", res.ShouldDownload, res.Reason)
	}
	if math.Abs(res.Score-0.1) > 1e-9 {
		t.Fatalf("score %.2f, want 0.1 (bare 0.5 base with the inferior penalty)", res.Score)
	}
}

func TestDecideUpgrade(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	// An untagged library import scores 0.4 (resolution + completed only);
	// the fully-tagged, well-seeded candidate scores 0.8 and wins.
	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{
		Subscription: subscription(),
		ExistingItems: []types.DecisionExistingItem{
			{Resolution: "720p", Status: types.ItemCompleted},
		},
	})
	if !res.ShouldDownload || res.Reason != types.ReasonOKUpgrade {
		t.Fatalf("got %v/%s, want allow/OK_UPGRADE", res.ShouldDownload, res.Reason)
	}
	if res.Score != 1.0 {
		t.Fatalf("upgrade score %.2f, want clamped 1.0", res.Score)
	}
}

func TestDecideOKNewFullScore(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})

	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{
		Subscription: subscription(),
	})
	if !res.ShouldDownload || res.Reason != types.ReasonOKNew {
		t.Fatalf("got %v/%s, want allow/OK_NEW", res.ShouldDownload, res.Reason)
	}
	if res.Score != 1.0 {
		t.Fatalf("score %.2f, want 1.0", res.Score)
	}
	if res.NormalizedQuality != "1080P" {
		t.Fatalf("normalized quality %q, want 1080P", res.NormalizedQuality)
	}
}

func TestDecideHNRVerdicts(t *testing.T) {
	blocked := stubDetector{res: hnr.Result{
		Verdict: types.HRVerdictBlocked, Confidence: 0.9, Message: "检测到H&R考核要求",
	}}
	svc := newService(stubRules{ok: true}, blocked, allowSafety(), decision.Config{})
	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if res.ShouldDownload || res.Reason != types.ReasonHNRBlocked {
		t.Fatalf("blocked: got %v/%s", res.ShouldDownload, res.Reason)
	}
	if res.HNRVerdict != types.HRVerdictBlocked {
		t.Fatalf("verdict not propagated: %s", res.HNRVerdict)
	}

	suspected := stubDetector{res: hnr.Result{
		Verdict: types.HRVerdictSuspected, Confidence: 0.4, Message: "疑似H&R种子",
	}}
	svc = newService(stubRules{ok: true}, suspected, allowSafety(), decision.Config{})
	res = svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if res.ShouldDownload || res.Reason != types.ReasonHNRSuspected {
		t.Fatalf("suspected: got %v/%s", res.ShouldDownload, res.Reason)
	}

	svc = newService(stubRules{ok: true}, suspected, allowSafety(), decision.Config{AllowSuspectedHR: true})
	res = svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if !res.ShouldDownload {
		t.Fatalf("suspected with override: got %s, want allow", res.Reason)
	}
	if res.HNRVerdict != types.HRVerdictSuspected {
		t.Fatalf("override must keep the verdict visible, got %s", res.HNRVerdict)
	}
}

func TestDecideSafetyOutcomes(t *testing.T) {
	denied := stubSafety{d: types.SafetyDecision{
		Verdict: types.VerdictDeny, ReasonCode: types.SafetyReasonHRActiveDownload, Message: "考核未完成",
	}}
	svc := newService(stubRules{ok: true}, safeDetector(), denied, decision.Config{})
	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if res.ShouldDownload || res.Reason != types.ReasonSafetyBlocked {
		t.Fatalf("deny: got %v/%s", res.ShouldDownload, res.Reason)
	}
	if res.Message != "考核未完成" {
		t.Fatalf("safety message lost: %q", res.Message)
	}

	confirm := stubSafety{d: types.SafetyDecision{
		Verdict: types.VerdictRequireConfirm, ReasonCode: types.SafetyReasonSubscriptionNoHR,
	}}
	svc = newService(stubRules{ok: true}, safeDetector(), confirm, decision.Config{})
	res = svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if res.ShouldDownload || res.Reason != types.ReasonSafetyRequireConfirm {
		t.Fatalf("confirm: got %v/%s", res.ShouldDownload, res.Reason)
	}
}

func TestDecideSafetyFailsOpen(t *testing.T) {
	broken := stubSafety{err: errors.New("policy store down")}
	svc := newService(stubRules{ok: true}, safeDetector(), broken, decision.Config{})

	res := svc.DecideDownload(context.Background(), candidate(), types.DecisionContext{Subscription: subscription()})
	if !res.ShouldDownload || res.Reason != types.ReasonOKNew {
		t.Fatalf("fail-open: got %v/%s, want allow/OK_NEW", res.ShouldDownload, res.Reason)
	}
}

func TestDecideDeterministic(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})
	dc := types.DecisionContext{
		Subscription: subscription(),
		ExistingItems: []types.DecisionExistingItem{
			{Quality: "WEB-DL", Resolution: "720p", Status: types.ItemCompleted},
		},
	}

	first := svc.DecideDownload(context.Background(), candidate(), dc)
	for i := 0; i < 5; i++ {
		if got := svc.DecideDownload(context.Background(), candidate(), dc); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestDebugContextOptIn(t *testing.T) {
	svc := newService(stubRules{ok: true}, safeDetector(), allowSafety(), decision.Config{})
	ctx := context.Background()

	res := svc.DecideDownload(ctx, candidate(), types.DecisionContext{Subscription: subscription()})
	if res.DebugContext != nil {
		t.Fatalf("debug context leaked without opt-in: %v", res.DebugContext)
	}

	res = svc.DecideDownload(ctx, candidate(), types.DecisionContext{
		Subscription: subscription(), DebugEnabled: true,
	})
	if res.DebugContext == nil {
		t.Fatal("debug context missing with opt-in")
	}
	if _, ok := res.DebugContext["rule_match"]; !ok {
		t.Fatalf("rule_match stage not recorded: %v", res.DebugContext)
	}
}

func TestNormalizeQuality(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"1080p", "1080P"},
		{"Blu-ray 1080P Remux", "1080P"},
		{"2160p HDR", "2160P"},
		{"4K", "2160P"},
		{"720p WEB-DL", "720P"},
		{"web-dl", "WEB-DL"},
	}
	for _, c := range cases {
		got := decision.NormalizeQuality(c.in)
		if got != c.want {
			t.Errorf("NormalizeQuality(%q) = %q, want %q", c.in, got, c.want)
		}
		if again := decision.NormalizeQuality(got); again != got {
			t.Errorf("not idempotent on %q: %q -> %q", c.in, got, again)
		}
	}
}
