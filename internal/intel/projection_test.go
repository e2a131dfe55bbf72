package intel_test

import (
	"context"
	"testing"
	"time"

	"github.com/seedguard/seedguard/internal/data/repos/hrcase"
	"github.com/seedguard/seedguard/internal/data/repos/siteguard"
	"github.com/seedguard/seedguard/internal/data/repos/testutil"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/intel"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
)

func TestHRStatusProjection(t *testing.T) {
	now := time.Now().UTC()
	soon := now.Add(6 * time.Hour)
	medium := now.Add(48 * time.Hour)
	far := now.Add(96 * time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		c    *types.HRCase
		want types.IntelHRStatus
	}{
		{"no case", nil, types.IntelHRSafe},
		{"none", &types.HRCase{Status: types.HRNone}, types.IntelHRSafe},
		{"finished", &types.HRCase{Status: types.HRFinished}, types.IntelHRSafe},
		{"failed", &types.HRCase{Status: types.HRFailed}, types.IntelHRSafe},
		{"active far deadline", &types.HRCase{Status: types.HRActive, Deadline: &far}, types.IntelHRActive},
		{"active medium risk", &types.HRCase{Status: types.HRActive, Deadline: &medium}, types.IntelHRActive},
		{"active no deadline", &types.HRCase{Status: types.HRActive}, types.IntelHRActive},
		{"active near deadline", &types.HRCase{Status: types.HRActive, Deadline: &soon}, types.IntelHRRisk},
		{"active past deadline", &types.HRCase{Status: types.HRActive, Deadline: &past}, types.IntelHRRisk},
		{"unknown near deadline", &types.HRCase{Status: types.HRUnknown, Deadline: &soon}, types.IntelHRRisk},
	}
	for _, c := range cases {
		if got := intel.HRStatusFor(c.c, now); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestHRStatusLookupProjection(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cases := hrcase.NewRepo(db, log)
	p := intel.NewProjector(cases, siteguard.NewRepo(db, log), log)

	ctx := context.Background()
	now := time.Now().UTC()
	plain := dbctx.Context{Ctx: ctx}

	if got := p.HRStatusFor(ctx, "intel-hr", "missing", now); got != types.IntelHRSafe {
		t.Fatalf("missing case: got %s, want SAFE", got)
	}

	deadline := now.Add(6 * time.Hour)
	if _, err := cases.UpsertFromSeedPage(plain, "intel-hr", "t-1", 48, 2, &deadline); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := p.HRStatusFor(ctx, "intel-hr", "t-1", now); got != types.IntelHRRisk {
		t.Fatalf("near-deadline case: got %s, want RISK", got)
	}
}

func TestSiteStatusProjection(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	guard := siteguard.NewRepo(db, log)
	p := intel.NewProjector(hrcase.NewRepo(db, log), guard, log)

	ctx := context.Background()
	now := time.Now().UTC()

	// The projector reads through the repo without a transaction, so the
	// fixtures are written untransacted under unique site keys.
	plain := dbctx.Context{Ctx: ctx}

	status, err := p.SiteStatusFor(ctx, "intel-quiet", now)
	if err != nil {
		t.Fatalf("quiet site: %v", err)
	}
	if status != types.IntelSiteOK {
		t.Fatalf("quiet site: got %s, want OK", status)
	}

	until := now.Add(4 * time.Hour)
	if _, err := guard.RecordEvent(plain, siteguard.Observation{
		SiteKey: "intel-blocked", BlockUntil: &until,
	}); err != nil {
		t.Fatalf("record block: %v", err)
	}
	status, err = p.SiteStatusFor(ctx, "intel-blocked", now)
	if err != nil {
		t.Fatalf("blocked site: %v", err)
	}
	if status != types.IntelSiteThrottled {
		t.Fatalf("blocked site: got %s, want THROTTLED", status)
	}

	for i := 0; i < 4; i++ {
		if _, err := guard.RecordEvent(plain, siteguard.Observation{
			SiteKey: "intel-flaky", EventType: types.GuardEventError, Cause: "timeout",
		}); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}
	status, err = p.SiteStatusFor(ctx, "intel-flaky", now)
	if err != nil {
		t.Fatalf("flaky site: %v", err)
	}
	if status != types.IntelSiteError {
		t.Fatalf("flaky site: got %s, want ERROR", status)
	}

	// Three events inside the window is still within tolerance.
	for i := 0; i < 3; i++ {
		if _, err := guard.RecordEvent(plain, siteguard.Observation{
			SiteKey: "intel-ok", EventType: types.GuardEventError,
		}); err != nil {
			t.Fatalf("record tolerated: %v", err)
		}
	}
	status, err = p.SiteStatusFor(ctx, "intel-ok", now)
	if err != nil {
		t.Fatalf("tolerated site: %v", err)
	}
	if status != types.IntelSiteOK {
		t.Fatalf("tolerated site: got %s, want OK", status)
	}
}
