package intel

import (
	"context"
	"time"

	"github.com/seedguard/seedguard/internal/data/repos/hrcase"
	"github.com/seedguard/seedguard/internal/data/repos/siteguard"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// errorEventThreshold is the number of guard events within 24h after which
// a site is projected as ERROR.
const errorEventThreshold = 3

// Projector folds raw obligation and guard records into the coarse badges
// the search results and dashboard show. Pure projections; nothing here
// writes.
type Projector struct {
	cases hrcase.Repo
	guard siteguard.Repo
	log   *logger.Logger
}

func NewProjector(cases hrcase.Repo, guard siteguard.Repo, baseLog *logger.Logger) *Projector {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Projector{
		cases: cases,
		guard: guard,
		log:   baseLog.With("service", "IntelProjector"),
	}
}

// HRStatusFor projects one case to the three-state dashboard badge.
// Terminal obligations and missing cases are SAFE; an active or unknown
// obligation with a high derived risk level is RISK, otherwise ACTIVE.
func HRStatusFor(c *types.HRCase, now time.Time) types.IntelHRStatus {
	if c == nil || c.Status.Terminal() {
		return types.IntelHRSafe
	}
	if c.RiskLevel(now) == types.RiskHigh {
		return types.IntelHRRisk
	}
	return types.IntelHRActive
}

// HRStatusFor looks up the case for one (site, torrent) pair and projects
// it. A store failure degrades to SAFE so search rendering never breaks on
// a missing table.
func (p *Projector) HRStatusFor(ctx context.Context, siteKey, torrentID string, now time.Time) types.IntelHRStatus {
	c, err := p.cases.Get(dbctx.Context{Ctx: ctx}, siteKey, torrentID)
	if err != nil {
		p.log.Warn("hr case lookup failed, projecting SAFE",
			"site", siteKey, "torrent", torrentID, "err", err)
		return types.IntelHRSafe
	}
	return HRStatusFor(c, now)
}

// SiteStatusFor projects the guard log for one site: a standing block wins,
// then a burst of recent events, then OK.
func (p *Projector) SiteStatusFor(ctx context.Context, siteKey string, now time.Time) (types.IntelSiteStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}

	throttled, err := p.guard.IsThrottled(dbc, siteKey, now)
	if err != nil {
		return "", err
	}
	if throttled {
		return types.IntelSiteThrottled, nil
	}

	count, err := p.guard.CountSince(dbc, siteKey, now.Add(-24*time.Hour))
	if err != nil {
		return "", err
	}
	if count > errorEventThreshold {
		return types.IntelSiteError, nil
	}
	return types.IntelSiteOK, nil
}
