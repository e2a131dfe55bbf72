package hnr

import (
	"context"

	"github.com/seedguard/seedguard/internal/data/repos/hnrlog"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// Service wraps the detector with the audit trail: every non-SAFE verdict
// is persisted so operators can review what got blocked and why.
type Service struct {
	detector *Detector
	logs     hnrlog.Repo
	log      *logger.Logger
}

func NewService(detector *Detector, logs hnrlog.Repo, baseLog *logger.Logger) *Service {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Service{
		detector: detector,
		logs:     logs,
		log:      baseLog.With("service", "HNRService"),
	}
}

// Detect runs the detector and records the outcome. Audit failures are
// logged, never surfaced: a broken audit table must not stop admission.
func (s *Service) Detect(ctx context.Context, in Input) Result {
	res := s.detector.Detect(ctx, in)
	if s.logs == nil || res.Verdict == types.HRVerdictSafe {
		return res
	}
	_, err := s.logs.Create(dbctx.Context{Ctx: ctx}, hnrlog.Record{
		Title:        in.Title,
		SiteKey:      in.SiteKey,
		Verdict:      res.Verdict,
		Confidence:   res.Confidence,
		MatchedRules: res.MatchedRules,
		Category:     res.Category,
		Message:      res.Message,
	})
	if err != nil {
		s.log.Warn("detection audit write failed",
			"site", in.SiteKey, "title", in.Title, "err", err)
	}
	return res
}

// RecentDetections lists the newest audit rows, optionally filtered by
// verdict.
func (s *Service) RecentDetections(ctx context.Context, limit int, verdict types.HRVerdict) ([]*types.HRDetection, error) {
	return s.logs.Recent(dbctx.Context{Ctx: ctx}, limit, verdict)
}
