package hnrlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// Record captures one detector run for the audit trail.
type Record struct {
	Title        string
	SiteKey      string
	Verdict      types.HRVerdict
	Confidence   float64
	MatchedRules []string
	Category     string
	Message      string
}

// Repo stores detection audit rows.
type Repo interface {
	Create(dbc dbctx.Context, rec Record) (*types.HRDetection, error)
	Recent(dbc dbctx.Context, limit int, verdict types.HRVerdict) ([]*types.HRDetection, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &repo{
		db:  db,
		log: baseLog.With("repo", "HNRLogRepo"),
	}
}

func (r *repo) conn(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repo) Create(dbc dbctx.Context, rec Record) (*types.HRDetection, error) {
	rules, err := json.Marshal(rec.MatchedRules)
	if err != nil {
		return nil, err
	}
	detection := &types.HRDetection{
		ID:           uuid.New(),
		Title:        rec.Title,
		SiteKey:      rec.SiteKey,
		Verdict:      rec.Verdict,
		Confidence:   rec.Confidence,
		MatchedRules: datatypes.JSON(rules),
		Category:     rec.Category,
		Message:      rec.Message,
		DetectedAt:   time.Now().UTC(),
	}
	if err := r.conn(dbc).Create(detection).Error; err != nil {
		return nil, err
	}
	return detection, nil
}

// Recent returns the newest detections, optionally filtered by verdict.
func (r *repo) Recent(dbc dbctx.Context, limit int, verdict types.HRVerdict) ([]*types.HRDetection, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.conn(dbc).Order("detected_at DESC").Limit(limit)
	if verdict != "" {
		q = q.Where("verdict = ?", verdict)
	}
	var out []*types.HRDetection
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
