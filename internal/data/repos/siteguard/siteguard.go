package siteguard

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// Observation is one throttle/error sighting reported by the scanner.
type Observation struct {
	SiteKey     string
	EventType   types.SiteGuardEventType
	BlockUntil  *time.Time
	ScanMinutes *int
	ScanPages   *int
	Cause       string
	At          *time.Time
}

// Repo is the append-only site guard event log.
type Repo interface {
	RecordEvent(dbc dbctx.Context, obs Observation) (*types.SiteGuardEvent, error)
	Latest(dbc dbctx.Context, siteKey string) (*types.SiteGuardEvent, error)
	CountSince(dbc dbctx.Context, siteKey string, since time.Time) (int64, error)
	IsThrottled(dbc dbctx.Context, siteKey string, now time.Time) (bool, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &repo{
		db:  db,
		log: baseLog.With("repo", "SiteGuardRepo"),
	}
}

func (r *repo) conn(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repo) RecordEvent(dbc dbctx.Context, obs Observation) (*types.SiteGuardEvent, error) {
	createdAt := time.Now().UTC()
	if obs.At != nil {
		createdAt = obs.At.UTC()
	}
	eventType := obs.EventType
	if eventType == "" {
		eventType = types.GuardEventBlock
	}
	event := &types.SiteGuardEvent{
		ID:                     uuid.New(),
		SiteKey:                obs.SiteKey,
		EventType:              eventType,
		CreatedAt:              createdAt,
		BlockUntil:             obs.BlockUntil,
		ScanMinutesBeforeBlock: obs.ScanMinutes,
		ScanPagesBeforeBlock:   obs.ScanPages,
		Cause:                  obs.Cause,
	}
	if err := r.conn(dbc).Create(event).Error; err != nil {
		return nil, err
	}
	r.log.Warn("site guard event recorded",
		"site", obs.SiteKey, "type", eventType, "cause", obs.Cause)
	return event, nil
}

func (r *repo) Latest(dbc dbctx.Context, siteKey string) (*types.SiteGuardEvent, error) {
	var events []*types.SiteGuardEvent
	err := r.conn(dbc).
		Where("site_key = ?", siteKey).
		Order("created_at DESC").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

func (r *repo) CountSince(dbc dbctx.Context, siteKey string, since time.Time) (int64, error) {
	var count int64
	err := r.conn(dbc).
		Model(&types.SiteGuardEvent{}).
		Where("site_key = ? AND created_at >= ?", siteKey, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) IsThrottled(dbc dbctx.Context, siteKey string, now time.Time) (bool, error) {
	var count int64
	err := r.conn(dbc).
		Model(&types.SiteGuardEvent{}).
		Where("site_key = ? AND block_until IS NOT NULL AND block_until > ?", siteKey, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
