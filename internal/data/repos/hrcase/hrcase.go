package hrcase

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// ErrNotFound is returned by operations that require an existing case.
var ErrNotFound = errors.New("hr case not found")

// Observation is one scanner re-observation of a torrent's HR page.
type Observation struct {
	SiteKey           string
	TorrentID         string
	Status            types.HRStatus
	LifeStatus        types.TorrentLife
	RequiredSeedHours float64
	SeededHours       float64
	Deadline          *time.Time
	FirstSeenAt       *time.Time
	LastSeenAt        *time.Time
}

// Repo is the HR case store. The evaluation path only calls Get; every
// mutation comes from the scanning pipeline.
type Repo interface {
	Get(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error)
	Upsert(dbc dbctx.Context, obs Observation) (*types.HRCase, error)
	UpsertFromSeedPage(dbc dbctx.Context, siteKey, torrentID string, requiredHours, seededHours float64, deadline *time.Time) (*types.HRCase, error)
	MarkSafe(dbc dbctx.Context, siteKey, torrentID, reason string) (*types.HRCase, error)
	MarkViolated(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error)
	MarkDeleted(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error)
	ListActiveForSite(dbc dbctx.Context, siteKey string) ([]*types.HRCase, error)
	ListByStatus(dbc dbctx.Context, status types.HRStatus, limit int) ([]*types.HRCase, error)
	ListBySite(dbc dbctx.Context, siteKey string, limit int) ([]*types.HRCase, error)
	Statistics(dbc dbctx.Context) (map[types.HRStatus]int64, error)
	CleanupResolved(dbc dbctx.Context, olderThan time.Time) (int64, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &repo{
		db:  db,
		log: baseLog.With("repo", "HRCaseRepo"),
	}
}

func (r *repo) conn(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repo) Get(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error) {
	if siteKey == "" || torrentID == "" {
		return nil, nil
	}
	var c types.HRCase
	err := r.conn(dbc).
		Where("site_key = ? AND torrent_id = ?", siteKey, torrentID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert creates or updates the single row for (site_key, torrent_id).
// SeededHours only ever grows, so concurrent readers never see it regress.
func (r *repo) Upsert(dbc dbctx.Context, obs Observation) (*types.HRCase, error) {
	if obs.SiteKey == "" || obs.TorrentID == "" {
		return nil, fmt.Errorf("upsert hr case: site key and torrent id required")
	}

	now := time.Now().UTC()
	existing, err := r.Get(dbc, obs.SiteKey, obs.TorrentID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		c := &types.HRCase{
			ID:                uuid.New(),
			SiteKey:           obs.SiteKey,
			TorrentID:         obs.TorrentID,
			Status:            defaultStatus(obs.Status),
			LifeStatus:        defaultLife(obs.LifeStatus),
			RequiredSeedHours: obs.RequiredSeedHours,
			SeededHours:       obs.SeededHours,
			Deadline:          obs.Deadline,
			FirstSeenAt:       coalesceTime(obs.FirstSeenAt, &now),
			LastSeenAt:        coalesceTime(obs.LastSeenAt, &now),
		}
		if c.Status == types.HRActive {
			c.EnteredAt = &now
		}
		if err := r.conn(dbc).Create(c).Error; err != nil {
			return nil, err
		}
		r.log.Info("hr case created", "site", c.SiteKey, "torrent", c.TorrentID, "status", c.Status)
		return c, nil
	}

	existing.Status = defaultStatus(obs.Status)
	existing.LifeStatus = defaultLife(obs.LifeStatus)
	existing.RequiredSeedHours = obs.RequiredSeedHours
	if obs.SeededHours > existing.SeededHours {
		existing.SeededHours = obs.SeededHours
	}
	existing.Deadline = obs.Deadline
	existing.LastSeenAt = coalesceTime(obs.LastSeenAt, &now)
	if existing.Status == types.HRActive && existing.EnteredAt == nil {
		existing.EnteredAt = &now
	}
	if err := r.conn(dbc).Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *repo) UpsertFromSeedPage(dbc dbctx.Context, siteKey, torrentID string, requiredHours, seededHours float64, deadline *time.Time) (*types.HRCase, error) {
	return r.Upsert(dbc, Observation{
		SiteKey:           siteKey,
		TorrentID:         torrentID,
		Status:            types.HRActive,
		LifeStatus:        types.LifeAlive,
		RequiredSeedHours: requiredHours,
		SeededHours:       seededHours,
		Deadline:          deadline,
	})
}

func (r *repo) MarkSafe(dbc dbctx.Context, siteKey, torrentID, reason string) (*types.HRCase, error) {
	c, err := r.Get(dbc, siteKey, torrentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("mark safe %s/%s: %w", siteKey, torrentID, ErrNotFound)
	}
	now := time.Now().UTC()
	c.Status = types.HRFinished
	c.ResolvedAt = &now
	if c.Notes == "" {
		c.Notes = reason
	}
	if err := r.conn(dbc).Save(c).Error; err != nil {
		return nil, err
	}
	r.log.Info("hr case finished", "site", siteKey, "torrent", torrentID, "reason", reason)
	return c, nil
}

func (r *repo) MarkViolated(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error) {
	now := time.Now().UTC()
	c, err := r.Get(dbc, siteKey, torrentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &types.HRCase{
			ID:          uuid.New(),
			SiteKey:     siteKey,
			TorrentID:   torrentID,
			Status:      types.HRFailed,
			LifeStatus:  types.LifeAlive,
			PenalizedAt: &now,
			FirstSeenAt: &now,
			LastSeenAt:  &now,
		}
		if err := r.conn(dbc).Create(c).Error; err != nil {
			return nil, err
		}
		r.log.Warn("hr case violated (no prior record)", "site", siteKey, "torrent", torrentID)
		return c, nil
	}
	c.Status = types.HRFailed
	c.PenalizedAt = &now
	if err := r.conn(dbc).Save(c).Error; err != nil {
		return nil, err
	}
	r.log.Warn("hr case violated", "site", siteKey, "torrent", torrentID)
	return c, nil
}

func (r *repo) MarkDeleted(dbc dbctx.Context, siteKey, torrentID string) (*types.HRCase, error) {
	now := time.Now().UTC()
	c, err := r.Get(dbc, siteKey, torrentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &types.HRCase{
			ID:               uuid.New(),
			SiteKey:          siteKey,
			TorrentID:        torrentID,
			Status:           types.HRNone,
			LifeStatus:       types.LifeDeleted,
			TorrentDeletedAt: &now,
			FirstSeenAt:      &now,
			LastSeenAt:       &now,
		}
		if err := r.conn(dbc).Create(c).Error; err != nil {
			return nil, err
		}
		return c, nil
	}
	c.LifeStatus = types.LifeDeleted
	c.TorrentDeletedAt = &now
	if err := r.conn(dbc).Save(c).Error; err != nil {
		return nil, err
	}
	r.log.Info("hr case torrent deleted", "site", siteKey, "torrent", torrentID)
	return c, nil
}

func (r *repo) ListActiveForSite(dbc dbctx.Context, siteKey string) ([]*types.HRCase, error) {
	var out []*types.HRCase
	err := r.conn(dbc).
		Where("site_key = ? AND status = ? AND life_status = ?", siteKey, types.HRActive, types.LifeAlive).
		Order("deadline ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListByStatus(dbc dbctx.Context, status types.HRStatus, limit int) ([]*types.HRCase, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.HRCase
	err := r.conn(dbc).
		Where("status = ?", status).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListBySite(dbc dbctx.Context, siteKey string, limit int) ([]*types.HRCase, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.HRCase
	err := r.conn(dbc).
		Where("site_key = ?", siteKey).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) Statistics(dbc dbctx.Context) (map[types.HRStatus]int64, error) {
	type row struct {
		Status types.HRStatus
		Count  int64
	}
	var rows []row
	err := r.conn(dbc).
		Model(&types.HRCase{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[types.HRStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

// CleanupResolved removes finished cases resolved before the cutoff.
func (r *repo) CleanupResolved(dbc dbctx.Context, olderThan time.Time) (int64, error) {
	res := r.conn(dbc).
		Where("status IN ? AND resolved_at IS NOT NULL AND resolved_at < ?",
			[]types.HRStatus{types.HRFinished, types.HRNone}, olderThan).
		Delete(&types.HRCase{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("cleaned up resolved hr cases", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func defaultStatus(s types.HRStatus) types.HRStatus {
	if s == "" {
		return types.HRNone
	}
	return s
}

func defaultLife(l types.TorrentLife) types.TorrentLife {
	if l == "" {
		return types.LifeAlive
	}
	return l
}

func coalesceTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
