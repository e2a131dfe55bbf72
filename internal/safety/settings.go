package safety

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/platform/envutil"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

// Settings resolves the three policy layers the engine consults: global
// switches from the environment, per-site sensitivity and per-subscription
// HR preferences. Resolutions are cached with a short TTL so the hot path
// never recomputes them.
type Settings struct {
	log   *logger.Logger
	cache *gocache.Cache
}

func NewSettings(baseLog *logger.Logger) *Settings {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	ttl := time.Duration(envutil.Int("SAFETY_CACHE_TTL_SECONDS", 300)) * time.Second
	return &Settings{
		log:   baseLog.With("service", "SafetySettings"),
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Global reads the deployment-wide policy from SAFETY_* variables.
func (s *Settings) Global() types.GlobalSafetySettings {
	if v, ok := s.cache.Get("global"); ok {
		return v.(types.GlobalSafetySettings)
	}
	g := types.GlobalSafetySettings{
		Enabled:               envutil.Bool("SAFETY_ENABLED", true),
		Mode:                  envutil.String("SAFETY_MODE", "BALANCED"),
		MinKeepHours:          envutil.Float("SAFETY_MIN_KEEP_HOURS", 24),
		MinRatioForDelete:     envutil.Float("SAFETY_MIN_RATIO_FOR_DELETE", 0.8),
		PreferCopyOnMoveForHR: envutil.Bool("SAFETY_PREFER_COPY_ON_MOVE", true),
		EnableHRProtection:    envutil.Bool("SAFETY_ENABLE_HR_PROTECTION", true),
		AutoApproveHours:      envutil.Float("SAFETY_AUTO_APPROVE_HOURS", 2),
		CacheTTLSeconds:       envutil.Int("SAFETY_CACHE_TTL_SECONDS", 300),
		BatchCheckEnabled:     envutil.Bool("SAFETY_BATCH_CHECK", true),
	}
	s.cache.SetDefault("global", g)
	return g
}

// Site resolves the per-site policy. Without an explicit configuration the
// sensitivity is inferred from the site key: HD/UHD trackers are graded
// sensitive, the strict Chinese private trackers highly sensitive.
func (s *Settings) Site(siteKey string) types.SiteSafetySettings {
	key := "site:" + siteKey
	if v, ok := s.cache.Get(key); ok {
		return v.(types.SiteSafetySettings)
	}
	site := types.SiteSafetySettings{
		SiteKey:               siteKey,
		SiteName:              siteKey,
		HRSensitivity:         types.SensitivityNormal,
		EnableHRDownloadBlock: true,
		EnableHRDeleteBlock:   true,
		EnableHRMoveWarning:   true,
	}
	lower := strings.ToLower(siteKey)
	switch {
	case containsAny(lower, "pt", "chd", "hdchina", "ourbits", "ttg"):
		site.HRSensitivity = types.SensitivityHighlySensitive
		ratio := 1.0
		keep := 72.0
		site.MinKeepRatio = &ratio
		site.MinKeepTimeHours = &keep
	case containsAny(lower, "hd", "uhd", "4k", "blu"):
		site.HRSensitivity = types.SensitivitySensitive
	}
	s.cache.SetDefault(key, site)
	return site
}

// Subscription resolves per-subscription HR preferences. The default is
// conservative: HR torrents are not allowed unless opted in.
func (s *Settings) Subscription(id int64) types.SubscriptionSafetySettings {
	key := fmt.Sprintf("sub:%d", id)
	if v, ok := s.cache.Get(key); ok {
		return v.(types.SubscriptionSafetySettings)
	}
	sub := types.SubscriptionSafetySettings{
		SubscriptionID: id,
		AllowHR:        false,
		StrictFreeOnly: false,
		AutoSkipHR:     true,
	}
	s.cache.SetDefault(key, sub)
	return sub
}

// ClearCache drops every cached resolution; call after configuration writes.
func (s *Settings) ClearCache() {
	s.cache.Flush()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
