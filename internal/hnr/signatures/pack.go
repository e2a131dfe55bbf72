package signatures

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/seedguard/seedguard/internal/platform/logger"
)

// Pattern holds the literal and regex patterns of one signature.
type Pattern struct {
	Text  []string `yaml:"text"`
	Regex []string `yaml:"regex"`
}

// Signature is one detection rule.
type Signature struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Category   string         `yaml:"category"`
	Patterns   Pattern        `yaml:"patterns"`
	Confidence float64        `yaml:"confidence"`
	Penalties  map[string]int `yaml:"penalties"`
}

// SiteOverride carries per-site badge selectors.
type SiteOverride struct {
	Selectors []string `yaml:"selectors"`
}

// Pack is a versioned bundle of signatures, loadable from YAML.
type Pack struct {
	Version       int                     `yaml:"version"`
	Signatures    []Signature             `yaml:"signatures"`
	SiteOverrides map[string]SiteOverride `yaml:"site_overrides"`
}

// Loader owns the active pack and its compiled patterns. Reload swaps the
// pack atomically so a running detector can pick up new rules.
type Loader struct {
	mu       sync.RWMutex
	path     string
	pack     *Pack
	compiled map[string][]*regexp.Regexp
	badges   map[string]struct{}
	log      *logger.Logger
}

// NewLoader loads the pack at path, or the built-in default pack when path
// is empty or unreadable.
func NewLoader(path string, baseLog *logger.Logger) *Loader {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	l := &Loader{
		path: path,
		log:  baseLog.With("service", "SignaturePack"),
	}
	if path != "" {
		if err := l.Load(path); err == nil {
			return l
		}
	}
	l.install(DefaultPack())
	return l
}

// Load parses and installs the YAML pack at path. On failure the default
// pack is installed so the detector never runs without rules.
func (l *Loader) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		l.log.Warn("signature pack unreadable, using defaults", "path", path, "err", err)
		l.install(DefaultPack())
		return fmt.Errorf("read signature pack: %w", err)
	}
	var pack Pack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		l.log.Error("signature pack parse failed, using defaults", "path", path, "err", err)
		l.install(DefaultPack())
		return fmt.Errorf("parse signature pack: %w", err)
	}
	l.mu.Lock()
	l.path = path
	l.mu.Unlock()
	l.install(&pack)
	l.log.Info("signature pack loaded", "version", pack.Version, "signatures", len(pack.Signatures))
	return nil
}

// Reload re-reads the current pack file.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no signature pack path configured")
	}
	return l.Load(path)
}

func (l *Loader) install(pack *Pack) {
	compiled := make(map[string][]*regexp.Regexp)
	badges := make(map[string]struct{})
	for _, sig := range pack.Signatures {
		for _, pattern := range sig.Patterns.Regex {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				l.log.Warn("invalid signature regex skipped", "signature", sig.ID, "pattern", pattern)
				continue
			}
			compiled[sig.ID] = append(compiled[sig.ID], re)
		}
		for _, text := range sig.Patterns.Text {
			badges[strings.ToLower(text)] = struct{}{}
		}
	}
	l.mu.Lock()
	l.pack = pack
	l.compiled = compiled
	l.badges = badges
	l.mu.Unlock()
}

// Signatures returns the active rule set.
func (l *Loader) Signatures() []Signature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pack.Signatures
}

// SiteSelectors returns the badge selectors configured for a site.
func (l *Loader) SiteSelectors(siteKey string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if override, ok := l.pack.SiteOverrides[siteKey]; ok {
		return override.Selectors
	}
	return nil
}

// Match returns every signature whose text or regex patterns fire on the
// given (already normalized) text, optionally restricted to one category.
// Each signature is reported at most once.
func (l *Loader) Match(text, category string) []Signature {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Signature
	lower := strings.ToLower(text)
	for _, sig := range l.pack.Signatures {
		if category != "" && sig.Category != category {
			continue
		}
		if l.sigFires(sig, text, lower) {
			matched = append(matched, sig)
		}
	}
	return matched
}

func (l *Loader) sigFires(sig Signature, text, lower string) bool {
	for _, pattern := range sig.Patterns.Text {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	for _, re := range l.compiled[sig.ID] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsKnownBadge reports whether the token appears in any signature's text
// patterns; used by the novel-badge heuristic.
func (l *Loader) IsKnownBadge(token string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.badges[strings.ToLower(token)]
	return ok
}

// DefaultPack is the compiled-in rule set used when no YAML pack is
// configured. It mirrors the badges common across private trackers.
func DefaultPack() *Pack {
	return &Pack{
		Version: 1,
		Signatures: []Signature{
			{
				ID:       "hnr_basic",
				Name:     "basic hit-and-run badge",
				Category: "HNR_BASIC",
				Patterns: Pattern{
					Text:  []string{"H&R", "H-R", "H R", "hit and run", "hit&run"},
					Regex: []string{`\bH\s*[-/&]?\s*R\b`, `\bhit\s*[-/&]?\s*run\b`, `\bHNR\b`},
				},
				Confidence: 0.9,
				Penalties:  map[string]int{"base": -50, "per_level": -10},
			},
			{
				ID:       "h3_rule",
				Name:     "H3 level badge",
				Category: "HNR_LEVEL",
				Patterns: Pattern{
					Text:  []string{"H3", "H-3", "H 3"},
					Regex: []string{`\bH\s*[-/]?\s*3\b`},
				},
				Confidence: 0.8,
				Penalties:  map[string]int{"base": -30, "per_level": -5},
			},
			{
				ID:       "h5_rule",
				Name:     "H5 level badge",
				Category: "HNR_LEVEL",
				Patterns: Pattern{
					Text:  []string{"H5", "H-5", "H 5"},
					Regex: []string{`\bH\s*[-/]?\s*5\b`},
				},
				Confidence: 0.8,
				Penalties:  map[string]int{"base": -50, "per_level": -10},
			},
			{
				ID:       "h7_rule",
				Name:     "H7 level badge",
				Category: "HNR_LEVEL",
				Patterns: Pattern{
					Text:  []string{"H7", "H-7", "H 7"},
					Regex: []string{`\bH\s*[-/]?\s*7\b`},
				},
				Confidence: 0.85,
				Penalties:  map[string]int{"base": -70, "per_level": -15},
			},
		},
		SiteOverrides: map[string]SiteOverride{},
	}
}
