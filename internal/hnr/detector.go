package hnr

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/hnr/signatures"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

var tracer = otel.Tracer("seedguard/hnr")

// Input is everything the detector may look at for one torrent. All fields
// are optional; an empty input yields a SAFE verdict.
type Input struct {
	Title    string
	Subtitle string
	// BadgesText is the concatenated text of promotion/tag badges scraped
	// from the torrent row.
	BadgesText string
	// ListHTML is the raw row markup, used by site selector overrides.
	ListHTML string
	SiteKey  string
}

// Result is the detector's verdict for one torrent.
type Result struct {
	Verdict      types.HRVerdict
	Confidence   float64
	MatchedRules []string
	Category     string
	Level        int
	Penalties    map[string]int
	// Source names the stage the deciding rule came from: site_selector,
	// signature_pack or heuristic.
	Source  string
	Message string
}

const (
	blockedThreshold   = 0.8
	suspectedThreshold = 0.3
)

var reBasicBadge = regexp.MustCompile(`(?i)\bh\s*[-/&]?\s*r\b|\bhnr\b|\bhit\s*[-/&]?\s*run\b`)

// Detector runs the signature pack plus heuristics over torrent metadata.
// It is stateless and safe for concurrent use.
type Detector struct {
	pack *signatures.Loader
	log  *logger.Logger
}

func NewDetector(pack *signatures.Loader, baseLog *logger.Logger) *Detector {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Detector{
		pack: pack,
		log:  baseLog.With("service", "HNRDetector"),
	}
}

type ruleHit struct {
	id         string
	confidence float64
	category   string
	penalties  map[string]int
	source     string
}

// Detect evaluates every stage (site selectors, badge signatures, level
// rules, heuristics), collects all fired rules and reports the most severe
// outcome. The same input always yields the same result.
func (d *Detector) Detect(ctx context.Context, in Input) Result {
	_, span := tracer.Start(ctx, "hnr.Detect", trace.WithAttributes(
		attribute.String("site", in.SiteKey),
	))
	defer span.End()

	text := Normalize(strings.Join([]string{in.Title, in.Subtitle, in.BadgesText}, " "))
	rowText := Normalize(strings.Join([]string{in.BadgesText, in.ListHTML}, " "))

	var hits []ruleHit

	hits = append(hits, d.matchSiteSelectors(in.SiteKey, rowText)...)
	hits = append(hits, d.matchSignatures(text)...)
	if h, ok := d.heuristicHit(text, rowText); ok {
		hits = append(hits, h)
	}

	level := ExtractLevel(text)
	if level == 0 {
		level = ExtractLevel(rowText)
	}

	res := fold(hits, level)
	span.SetAttributes(
		attribute.String("verdict", string(res.Verdict)),
		attribute.Float64("confidence", res.Confidence),
	)
	if res.Verdict != types.HRVerdictSafe {
		d.log.Debug("hit-and-run markers detected",
			"site", in.SiteKey, "verdict", res.Verdict,
			"confidence", res.Confidence, "rules", res.MatchedRules)
	}
	return res
}

// matchSiteSelectors applies the per-site overrides from the pack. A
// selector like "span.hit_run" or "img[alt='H&R']" is reduced to the badge
// text it targets and looked up in the row markup.
func (d *Detector) matchSiteSelectors(siteKey, rowText string) []ruleHit {
	if siteKey == "" || rowText == "" {
		return nil
	}
	var hits []ruleHit
	for _, sel := range d.pack.SiteSelectors(siteKey) {
		needle := selectorNeedle(sel)
		if needle == "" {
			continue
		}
		if strings.Contains(rowText, strings.ToLower(needle)) {
			hits = append(hits, ruleHit{
				id:         "site:" + siteKey + ":" + needle,
				confidence: 0.95,
				category:   "SITE_OVERRIDE",
				source:     "site_selector",
			})
		}
	}
	return hits
}

// selectorNeedle extracts the literal badge text from a selector override.
// Quoted attribute values win ("img[alt='H&R']" -> "H&R"); otherwise the
// fragment after the last class/ID separator is used.
func selectorNeedle(sel string) string {
	for _, quote := range []string{"'", `"`} {
		if start := strings.Index(sel, quote); start >= 0 {
			rest := sel[start+1:]
			if end := strings.Index(rest, quote); end > 0 {
				return rest[:end]
			}
		}
	}
	idx := strings.LastIndexAny(sel, ".#")
	if idx >= 0 && idx+1 < len(sel) {
		return strings.Trim(sel[idx+1:], "[]()=")
	}
	return strings.TrimSpace(sel)
}

func (d *Detector) matchSignatures(text string) []ruleHit {
	if text == "" {
		return nil
	}
	var hits []ruleHit
	for _, sig := range d.pack.Match(text, "") {
		// Level rules need a standalone H<digit>; the pack's text patterns
		// alone would fire on codec strings.
		if sig.Category == "HNR_LEVEL" && ExtractLevel(text) == 0 {
			continue
		}
		if sig.Category == "HNR_BASIC" && !reBasicBadge.MatchString(text) {
			continue
		}
		hits = append(hits, ruleHit{
			id:         sig.ID,
			confidence: sig.Confidence,
			category:   sig.Category,
			penalties:  sig.Penalties,
			source:     "signature_pack",
		})
	}
	return hits
}

// heuristicHit scores soft evidence that never appears in the pack:
// co-occurring seed-obligation vocabulary, level-shaped tokens in the row
// markup, short badge tokens the pack does not know yet, and penalty
// keyword combinations. Enough stacked evidence can block on its own.
func (d *Detector) heuristicHit(text, rowText string) (ruleHit, bool) {
	score := 0.0
	var parts []string

	if Cooccur(text, []string{"考核", "命中", "保种"}, []string{"小时", "天", "做种", "时长"}) {
		score += 0.4
		parts = append(parts, "cooccur")
	}
	if ExtractLevel(rowText) > 0 && ExtractLevel(text) == 0 {
		score += 0.3
		parts = append(parts, "row-level")
	}
	if len(d.novelBadges(rowText)) > 0 {
		score += 0.2
		parts = append(parts, "novel")
	}
	keywords := 0
	for _, kw := range []string{"hit", "run", "penalty", "ban", "警告", "惩罚", "考核", "保种"} {
		if strings.Contains(text, kw) {
			keywords++
		}
	}
	if keywords >= 2 {
		score += 0.1
		parts = append(parts, "keywords")
	}

	if score < suspectedThreshold {
		return ruleHit{}, false
	}
	if score > 1.0 {
		score = 1.0
	}
	return ruleHit{
		id:         "heuristic:" + strings.Join(parts, "+"),
		confidence: score,
		category:   "HEURISTIC",
		source:     "heuristic",
	}, true
}

// novelBadges finds short badge-like tokens in the row markup that carry
// obligation vocabulary but are not part of the signature pack yet.
func (d *Detector) novelBadges(rowText string) []string {
	var novel []string
	seen := make(map[string]struct{})
	for _, token := range strings.Fields(rowText) {
		if utf8.RuneCountInString(token) > 8 || !hasLetter(token) {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		if d.pack.IsKnownBadge(token) {
			continue
		}
		lower := strings.ToLower(token)
		for _, marker := range []string{"hnr", "hit", "保种", "考核"} {
			if strings.Contains(lower, marker) {
				novel = append(novel, token)
				break
			}
		}
	}
	return novel
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// fold reduces the hit list to a single result: every rule is reported,
// the highest confidence decides the verdict.
func fold(hits []ruleHit, level int) Result {
	if len(hits) == 0 {
		return Result{Verdict: types.HRVerdictSafe, Message: "未检测到H&R标记", Level: level}
	}

	best := hits[0]
	seen := make(map[string]struct{}, len(hits))
	rules := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.id]; !dup {
			seen[h.id] = struct{}{}
			rules = append(rules, h.id)
		}
		if h.confidence > best.confidence {
			best = h
		}
	}

	verdict := types.HRVerdictSuspected
	message := fmt.Sprintf("疑似H&R种子 (置信度 %.2f)", best.confidence)
	if best.confidence >= blockedThreshold {
		verdict = types.HRVerdictBlocked
		message = fmt.Sprintf("检测到H&R考核要求 (置信度 %.2f)", best.confidence)
	}

	return Result{
		Verdict:      verdict,
		Confidence:   best.confidence,
		MatchedRules: rules,
		Category:     best.category,
		Level:        level,
		Penalties:    best.penalties,
		Source:       best.source,
		Message:      message,
	}
}
