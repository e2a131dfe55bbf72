package hnr

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reLevel      = regexp.MustCompile(`(?i)\bH\s*[-/:：]?\s*(10|[1-9])\b`)
	reWhitespace = regexp.MustCompile(`\s+`)

	// Full-width punctuation that tracker pages mix into badge text.
	fullWidthReplacer = strings.NewReplacer(
		"＆", "&",
		"／", "/",
		"：", ":",
		"（", "(",
		"）", ")",
		"，", ",",
		"　", " ",
	)
)

// Normalize lowercases the text, folds full-width punctuation to ASCII and
// collapses runs of whitespace. It is idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	out := strings.ToLower(text)
	out = fullWidthReplacer.Replace(out)
	out = reWhitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Cooccur reports whether at least one term from each group appears in text.
func Cooccur(text string, groupA, groupB []string) bool {
	return containsAny(text, groupA) && containsAny(text, groupB)
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// ExtractLevel pulls an H-level (1..10) out of badge text, e.g. "H3",
// "H-5", "H/7" or "H：3". Codec and HDR strings such as "H.264", "H265" or
// "HDR10" must not register as levels; Go's regexp has no lookbehind, so the
// characters before each candidate match are checked explicitly.
func ExtractLevel(text string) int {
	for _, idx := range reLevel.FindAllStringSubmatchIndex(text, -1) {
		if codecContext(text, idx[0]) {
			continue
		}
		// The match itself can be the tail of "H.264"/"HDR10" style tokens
		// when the dot or letters were stripped upstream.
		if tokenIsCodec(text, idx[0], idx[1]) {
			continue
		}
		level, err := strconv.Atoi(text[idx[2]:idx[3]])
		if err == nil && level >= 1 && level <= 10 {
			return level
		}
	}
	return 0
}

// codecContext reports whether the characters immediately before position
// start spell a codec or HDR prefix ("h.26", "x26", "hdr", ...), which means
// the "H<digit>" that follows is not a hit-and-run level.
func codecContext(text string, start int) bool {
	windowStart := start - 6
	if windowStart < 0 {
		windowStart = 0
	}
	window := strings.ToLower(text[windowStart:start])
	for _, prefix := range []string{"h.26", "h26", "x26", "hdr"} {
		if strings.HasSuffix(strings.TrimRight(window, " ."), prefix) {
			return true
		}
	}
	return false
}

// tokenIsCodec rejects matches whose surrounding token is a codec name,
// e.g. the "H 2" inside "H 264" or the leading part of "hdr10+".
func tokenIsCodec(text string, start, end int) bool {
	rest := strings.ToLower(text[end:])
	match := strings.ToLower(text[start:end])
	if strings.HasSuffix(match, "2") && (strings.HasPrefix(rest, "64") || strings.HasPrefix(rest, "65")) {
		return true
	}
	if strings.HasSuffix(match, "1") && strings.HasPrefix(rest, "0bit") {
		return true
	}
	return false
}
