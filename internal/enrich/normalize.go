// Package enrich fills program metadata from an external show lookup,
// fronted by a persistent per-title cache so each distinct title is queried
// at most once per TTL window.
package enrich

import (
	"regexp"
	"strings"
	"unicode"
)

// episodeRe matches "S01E02" style markers.
var episodeRe = regexp.MustCompile(`(?i)\bs\d{1,2}\s*e\d{1,3}\b`)

// yearRe matches a standalone parenthetical year: "(1994)".
var yearRe = regexp.MustCompile(`\(\s*(19|20)\d{2}\s*\)`)

// junkTokens are quality/codec markers and episode words that say nothing
// about which show a program belongs to.
var junkTokens = map[string]struct{}{
	"hd": {}, "fhd": {}, "uhd": {}, "sd": {}, "4k": {},
	"1080p": {}, "1080i": {}, "720p": {}, "480p": {},
	"hevc": {}, "h264": {}, "h265": {}, "x264": {}, "x265": {},
	"season": {}, "episode": {}, "ep": {}, "pt": {}, "part": {},
}

// NormalizeTitle reduces a program title to its lookup key. A "show: episode"
// title keeps only the show portion when that portion is long enough to be
// meaningful on its own; otherwise the colon is treated as ordinary
// punctuation. Quality tokens, SxxEyy markers, season/episode words, and
// parenthetical years are dropped; non-ASCII letters survive.
// NormalizeTitle is idempotent.
func NormalizeTitle(title string) string {
	s := title
	if i := strings.Index(s, ":"); i >= 0 {
		if show := strings.TrimSpace(s[:i]); len(show) > 2 {
			s = show
		}
	}
	s = episodeRe.ReplaceAllString(s, " ")
	s = yearRe.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, t := range tokens {
		if _, drop := junkTokens[t]; drop {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}
