// Package match resolves lineup channels against ingested guide channels and
// against the community corpus, using a deterministic tier ladder with a
// fuzzy last resort.
package match

import (
	"regexp"
	"strings"
	"unicode"
)

// bracketRe drops bracketed and parenthetical qualifiers: "(Backup)", "[1080p]".
var bracketRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// countryPrefixRe strips "US: ", "DE: ", "SLING: " style prefixes.
var countryPrefixRe = regexp.MustCompile(`(?i)^[a-z]{2,6}\s*:\s*`)

// qualityTokens are resolution/quality markers that carry no identity.
var qualityTokens = map[string]struct{}{
	"hd": {}, "fhd": {}, "uhd": {}, "sd": {}, "hq": {}, "raw": {},
	"4k": {}, "8k": {}, "1080p": {}, "1080i": {}, "720p": {}, "480p": {},
	"hevc": {}, "h264": {}, "h265": {},
}

// Normalize reduces a channel display name to its matching key: bracketed
// qualifiers, country prefixes and quality tokens go away, punctuation
// becomes whitespace, case folds, whitespace collapses. Non-ASCII letters
// are preserved. Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	s := bracketRe.ReplaceAllString(name, " ")
	s = countryPrefixRe.ReplaceAllString(s, "")
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
		if _, drop := qualityTokens[t]; drop {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}
