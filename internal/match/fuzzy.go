package match

// fuzzyIndex holds normalized names in first-seen order for the fuzzy tiers.
// Scores are Levenshtein distance weighted by the longer string's length, so
// 0 is identical and 1 is completely different; lower is better.
type fuzzyIndex struct {
	keys []string
	ids  []string
}

func (ix *fuzzyIndex) add(norm, id string) {
	if norm == "" {
		return
	}
	for _, k := range ix.keys {
		if k == norm {
			return // first-seen binding wins
		}
	}
	ix.keys = append(ix.keys, norm)
	ix.ids = append(ix.ids, id)
}

// best returns the id with the lowest score at or under threshold. Ties keep
// the first-seen entry because iteration only replaces on strictly lower.
func (ix *fuzzyIndex) best(norm string, threshold float64) (id string, score float64, ok bool) {
	if norm == "" {
		return "", 0, false
	}
	score = threshold + 1
	for i, k := range ix.keys {
		s := Score(norm, k)
		if s < score {
			score, id = s, ix.ids[i]
		}
	}
	if score > threshold {
		return "", 0, false
	}
	return id, score, true
}

// Score is the length-weighted edit distance between two normalized names.
func Score(a, b string) float64 {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(levenshtein(ra, rb)) / float64(maxLen)
}

func levenshtein(r1, r2 []rune) int {
	prev := make([]int, len(r2)+1)
	cur := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		cur[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(r2)]
}
