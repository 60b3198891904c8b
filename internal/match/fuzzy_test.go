package match

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"espn", "espn", 0},
		{"", "", 0},
		{"fox news", "fox new", 1.0 / 8},
		{"abcd", "wxyz", 1},
		{"abc", "", 1},
	}
	for _, tt := range tests {
		if got := Score(tt.a, tt.b); got != tt.want {
			t.Fatalf("Score(%q,%q)=%v want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScoreSymmetric(t *testing.T) {
	pairs := [][2]string{{"espn", "espn 2"}, {"bbc one", "bbc two"}, {"a", "abcdef"}}
	for _, p := range pairs {
		if Score(p[0], p[1]) != Score(p[1], p[0]) {
			t.Fatalf("Score(%q,%q) not symmetric", p[0], p[1])
		}
	}
}

func TestFuzzyIndexBest(t *testing.T) {
	var ix fuzzyIndex
	ix.add("espn", "espn.us")
	ix.add("espn 2", "espn2.us")
	ix.add("bbc one", "bbcone.uk")

	id, _, ok := ix.best("espnn", 0.30)
	if !ok || id != "espn.us" {
		t.Fatalf("best(espnn)=%q ok=%v want espn.us", id, ok)
	}
	if _, _, ok := ix.best("cnn", 0.30); ok {
		t.Fatalf("best(cnn) matched, want no match")
	}
	if _, _, ok := ix.best("", 0.30); ok {
		t.Fatalf("best(empty) matched, want no match")
	}
}

func TestFuzzyIndexFirstSeenWins(t *testing.T) {
	var ix fuzzyIndex
	ix.add("espn", "first.id")
	ix.add("espn", "second.id")
	id, score, ok := ix.best("espn", 0.30)
	if !ok || id != "first.id" || score != 0 {
		t.Fatalf("best(espn)=%q score=%v ok=%v want first.id 0 true", id, score, ok)
	}
}
