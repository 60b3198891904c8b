package enrich

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := map[string]string{
		"The Simpsons: Homer's Odyssey": "the simpsons",
		"TV: Special Show":              "tv special show",
		"NCIS S05E12":                   "ncis",
		"The Office (2005)":             "the office",
		"Movie Night HD":                "movie night",
		"Der Tatortreiniger":            "der tatortreiniger",
		"Amélie (2001)":                 "amélie",
		"Season 2":                      "2",
		"":                              "",
	}
	for in, want := range tests {
		if got := NormalizeTitle(in); got != want {
			t.Fatalf("NormalizeTitle(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNormalizeTitleIdempotent(t *testing.T) {
	inputs := []string{
		"The Simpsons: Homer's Odyssey",
		"TV: Special Show",
		"NCIS S05E12",
		"Amélie (2001)",
		"plain title",
	}
	for _, in := range inputs {
		once := NormalizeTitle(in)
		if twice := NormalizeTitle(once); twice != once {
			t.Fatalf("NormalizeTitle not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
