package match

import "testing"

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"US: ESPN HD (Backup) [1080p]": "espn",
		"FOX News HD":                  "fox news",
		"BBC One (UK) FHD":             "bbc one",
		"  CTV  Regina  HD  ":          "ctv regina",
		"DE: Das Erste":                 "das erste",
		"Canal+ Séries":                 "canal séries",
		"Channel 5 4K":                  "channel 5",
		"TNT [HEVC]":                    "tnt",
		"":                              "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"US: ESPN HD (Backup) [1080p]",
		"FOX News HD",
		"Canal+ Séries",
		"plain name",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
