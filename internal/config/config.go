package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the guide pipeline. All values come from the
// environment (EPGMERGR_*); Load applies defaults for anything unset so a bare
// environment still yields a runnable configuration.
type Config struct {
	// Storage
	DBPath string // sqlite database file; ":memory:" for tests

	// Matching
	PreferredLanguage       string  // fallback language for candidate disambiguation
	FuzzyGuideThreshold     float64 // accept guide-name fuzzy matches with score <= this
	FuzzyCandidateThreshold float64 // accept corpus fuzzy matches with score <= this
	DisplayNumberBase       int     // first display number handed out

	// Ingestion
	ChannelBatchSize int // guide channels per batch insert
	ProgramBatchSize int // programs per batch insert

	// Health / auto-disable
	SourceFailThreshold     int           // consecutive failures before a source is skippable
	SourceCooldown          time.Duration // skip window after the threshold is reached
	ChannelDisableThreshold int           // consecutive failures before a channel is disabled

	// Grab orchestration
	GrabConcurrency int    // channels grabbed in parallel
	GrabDays        int    // day span requested from the grabber
	GrabberCommand  string // external grabber executable

	// Enrichment
	EnrichTTL    time.Duration // cache entry lifetime
	EnrichDelay  time.Duration // minimum spacing between external lookups
	MinTitleLen  int           // normalized titles shorter than this are skipped
	LookupURL    string        // show-metadata lookup endpoint
	LookupAPIKey string

	// Community corpus
	CorpusURL string

	// Diagnostics
	MetricsAddr string // optional promhttp listen address, "" = disabled
}

// Load reads configuration from the environment. Call LoadEnvFile(".env")
// first to pick up a local env file.
func Load() *Config {
	c := &Config{
		DBPath:                  getEnv("EPGMERGR_DB", "./epgmergr.db"),
		PreferredLanguage:       getEnv("EPGMERGR_PREFERRED_LANG", "en"),
		FuzzyGuideThreshold:     getEnvFloat("EPGMERGR_FUZZY_GUIDE_THRESHOLD", 0.30),
		FuzzyCandidateThreshold: getEnvFloat("EPGMERGR_FUZZY_CANDIDATE_THRESHOLD", 0.25),
		DisplayNumberBase:       getEnvInt("EPGMERGR_NUMBER_BASE", 1000),
		ChannelBatchSize:        getEnvInt("EPGMERGR_CHANNEL_BATCH", 200),
		ProgramBatchSize:        getEnvInt("EPGMERGR_PROGRAM_BATCH", 500),
		SourceFailThreshold:     getEnvInt("EPGMERGR_SOURCE_FAIL_THRESHOLD", 3),
		SourceCooldown:          getEnvDuration("EPGMERGR_SOURCE_COOLDOWN", 30*time.Minute),
		ChannelDisableThreshold: getEnvInt("EPGMERGR_CHANNEL_DISABLE_THRESHOLD", 5),
		GrabConcurrency:         getEnvInt("EPGMERGR_GRAB_CONCURRENCY", 3),
		GrabDays:                getEnvInt("EPGMERGR_GRAB_DAYS", 3),
		GrabberCommand:          getEnv("EPGMERGR_GRABBER", "epg-grabber"),
		EnrichTTL:               getEnvDuration("EPGMERGR_ENRICH_TTL", 720*time.Hour),
		EnrichDelay:             getEnvDuration("EPGMERGR_ENRICH_DELAY", time.Second),
		MinTitleLen:             getEnvInt("EPGMERGR_MIN_TITLE_LEN", 3),
		LookupURL:               getEnv("EPGMERGR_LOOKUP_URL", "https://api.tvmaze.com"),
		LookupAPIKey:            os.Getenv("EPGMERGR_LOOKUP_API_KEY"),
		CorpusURL:               getEnv("EPGMERGR_CORPUS_URL", "https://iptv-org.github.io/api/channels.json"),
		MetricsAddr:             os.Getenv("EPGMERGR_METRICS_ADDR"),
	}
	if c.GrabConcurrency <= 0 {
		c.GrabConcurrency = 3
	}
	if c.GrabDays <= 0 {
		c.GrabDays = 3
	}
	if c.ChannelBatchSize <= 0 {
		c.ChannelBatchSize = 200
	}
	if c.ProgramBatchSize <= 0 {
		c.ProgramBatchSize = 500
	}
	if c.MinTitleLen <= 0 {
		c.MinTitleLen = 3
	}
	return c
}

// LoadEnvFile sets environment variables from "KEY=value" lines in path.
// A missing file is not an error; blank lines and #-comments are skipped.
func LoadEnvFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		os.Setenv(strings.TrimSpace(key), value)
	}
	return sc.Err()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
