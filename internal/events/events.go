// Package events carries structured log/progress notifications from the
// pipeline to whoever is watching. The core publishes; it never renders.
package events

import (
	"log"
	"sort"
	"strconv"
	"strings"
)

type Level string

const (
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

type Event struct {
	Level   Level
	Phase   string // ingest, match, candidates, grab, enrich, corpus
	Message string
	Counts  map[string]int
}

// Sink receives pipeline events. Implementations must be safe for
// concurrent use; the grab pool publishes from multiple goroutines.
type Sink interface {
	Publish(Event)
}

// LogSink writes events through the standard logger. The default when a
// caller supplies nothing.
type LogSink struct{}

func (LogSink) Publish(e Event) {
	if len(e.Counts) == 0 {
		log.Printf("%s: %s", e.Phase, e.Message)
		return
	}
	keys := make([]string, 0, len(e.Counts))
	for k := range e.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(e.Counts[k]))
	}
	if e.Message != "" {
		log.Printf("%s: %s (%s)", e.Phase, e.Message, strings.Join(parts, " "))
	} else {
		log.Printf("%s: %s", e.Phase, strings.Join(parts, " "))
	}
}

// NopSink discards everything; handy in tests.
type NopSink struct{}

func (NopSink) Publish(Event) {}
