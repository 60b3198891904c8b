// Command epgmergr: merge XMLTV guide feeds, match lineup channels, grab
// missing per-channel guide data, and enrich program metadata.
//
//	ingest      Ingest one or more guide sources (files or URLs)
//	match       Match lineup channels against ingested guide channels
//	candidates  Match lineup channels against the community corpus
//	grab        Grab guide data for channels that still have none
//	enrich      Run one metadata enrichment pass
//	corpus      Refresh the community corpus
//	reenable    Re-enable auto-disabled channels
//	export      Write the merged guide as XMLTV
//	status      Show the latest grab outcome per channel
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/epgmergr/internal/config"
	"github.com/snapetech/epgmergr/internal/events"
	"github.com/snapetech/epgmergr/internal/pipeline"
	"github.com/snapetech/epgmergr/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <ingest|match|candidates|grab|enrich|corpus|reenable|export|status> [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  ingest      Ingest guide sources: -source name=location (repeatable)\n")
	fmt.Fprintf(os.Stderr, "  match       Match lineup channels against ingested guide channels\n")
	fmt.Fprintf(os.Stderr, "  candidates  Match lineup channels against the community corpus\n")
	fmt.Fprintf(os.Stderr, "  grab        Grab guide data: -channels a,b,c (default: all without programs)\n")
	fmt.Fprintf(os.Stderr, "  enrich      Run one metadata enrichment pass\n")
	fmt.Fprintf(os.Stderr, "  corpus      Refresh the community corpus\n")
	fmt.Fprintf(os.Stderr, "  reenable    Re-enable channels: -channels a,b,c\n")
	fmt.Fprintf(os.Stderr, "  export      Write merged XMLTV: -out guide.xml (use .br for brotli)\n")
	fmt.Fprintf(os.Stderr, "  status      Show the latest grab outcome per channel\n")
	os.Exit(1)
}

// sourceList collects repeated -source name=location flags.
type sourceList []pipeline.Source

func (s *sourceList) String() string { return fmt.Sprintf("%d sources", len(*s)) }

func (s *sourceList) Set(v string) error {
	name, location, ok := strings.Cut(v, "=")
	if !ok || name == "" || location == "" {
		return fmt.Errorf("want name=location, got %q", v)
	}
	*s = append(*s, pipeline.Source{Name: name, Location: location})
	return nil
}

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[epgmergr] ")

	ingestCmd := flag.NewFlagSet("ingest", flag.ExitOnError)
	var sources sourceList
	ingestCmd.Var(&sources, "source", "Guide source as name=location; repeat for multiple")

	grabCmd := flag.NewFlagSet("grab", flag.ExitOnError)
	grabChannels := grabCmd.String("channels", "", "Comma-separated channel ids (default: every matched channel without programs)")

	reenableCmd := flag.NewFlagSet("reenable", flag.ExitOnError)
	reenableChannels := reenableCmd.String("channels", "", "Comma-separated channel ids to re-enable")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	exportOut := exportCmd.String("out", "guide.xml", "Output path; a .br suffix enables brotli compression")

	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Printf("Open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("Metrics listener: %v", err)
			}
		}()
	}

	p := pipeline.New(cfg, st, events.LogSink{})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ingest":
		_ = ingestCmd.Parse(os.Args[2:])
		if len(sources) == 0 {
			log.Printf("Nothing to ingest: pass at least one -source name=location")
			os.Exit(1)
		}
		sum, err := p.IngestSources(ctx, []pipeline.Source(sources))
		if err != nil {
			log.Printf("Ingest failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Ingested %d/%d sources: %d channels, %d programs (%d skipped)",
			sum.Sources-sum.Failed, sum.Sources, sum.Channels, sum.Programs, sum.Skipped)
		if sum.Failed > 0 {
			os.Exit(1)
		}

	case "match":
		rep, err := p.MatchGuide(ctx)
		if err != nil {
			log.Printf("Match failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Guide match: %s", rep.SummaryString())

	case "candidates":
		rep, err := p.MatchCandidates(ctx)
		if err != nil {
			log.Printf("Candidate match failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Candidate match: %s", rep.SummaryString())

	case "grab":
		_ = grabCmd.Parse(os.Args[2:])
		sum, err := p.GrabChannels(ctx, splitIDs(*grabChannels))
		if err != nil {
			log.Printf("Grab failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Grab done: %d/%d succeeded, %d failed, %d auto-disabled",
			sum.Succeeded, sum.Total, sum.Failed, sum.Disabled)

	case "enrich":
		sum, err := p.Enrich(ctx)
		if err != nil {
			log.Printf("Enrich failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Enriched %d titles: %d matched, %d not found, %d skipped, %d cached",
			sum.Titles, sum.Matched, sum.NotFound, sum.Skipped, sum.CacheHits)

	case "corpus":
		n, err := p.RefreshCorpus(ctx)
		if err != nil {
			log.Printf("Corpus refresh failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Corpus refreshed: %d rows", n)

	case "reenable":
		_ = reenableCmd.Parse(os.Args[2:])
		ids := splitIDs(*reenableChannels)
		if len(ids) == 0 {
			log.Printf("Nothing to re-enable: pass -channels a,b,c")
			os.Exit(1)
		}
		n, err := p.Reenable(ctx, ids)
		if err != nil {
			log.Printf("Re-enable failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Re-enabled %d channels", n)

	case "export":
		_ = exportCmd.Parse(os.Args[2:])
		f, err := os.Create(*exportOut)
		if err != nil {
			log.Printf("Export failed: %v", err)
			os.Exit(1)
		}
		compress := strings.HasSuffix(*exportOut, ".br")
		channels, programs, err := p.ExportGuide(ctx, f, compress)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Printf("Export failed: %v", err)
			os.Exit(1)
		}
		log.Printf("Exported %d channels, %d programs to %s", channels, programs, *exportOut)

	case "status":
		latest, err := p.LatestGrabStatus(ctx)
		if err != nil {
			log.Printf("Status failed: %v", err)
			os.Exit(1)
		}
		ids := make([]string, 0, len(latest))
		for id := range latest {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			e := latest[id]
			outcome := "ok"
			if !e.OK {
				outcome = "failed"
			}
			log.Printf("%s: %s via %s (%s)", id, outcome, e.Source, e.Message)
		}

	default:
		usage()
	}
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
