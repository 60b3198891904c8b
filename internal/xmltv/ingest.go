// Package xmltv streams guide feeds into the store and writes merged guides
// back out. Parsing is token-driven so a multi-hundred-megabyte feed never
// has to fit in memory: records accumulate in fixed-size batches that flush
// as single multi-row inserts.
package xmltv

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/snapetech/epgmergr/internal/httpclient"
	"github.com/snapetech/epgmergr/internal/metrics"
	"github.com/snapetech/epgmergr/internal/store"
)

// TimeFormat is the canonical programme timestamp layout. Feeds that omit
// the offset are normalized to UTC on ingest.
const TimeFormat = "20060102150405 -0700"

type Ingestor struct {
	Store        *store.Store
	ChannelBatch int // flush threshold for guide channels
	ProgramBatch int // flush threshold for programs
}

// Options scope one ingest pass.
type Options struct {
	Source        string // source identifier records are persisted under
	OnlyChannel   string // restrict to one guide-channel id; "" = whole feed
	ReplaceSource bool   // purge the source's prior records first
}

// Result reports what one pass persisted.
type Result struct {
	Channels int
	Programs map[string]int // guide-channel id -> programs persisted
	Skipped  int            // malformed records dropped
}

// Total returns the overall program count.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Programs {
		n += c
	}
	return n
}

// Ingest parses one guide feed and incrementally persists its channel and
// programme records. Malformed records are skipped, not fatal; stream-level
// read errors abort the pass and are returned. Each batch flush doubles as a
// cancellation point, so a long parse yields to ctx between chunks.
func (ing *Ingestor) Ingest(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.Source == "" {
		return nil, errors.New("ingest: source identifier required")
	}
	if opts.ReplaceSource {
		if err := ing.Store.DeleteSource(ctx, opts.Source); err != nil {
			return nil, fmt.Errorf("purge source %s: %w", opts.Source, err)
		}
	}
	chanBatch := ing.ChannelBatch
	if chanBatch <= 0 {
		chanBatch = 200
	}
	progBatch := ing.ProgramBatch
	if progBatch <= 0 {
		progBatch = 500
	}

	res := &Result{Programs: map[string]int{}}
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	var (
		channels []store.GuideChannel
		programs []store.Program
		curChan  *store.GuideChannel
		curProg  *store.Program
		inRating bool   // inside a programme's <rating> element
		field    string // leaf element currently collecting text
		text     strings.Builder
	)

	flushChannels := func() error {
		if err := ing.Store.InsertGuideChannels(ctx, channels); err != nil {
			return fmt.Errorf("flush channels: %w", err)
		}
		channels = channels[:0]
		return ctx.Err()
	}
	flushPrograms := func() error {
		if err := ing.Store.InsertPrograms(ctx, programs); err != nil {
			return fmt.Errorf("flush programs: %w", err)
		}
		metrics.ProgramsIngested.WithLabelValues(opts.Source).Add(float64(len(programs)))
		programs = programs[:0]
		return ctx.Err()
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read feed %s: %w", opts.Source, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "channel":
				curChan = &store.GuideChannel{
					GuideID: attr(t, "id"),
					Source:  opts.Source,
				}
			case "programme":
				curProg = &store.Program{
					GuideID: attr(t, "channel"),
					Source:  opts.Source,
					Start:   attr(t, "start"),
					Stop:    attr(t, "stop"),
				}
			case "display-name":
				if curChan != nil {
					field = "display-name"
					text.Reset()
				}
			case "icon":
				if src := attr(t, "src"); src != "" {
					if curProg != nil {
						curProg.Icon = src
					} else if curChan != nil {
						curChan.Icon = src
					}
				}
			case "rating":
				inRating = curProg != nil
			case "title", "sub-title", "desc", "category", "episode-num":
				if curProg != nil {
					field = t.Name.Local
					text.Reset()
				}
			case "value":
				// <star-rating> and friends carry <value> children too; only
				// the one under <rating> is the programme rating.
				if inRating {
					field = "value"
					text.Reset()
				}
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "channel":
				if curChan != nil {
					if ok := finalizeChannel(curChan, opts); ok {
						channels = append(channels, *curChan)
						res.Channels++
					} else if curChan.GuideID == "" {
						res.Skipped++
					}
					curChan = nil
				}
				if len(channels) >= chanBatch {
					if err := flushChannels(); err != nil {
						return nil, err
					}
				}
			case "programme":
				if curProg != nil {
					switch finalizeProgram(curProg, opts) {
					case recordKeep:
						programs = append(programs, *curProg)
						res.Programs[curProg.GuideID]++
					case recordSkip:
						res.Skipped++
						metrics.RecordsSkipped.WithLabelValues(opts.Source).Inc()
					}
					curProg = nil
				}
				if len(programs) >= progBatch {
					if err := flushPrograms(); err != nil {
						return nil, err
					}
				}
			case "rating":
				inRating = false
			default:
				if field != t.Name.Local {
					break
				}
				setField(curChan, curProg, field, strings.TrimSpace(text.String()))
				field = ""
			}
		}
	}
	if err := flushChannels(); err != nil {
		return nil, err
	}
	if err := flushPrograms(); err != nil {
		return nil, err
	}
	return res, nil
}

type recordFate int

const (
	recordKeep recordFate = iota
	recordSkip
	recordFiltered // valid but outside OnlyChannel scope; not counted as skipped
)

func finalizeChannel(c *store.GuideChannel, opts Options) bool {
	if c.GuideID == "" {
		return false
	}
	if opts.OnlyChannel != "" && c.GuideID != opts.OnlyChannel {
		return false
	}
	return true
}

func finalizeProgram(p *store.Program, opts Options) recordFate {
	if p.GuideID == "" || p.Start == "" || p.Stop == "" {
		return recordSkip
	}
	if opts.OnlyChannel != "" && p.GuideID != opts.OnlyChannel {
		return recordFiltered
	}
	start, err := ParseTime(p.Start)
	if err != nil {
		return recordSkip
	}
	stop, err := ParseTime(p.Stop)
	if err != nil {
		return recordSkip
	}
	if !stop.After(start) {
		return recordSkip
	}
	p.Start = start.Format(TimeFormat)
	p.Stop = stop.Format(TimeFormat)
	return recordKeep
}

func setField(curChan *store.GuideChannel, curProg *store.Program, field, val string) {
	if val == "" {
		return
	}
	if field == "display-name" {
		if curChan != nil && curChan.Name == "" {
			curChan.Name = val
		}
		return
	}
	if curProg == nil {
		return
	}
	switch field {
	case "title":
		curProg.Title = val
	case "sub-title":
		curProg.SubTitle = val
	case "desc":
		curProg.Desc = val
	case "category":
		// Repeated tags concatenate; they must not overwrite each other.
		if curProg.Category == "" {
			curProg.Category = val
		} else {
			curProg.Category += ", " + val
		}
	case "episode-num":
		curProg.Episode = val
	case "value":
		curProg.Rating = val
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// ParseTime accepts the canonical offset-qualified layout and the common
// offset-less variant (interpreted as UTC).
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse("20060102150405", s)
}

// IngestFile ingests a local guide file, transparently decompressing by
// extension (.gz, .br).
func (ing *Ingestor) IngestFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := decompress(f, path)
	if err != nil {
		return nil, err
	}
	return ing.Ingest(ctx, r, opts)
}

// IngestURL fetches a guide feed over HTTP and ingests it.
func (ing *Ingestor) IngestURL(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	resp, err := httpclient.Get(ctx, nil, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}
	r, err := decompress(resp.Body, rawURL)
	if err != nil {
		return nil, err
	}
	return ing.Ingest(ctx, r, opts)
}

var gzipMagic = []byte{0x1f, 0x8b}

// decompress wraps r for gzip (sniffed by magic bytes) or brotli (extension
// only; brotli has no magic). Plain streams pass through buffered.
func decompress(r io.Reader, name string) (io.Reader, error) {
	if strings.HasSuffix(name, ".br") {
		return brotli.NewReader(r), nil
	}
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && bytes.Equal(head, gzipMagic) {
		return gzip.NewReader(br)
	}
	return br, nil
}
