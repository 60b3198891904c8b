package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/snapetech/epgmergr/internal/store"
)

// Writer emits a merged guide as XMLTV. All text nodes go through one
// xml.Encoder so escaping is uniform; the output round-trips through Ingest.
type Writer struct {
	enc    *xml.Encoder
	out    io.Writer
	closer io.Closer // compressor to finish, if any
}

type xmlChannel struct {
	XMLName xml.Name `xml:"channel"`
	ID      string   `xml:"id,attr"`
	Display string   `xml:"display-name"`
	Icon    *xmlIcon `xml:"icon,omitempty"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

type xmlProgramme struct {
	XMLName    xml.Name    `xml:"programme"`
	Start      string      `xml:"start,attr"`
	Stop       string      `xml:"stop,attr"`
	Channel    string      `xml:"channel,attr"`
	Title      string      `xml:"title"`
	SubTitle   string      `xml:"sub-title,omitempty"`
	Desc       string      `xml:"desc,omitempty"`
	Categories []string    `xml:"category,omitempty"`
	Episode    string      `xml:"episode-num,omitempty"`
	Rating     *xmlRating  `xml:"rating,omitempty"`
	Icon       *xmlIcon    `xml:"icon,omitempty"`
}

type xmlRating struct {
	Value string `xml:"value"`
}

// NewWriter starts an XMLTV document on w. When compress is true the stream
// is brotli-encoded (use a .xml.br path). Call Close to finish the document.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	out := w
	var closer io.Closer
	if compress {
		bw := brotli.NewWriter(w)
		out = bw
		closer = bw
	}
	if _, err := io.WriteString(out, xml.Header); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(out, `<tv generator-info-name="epgmergr">`+"\n"); err != nil {
		return nil, err
	}
	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")
	return &Writer{enc: enc, out: out, closer: closer}, nil
}

// WriteChannel emits one channel element.
func (w *Writer) WriteChannel(c store.GuideChannel) error {
	node := xmlChannel{ID: c.GuideID, Display: c.Name}
	if c.Icon != "" {
		node.Icon = &xmlIcon{Src: c.Icon}
	}
	return w.enc.Encode(node)
}

// WriteProgramme emits one programme element. The stored comma-joined
// category string fans back out into repeated category tags.
func (w *Writer) WriteProgramme(p store.Program) error {
	node := xmlProgramme{
		Start:    p.Start,
		Stop:     p.Stop,
		Channel:  p.GuideID,
		Title:    p.Title,
		SubTitle: p.SubTitle,
		Desc:     p.Desc,
		Episode:  p.Episode,
	}
	if p.Category != "" {
		for _, c := range strings.Split(p.Category, ", ") {
			if c != "" {
				node.Categories = append(node.Categories, c)
			}
		}
	}
	if p.Rating != "" {
		node.Rating = &xmlRating{Value: p.Rating}
	}
	if p.Icon != "" {
		node.Icon = &xmlIcon{Src: p.Icon}
	}
	return w.enc.Encode(node)
}

// Close flushes the encoder, terminates the document, and finishes the
// compressor when one is in use.
func (w *Writer) Close() error {
	if err := w.enc.Flush(); err != nil {
		return err
	}
	if _, err := io.WriteString(w.out, "\n</tv>\n"); err != nil {
		return err
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return fmt.Errorf("finish compressor: %w", err)
		}
	}
	return nil
}
