package grab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Grabber is the external scraping collaborator. It produces an XMLTV stream
// for one channel on one source site, or fails. Site-specific scraping lives
// entirely behind this interface.
type Grabber interface {
	Grab(ctx context.Context, source, siteID, guideID string, days int) (io.ReadCloser, error)
}

// CommandGrabber shells out to an epg-grabber style executable that writes
// its result to a file. Non-zero exit or a missing output file is a failure;
// any timeout is the command's own business.
type CommandGrabber struct {
	Command string
}

func (g *CommandGrabber) Grab(ctx context.Context, source, siteID, guideID string, days int) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp("", "epgmergr-grab-*.xml")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, g.Command,
		"--site="+source,
		"--site-id="+siteID,
		"--channel="+guideID,
		"--days="+strconv.Itoa(days),
		"--output="+path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("grabber %s/%s: %v: %s", source, siteID, err, firstLine(&stderr))
	}
	f, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("grabber %s/%s: no output file: %w", source, siteID, err)
	}
	return &tempFile{File: f, path: path}, nil
}

// tempFile deletes its backing file on Close.
type tempFile struct {
	*os.File
	path string
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.Remove(t.path)
	return err
}

func firstLine(b *bytes.Buffer) string {
	s := strings.TrimSpace(b.String())
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
