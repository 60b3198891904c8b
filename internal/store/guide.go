package store

import (
	"context"
	"strings"
)

// GuideChannel is a channel identity as declared by one guide source. The
// same id string can mean different channels on different feeds, so identity
// is the (GuideID, Source) pair.
type GuideChannel struct {
	GuideID string
	Source  string
	Name    string
	Icon    string
}

// Program is one guide entry, scoped to its (guide channel, source) pair.
// Start/Stop keep the textual XMLTV timestamp ("20060102150405 -0700").
type Program struct {
	GuideID  string
	Source   string
	Start    string
	Stop     string
	Title    string
	SubTitle string
	Desc     string
	Episode  string
	Category string
	Rating   string
	Icon     string
}

// GrabSourcePrefix marks programs that came from a single-channel grab rather
// than a bulk feed, so retries can purge exactly the grabbed class.
const GrabSourcePrefix = "grab:"

// DeleteSource removes all guide channels and programs previously ingested
// from source. Run before re-ingesting so the operation is idempotent.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if err := s.exec(ctx, "DELETE FROM programs WHERE source = ?", source); err != nil {
		return err
	}
	return s.exec(ctx, "DELETE FROM guide_channels WHERE source = ?", source)
}

// DeleteChannelGrabs purges a guide channel's grab-class programs (any
// "grab:" source), leaving bulk-ingested programs alone.
func (s *Store) DeleteChannelGrabs(ctx context.Context, guideID string) error {
	return s.exec(ctx, "DELETE FROM programs WHERE guide_id = ? AND source LIKE ?", guideID, GrabSourcePrefix+"%")
}

// InsertGuideChannels flushes one batch of guide channels.
func (s *Store) InsertGuideChannels(ctx context.Context, chs []GuideChannel) error {
	if len(chs) == 0 {
		return nil
	}
	args := make([]any, 0, len(chs)*4)
	for _, c := range chs {
		args = append(args, c.GuideID, c.Source, c.Name, c.Icon)
	}
	return s.batchInsert(ctx,
		"INSERT INTO guide_channels (guide_id, source, name, icon)", 4, args,
		"ON CONFLICT(guide_id, source) DO UPDATE SET name = excluded.name, icon = excluded.icon")
}

// InsertPrograms flushes one batch of programs as a single multi-row insert.
func (s *Store) InsertPrograms(ctx context.Context, progs []Program) error {
	if len(progs) == 0 {
		return nil
	}
	args := make([]any, 0, len(progs)*11)
	for _, p := range progs {
		args = append(args, p.GuideID, p.Source, p.Start, p.Stop, p.Title,
			p.SubTitle, p.Desc, p.Episode, p.Category, p.Rating, p.Icon)
	}
	return s.batchInsert(ctx,
		"INSERT INTO programs (guide_id, source, start, stop, title, subtitle, descr, episode, category, rating, icon)",
		11, args, "")
}

// GuideChannelsOrdered returns every guide channel in first-seen order;
// the matching engine relies on this order for deterministic tie-breaks.
func (s *Store) GuideChannelsOrdered(ctx context.Context) ([]GuideChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guide_id, source, name, icon FROM guide_channels ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GuideChannel
	for rows.Next() {
		var c GuideChannel
		if err := rows.Scan(&c.GuideID, &c.Source, &c.Name, &c.Icon); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProgramCountsBySource returns guide-id -> program count for one source.
func (s *Store) ProgramCountsBySource(ctx context.Context, source string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guide_id, COUNT(*) FROM programs WHERE source = ? GROUP BY guide_id", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var gid string
		var n int
		if err := rows.Scan(&gid, &n); err != nil {
			return nil, err
		}
		out[gid] = n
	}
	return out, rows.Err()
}

// ProgramsForChannel returns a guide channel's programs across all sources,
// ordered by start time. Used by the guide exporter.
func (s *Store) ProgramsForChannel(ctx context.Context, guideID string) ([]Program, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guide_id, source, start, stop, title, subtitle, descr, episode, category, rating, icon
		 FROM programs WHERE guide_id = ? ORDER BY start`, guideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.GuideID, &p.Source, &p.Start, &p.Stop, &p.Title,
			&p.SubTitle, &p.Desc, &p.Episode, &p.Category, &p.Rating, &p.Icon); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPrograms reports whether any programs exist for a guide channel,
// regardless of source class.
func (s *Store) HasPrograms(ctx context.Context, guideID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM programs WHERE guide_id = ?", guideID).Scan(&n)
	return n > 0, err
}

// IsGrabSource reports whether a source label belongs to the grab class.
func IsGrabSource(source string) bool {
	return strings.HasPrefix(source, GrabSourcePrefix)
}
