package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Channel is one lineup entry. GuideID and Method carry the current guide
// match; Number is the assigned display number (0 = not yet numbered).
type Channel struct {
	ID      string
	Name    string
	TVGID   string // guide-id hint declared by the playlist
	Lang    string
	Enabled bool
	Number  int
	GuideID string
	Method  string
}

// UpsertChannels inserts or refreshes lineup channels. Declared fields
// (name, tvg-id, language) follow the playlist; enabled flag, display number
// and match state of existing rows are left alone.
func (s *Store) UpsertChannels(ctx context.Context, chs []Channel) error {
	if len(chs) == 0 {
		return nil
	}
	args := make([]any, 0, len(chs)*5)
	for _, c := range chs {
		args = append(args, c.ID, c.Name, c.TVGID, c.Lang, c.Enabled)
	}
	return s.batchInsert(ctx,
		"INSERT INTO channels (id, name, tvg_id, lang, enabled)", 5, args,
		"ON CONFLICT(id) DO UPDATE SET name = excluded.name, tvg_id = excluded.tvg_id, lang = excluded.lang")
}

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var c Channel
	err := row.Scan(&c.ID, &c.Name, &c.TVGID, &c.Lang, &c.Enabled, &c.Number, &c.GuideID, &c.Method)
	return c, err
}

const channelCols = "id, name, tvg_id, lang, enabled, number, guide_id, match_method"

// ListChannels returns all lineup channels in insertion order.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+channelCols+" FROM channels ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChannel returns one channel, or (nil, nil) when the id is unknown.
func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	c, err := scanChannel(s.db.QueryRowContext(ctx,
		"SELECT "+channelCols+" FROM channels WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetChannelMatch records a guide match. Field-scoped update only.
func (s *Store) SetChannelMatch(ctx context.Context, id, guideID, method string) error {
	return s.exec(ctx, "UPDATE channels SET guide_id = ?, match_method = ? WHERE id = ?", guideID, method, id)
}

// ClearChannelMatch drops a stale guide reference.
func (s *Store) ClearChannelMatch(ctx context.Context, id string) error {
	return s.SetChannelMatch(ctx, id, "", "")
}

// SetChannelEnabled flips the lineup enabled flag.
func (s *Store) SetChannelEnabled(ctx context.Context, id string, enabled bool) error {
	return s.exec(ctx, "UPDATE channels SET enabled = ? WHERE id = ?", enabled, id)
}

// AssignNextNumber gives the channel the next display number in the monotonic
// sequence and returns it. Numbers start at base and are never reused; a
// channel that already has a number keeps it.
func (s *Store) AssignNextNumber(ctx context.Context, id string, base int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, "SELECT number FROM channels WHERE id = ?", id).Scan(&current); err != nil {
		return 0, fmt.Errorf("assign number %s: %w", id, err)
	}
	if current != 0 {
		return current, nil
	}
	var maxNum int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(number), 0) FROM channels").Scan(&maxNum); err != nil {
		return 0, err
	}
	next := base
	if maxNum >= base {
		next = maxNum + 1
	}
	if _, err := tx.ExecContext(ctx, "UPDATE channels SET number = ? WHERE id = ?", next, id); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

// Overrides returns the manual channel -> guide-id pins.
func (s *Store) Overrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT channel_id, guide_id FROM overrides")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var ch, gid string
		if err := rows.Scan(&ch, &gid); err != nil {
			return nil, err
		}
		out[ch] = gid
	}
	return out, rows.Err()
}

// SetOverride pins (or with guideID == "" removes) a manual mapping.
func (s *Store) SetOverride(ctx context.Context, channelID, guideID string) error {
	if guideID == "" {
		return s.exec(ctx, "DELETE FROM overrides WHERE channel_id = ?", channelID)
	}
	return s.exec(ctx,
		"INSERT INTO overrides (channel_id, guide_id) VALUES (?, ?) ON CONFLICT(channel_id) DO UPDATE SET guide_id = excluded.guide_id",
		channelID, guideID)
}
