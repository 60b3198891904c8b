package store

import "context"

// Candidate is one corpus row: a (source, site id) pair believed able to
// produce guide data for a guide id, keyed by community-maintained channel
// name and language. Rows keep corpus order (rowid) as their rank.
type Candidate struct {
	Name    string
	GuideID string
	Lang    string
	Source  string
	SiteID  string
}

// ChannelCandidate is a ranked grab candidate resolved for one lineup
// channel by the candidate-matching pass.
type ChannelCandidate struct {
	ChannelID string
	Rank      int
	GuideID   string
	Source    string
	SiteID    string
	Lang      string
}

// ReplaceCandidates swaps the whole corpus in one transaction: the refresh
// contract is wholesale replacement, never a merge.
func (s *Store) ReplaceCandidates(ctx context.Context, cands []Candidate) error {
	if err := s.exec(ctx, "DELETE FROM candidates"); err != nil {
		return err
	}
	// Insert in chunks to stay under sqlite's bind-variable limit.
	const chunk = 500
	for start := 0; start < len(cands); start += chunk {
		end := min(start+chunk, len(cands))
		args := make([]any, 0, (end-start)*5)
		for _, c := range cands[start:end] {
			args = append(args, c.Name, c.GuideID, c.Lang, c.Source, c.SiteID)
		}
		if err := s.batchInsert(ctx,
			"INSERT INTO candidates (name, guide_id, lang, source, site_id)", 5, args, ""); err != nil {
			return err
		}
	}
	return nil
}

// ListCandidates returns the corpus in insertion order.
func (s *Store) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, guide_id, lang, source, site_id FROM candidates ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Name, &c.GuideID, &c.Lang, &c.Source, &c.SiteID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCandidates returns the corpus size.
func (s *Store) CountCandidates(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates").Scan(&n)
	return n, err
}

// ReplaceChannelCandidates overwrites one channel's ranked candidate list.
func (s *Store) ReplaceChannelCandidates(ctx context.Context, channelID string, cands []ChannelCandidate) error {
	if err := s.exec(ctx, "DELETE FROM channel_candidates WHERE channel_id = ?", channelID); err != nil {
		return err
	}
	if len(cands) == 0 {
		return nil
	}
	args := make([]any, 0, len(cands)*6)
	for i, c := range cands {
		args = append(args, channelID, i, c.GuideID, c.Source, c.SiteID, c.Lang)
	}
	return s.batchInsert(ctx,
		"INSERT INTO channel_candidates (channel_id, rank, guide_id, source, site_id, lang)", 6, args, "")
}

// ChannelCandidates returns a channel's grab candidates in rank order.
func (s *Store) ChannelCandidates(ctx context.Context, channelID string) ([]ChannelCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, rank, guide_id, source, site_id, lang
		 FROM channel_candidates WHERE channel_id = ? ORDER BY rank`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChannelCandidate
	for rows.Next() {
		var c ChannelCandidate
		if err := rows.Scan(&c.ChannelID, &c.Rank, &c.GuideID, &c.Source, &c.SiteID, &c.Lang); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
