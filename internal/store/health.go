package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SiteHealth is the rolling breaker state for one data source.
type SiteHealth struct {
	Source      string
	LastAttempt time.Time
	LastSuccess time.Time
	FailCount   int // consecutive failures
}

// ChannelStatus is the per-channel grab failure state.
type ChannelStatus struct {
	ChannelID    string
	FailCount    int // consecutive failures
	LastSuccess  time.Time
	LastFailure  time.Time
	AutoDisabled bool
}

// GrabLogEntry is one row of the append-only grab audit log.
type GrabLogEntry struct {
	ChannelID string
	Source    string
	OK        bool
	Message   string
	Programs  int
	Duration  time.Duration
	CreatedAt time.Time
}

// GetSiteHealth returns the breaker row for a source; unknown sources get a
// zero-valued row rather than an error.
func (s *Store) GetSiteHealth(ctx context.Context, source string) (SiteHealth, error) {
	h := SiteHealth{Source: source}
	var attempt, success int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_attempt, last_success, fail_count FROM site_health WHERE source = ?",
		source).Scan(&attempt, &success, &h.FailCount)
	if errors.Is(err, sql.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return h, err
	}
	h.LastAttempt = timeOrZero(attempt)
	h.LastSuccess = timeOrZero(success)
	return h, nil
}

// PutSiteHealth upserts the breaker row for a source.
func (s *Store) PutSiteHealth(ctx context.Context, h SiteHealth) error {
	return s.exec(ctx,
		`INSERT INTO site_health (source, last_attempt, last_success, fail_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET last_attempt = excluded.last_attempt,
		   last_success = excluded.last_success, fail_count = excluded.fail_count`,
		h.Source, unixOrZero(h.LastAttempt), unixOrZero(h.LastSuccess), h.FailCount)
}

// GetChannelStatus returns the grab status row for a channel; unknown
// channels get a zero-valued row.
func (s *Store) GetChannelStatus(ctx context.Context, channelID string) (ChannelStatus, error) {
	st := ChannelStatus{ChannelID: channelID}
	var success, failure int64
	err := s.db.QueryRowContext(ctx,
		"SELECT fail_count, last_success, last_failure, auto_disabled FROM channel_status WHERE channel_id = ?",
		channelID).Scan(&st.FailCount, &success, &failure, &st.AutoDisabled)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.LastSuccess = timeOrZero(success)
	st.LastFailure = timeOrZero(failure)
	return st, nil
}

// PutChannelStatus upserts the grab status row for a channel.
func (s *Store) PutChannelStatus(ctx context.Context, st ChannelStatus) error {
	return s.exec(ctx,
		`INSERT INTO channel_status (channel_id, fail_count, last_success, last_failure, auto_disabled)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET fail_count = excluded.fail_count,
		   last_success = excluded.last_success, last_failure = excluded.last_failure,
		   auto_disabled = excluded.auto_disabled`,
		st.ChannelID, st.FailCount, unixOrZero(st.LastSuccess), unixOrZero(st.LastFailure), st.AutoDisabled)
}

// AppendGrabLog inserts one audit row. The log is append-only; nothing ever
// updates or deletes rows.
func (s *Store) AppendGrabLog(ctx context.Context, e GrabLogEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.exec(ctx,
		`INSERT INTO grab_log (channel_id, source, ok, message, programs, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ChannelID, e.Source, e.OK, e.Message, e.Programs, e.Duration.Milliseconds(), created.Unix())
}

// LatestGrabStatus returns the most recent log entry per channel.
func (s *Store) LatestGrabStatus(ctx context.Context) (map[string]GrabLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, source, ok, message, programs, duration_ms, created_at
		 FROM grab_log WHERE id IN (SELECT MAX(id) FROM grab_log GROUP BY channel_id)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]GrabLogEntry{}
	for rows.Next() {
		var e GrabLogEntry
		var durMS, created int64
		if err := rows.Scan(&e.ChannelID, &e.Source, &e.OK, &e.Message, &e.Programs, &durMS, &created); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.CreatedAt = time.Unix(created, 0)
		out[e.ChannelID] = e
	}
	return out, rows.Err()
}
