// Package health keeps the rolling failure state that gates grab
// orchestration: a per-source circuit breaker with a cool-down window, and a
// per-channel failure counter that auto-disables chronically dead channels.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/snapetech/epgmergr/internal/metrics"
	"github.com/snapetech/epgmergr/internal/store"
)

type Tracker struct {
	Store *store.Store

	SourceFailThreshold     int           // consecutive failures before skipping
	SourceCooldown          time.Duration // how long a tripped source is skipped
	ChannelDisableThreshold int           // consecutive failures before auto-disable

	mu sync.Mutex // serializes read-modify-write on counters

	now func() time.Time // test hook
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// RecordSource notes one attempt against a source. Failures grow the
// consecutive counter; a success resets it.
func (t *Tracker) RecordSource(ctx context.Context, source string, ok bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.Store.GetSiteHealth(ctx, source)
	if err != nil {
		return err
	}
	now := t.clock()
	h.LastAttempt = now
	if ok {
		h.LastSuccess = now
		h.FailCount = 0
	} else {
		h.FailCount++
	}
	return t.Store.PutSiteHealth(ctx, h)
}

// Skippable reports whether a source is inside its breaker window: the
// consecutive-failure threshold has been reached and the last attempt is
// still within the cool-down. Once the window lapses the source becomes
// eligible again no matter how high its counter is, so dead sources are
// re-probed periodically instead of blacklisted forever.
func (t *Tracker) Skippable(ctx context.Context, source string) (bool, error) {
	h, err := t.Store.GetSiteHealth(ctx, source)
	if err != nil {
		return false, err
	}
	if h.FailCount < t.SourceFailThreshold {
		return false, nil
	}
	return t.clock().Sub(h.LastAttempt) < t.SourceCooldown, nil
}

// RecordChannel notes one grab outcome for a channel. A success zeroes the
// counter and clears any auto-disable; a failure increments it and, exactly
// when the threshold is crossed, disables the channel (propagated to the
// lineup's enabled flag). Returns whether this call flipped the channel off.
func (t *Tracker) RecordChannel(ctx context.Context, channelID string, ok bool) (disabled bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.Store.GetChannelStatus(ctx, channelID)
	if err != nil {
		return false, err
	}
	now := t.clock()
	if ok {
		st.FailCount = 0
		st.LastSuccess = now
		if st.AutoDisabled {
			st.AutoDisabled = false
			if err := t.Store.SetChannelEnabled(ctx, channelID, true); err != nil {
				return false, err
			}
		}
		return false, t.Store.PutChannelStatus(ctx, st)
	}
	st.FailCount++
	st.LastFailure = now
	if st.FailCount >= t.ChannelDisableThreshold && !st.AutoDisabled {
		st.AutoDisabled = true
		disabled = true
		if err := t.Store.SetChannelEnabled(ctx, channelID, false); err != nil {
			return false, err
		}
		metrics.ChannelsDisabled.Inc()
	}
	return disabled, t.Store.PutChannelStatus(ctx, st)
}

// Reenable is the explicit operator path back: counters reset and the
// channel is re-enabled without requiring a successful grab first.
func (t *Tracker) Reenable(ctx context.Context, channelIDs []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, id := range channelIDs {
		st, err := t.Store.GetChannelStatus(ctx, id)
		if err != nil {
			return n, err
		}
		st.FailCount = 0
		st.AutoDisabled = false
		if err := t.Store.PutChannelStatus(ctx, st); err != nil {
			return n, err
		}
		if err := t.Store.SetChannelEnabled(ctx, id, true); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
