package health

import (
	"context"
	"testing"
	"time"

	"github.com/snapetech/epgmergr/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store, *time.Time) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr := &Tracker{
		Store:                   st,
		SourceFailThreshold:     3,
		SourceCooldown:          30 * time.Minute,
		ChannelDisableThreshold: 2,
		now:                     func() time.Time { return clock },
	}
	return tr, st, &clock
}

func TestSourceBreaker(t *testing.T) {
	ctx := context.Background()
	tr, _, clock := newTestTracker(t)

	for i := 0; i < 2; i++ {
		if err := tr.RecordSource(ctx, "site-a.com", false); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if skip, _ := tr.Skippable(ctx, "site-a.com"); skip {
		t.Fatalf("skippable below threshold")
	}
	if err := tr.RecordSource(ctx, "site-a.com", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if skip, _ := tr.Skippable(ctx, "site-a.com"); !skip {
		t.Fatalf("not skippable at threshold")
	}

	// Past the cool-down the source is eligible again, counter untouched.
	*clock = clock.Add(31 * time.Minute)
	if skip, _ := tr.Skippable(ctx, "site-a.com"); skip {
		t.Fatalf("still skippable after cool-down")
	}

	// One more failure re-arms the window.
	if err := tr.RecordSource(ctx, "site-a.com", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if skip, _ := tr.Skippable(ctx, "site-a.com"); !skip {
		t.Fatalf("window not re-armed")
	}

	// A success resets everything.
	if err := tr.RecordSource(ctx, "site-a.com", true); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if skip, _ := tr.Skippable(ctx, "site-a.com"); skip {
		t.Fatalf("skippable after success")
	}
}

func TestChannelAutoDisable(t *testing.T) {
	ctx := context.Background()
	tr, st, _ := newTestTracker(t)
	if err := st.UpsertChannels(ctx, []store.Channel{{ID: "1", Name: "ESPN", Enabled: true}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if disabled, _ := tr.RecordChannel(ctx, "1", false); disabled {
		t.Fatalf("disabled on first failure")
	}
	disabled, err := tr.RecordChannel(ctx, "1", false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !disabled {
		t.Fatalf("threshold crossing did not disable")
	}
	ch, _ := st.GetChannel(ctx, "1")
	if ch.Enabled {
		t.Fatalf("lineup flag not propagated")
	}

	// Subsequent failures do not flip it again.
	if again, _ := tr.RecordChannel(ctx, "1", false); again {
		t.Fatalf("disabled twice")
	}

	// A success resets the counter and re-enables.
	if _, err := tr.RecordChannel(ctx, "1", true); err != nil {
		t.Fatalf("record success: %v", err)
	}
	st1, _ := st.GetChannelStatus(ctx, "1")
	if st1.FailCount != 0 || st1.AutoDisabled {
		t.Fatalf("status after success: %+v", st1)
	}
	ch, _ = st.GetChannel(ctx, "1")
	if !ch.Enabled {
		t.Fatalf("channel not re-enabled by success")
	}
}

func TestReenable(t *testing.T) {
	ctx := context.Background()
	tr, st, _ := newTestTracker(t)
	if err := st.UpsertChannels(ctx, []store.Channel{{ID: "1", Name: "ESPN", Enabled: true}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tr.RecordChannel(ctx, "1", false)
	tr.RecordChannel(ctx, "1", false)

	n, err := tr.Reenable(ctx, []string{"1"})
	if err != nil || n != 1 {
		t.Fatalf("reenable n=%d err=%v", n, err)
	}
	st1, _ := st.GetChannelStatus(ctx, "1")
	if st1.FailCount != 0 || st1.AutoDisabled {
		t.Fatalf("status after reenable: %+v", st1)
	}
	ch, _ := st.GetChannel(ctx, "1")
	if !ch.Enabled {
		t.Fatalf("channel still disabled")
	}
}
