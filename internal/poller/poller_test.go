// ABOUTME: Tests for the reconciliation poller and integrity sweep
// ABOUTME: Covers baseline advancement, re-hydration triggers, grace-period eviction

package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/canvas"
	"github.com/quorvo/opsdesk/internal/hydrate"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/session"
)

type fakeLister struct {
	mu        sync.Mutex
	summaries []backend.ConversationSummary
	ids       []int64
	err       error
}

func (f *fakeLister) ListConversations(ctx context.Context) ([]backend.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries, f.err
}

func (f *fakeLister) ListConversationIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids, f.err
}

func (f *fakeLister) set(summaries []backend.ConversationSummary, ids []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = summaries
	f.ids = ids
}

type countingSource struct {
	fetches atomic.Int64
}

func (c *countingSource) History(ctx context.Context, id int64) ([]session.Message, error) {
	c.fetches.Add(1)
	return []session.Message{{ID: 1, Timestamp: time.Now()}}, nil
}

func newPollerFixture(t *testing.T) (*fakeLister, *session.Store, *countingSource, *Poller, <-chan notify.Notice) {
	t.Helper()
	lister := &fakeLister{}
	store := session.NewStore(canvas.NewEngine(), nil)
	src := &countingSource{}
	hyd := hydrate.New(store, src, nil)
	notifier := notify.New(time.Minute, nil)
	t.Cleanup(notifier.Close)
	ch, _ := notifier.Subscribe(t.Context())
	p := New(lister, store, hyd, notifier, 0, 0, 30*time.Second, nil)
	return lister, store, src, p, ch
}

func ts(sec int) time.Time { return time.Date(2026, 3, 1, 9, 0, sec, 0, time.UTC) }

func TestFirstObservationDoesNotTriggerHydration(t *testing.T) {
	lister, store, src, p, _ := newPollerFixture(t)
	store.Open(1, "Ada", "+1")
	lister.set([]backend.ConversationSummary{{ID: 1, LastMessageTime: ts(0)}}, nil)

	p.Reconcile(context.Background())

	assert.Equal(t, int64(0), src.fetches.Load(), "baseline seeding must not hydrate")
}

func TestChangedTimestampTriggersHydrationAndNotice(t *testing.T) {
	lister, store, src, p, ch := newPollerFixture(t)
	store.Open(1, "Ada", "+1")

	lister.set([]backend.ConversationSummary{{ID: 1, LastMessageTime: ts(0)}}, nil)
	p.Reconcile(context.Background())

	lister.set([]backend.ConversationSummary{{ID: 1, LastMessageTime: ts(5), LastMessage: "new text"}}, nil)
	p.Reconcile(context.Background())

	assert.Eventually(t, func() bool { return src.fetches.Load() == 1 },
		time.Second, time.Millisecond)

	select {
	case n := <-ch:
		assert.Equal(t, notify.KindConversationChanged, n.Kind)
		assert.Equal(t, int64(1), n.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("expected change notice")
	}
}

func TestBaselineAdvancesEvenWithoutOpenSession(t *testing.T) {
	lister, store, src, p, _ := newPollerFixture(t)

	lister.set([]backend.ConversationSummary{{ID: 2, LastMessageTime: ts(0)}}, nil)
	p.Reconcile(context.Background())
	lister.set([]backend.ConversationSummary{{ID: 2, LastMessageTime: ts(5)}}, nil)
	p.Reconcile(context.Background())

	// Now the session opens; the next tick sees the same timestamp and
	// must not treat the stale-vs-fresh comparison as a change.
	store.Open(2, "Bo", "+2")
	p.Reconcile(context.Background())
	assert.Equal(t, int64(0), src.fetches.Load())

	lister.set([]backend.ConversationSummary{{ID: 2, LastMessageTime: ts(9)}}, nil)
	p.Reconcile(context.Background())
	assert.Eventually(t, func() bool { return src.fetches.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestReconcileErrorIsAbsorbed(t *testing.T) {
	lister, store, src, p, _ := newPollerFixture(t)
	store.Open(1, "Cy", "+3")
	lister.err = errors.New("backend down")

	p.Reconcile(context.Background())
	assert.Equal(t, int64(0), src.fetches.Load())
	assert.True(t, store.Exists(1), "poll failure must not damage sessions")
}

func TestIntegritySweepEvictsDeadConversations(t *testing.T) {
	lister, store, _, p, _ := newPollerFixture(t)

	old := ts(0)
	store.SetClock(func() time.Time { return old })
	store.Open(1, "Ada", "+1")
	store.Open(2, "Bo", "+2")
	p.SetClock(func() time.Time { return old.Add(time.Minute) })

	lister.set(nil, []int64{2})
	p.SweepIntegrity(context.Background())

	assert.False(t, store.Exists(1), "conversation gone server-side is evicted")
	assert.True(t, store.Exists(2))
}

func TestIntegritySweepSparesYoungSessions(t *testing.T) {
	lister, store, _, p, _ := newPollerFixture(t)

	created := ts(0)
	store.SetClock(func() time.Time { return created })
	store.Open(1, "Ada", "+1")
	p.SetClock(func() time.Time { return created.Add(10 * time.Second) })

	lister.set(nil, []int64{})
	p.SweepIntegrity(context.Background())
	assert.True(t, store.Exists(1), "sessions inside the grace period survive")

	p.SetClock(func() time.Time { return created.Add(time.Minute) })
	p.SweepIntegrity(context.Background())
	assert.False(t, store.Exists(1))
}

func TestIntegritySweepSparesLocalDrafts(t *testing.T) {
	lister, store, _, p, _ := newPollerFixture(t)

	store.SetClock(func() time.Time { return ts(0) })
	store.Open(-1, "Draft", "+9")
	p.SetClock(func() time.Time { return ts(0).Add(time.Hour) })

	lister.set(nil, []int64{})
	p.SweepIntegrity(context.Background())
	assert.True(t, store.Exists(-1))
}

func TestIntegritySweepErrorIsAbsorbed(t *testing.T) {
	lister, store, _, p, _ := newPollerFixture(t)
	store.SetClock(func() time.Time { return ts(0) })
	store.Open(1, "Ada", "+1")
	p.SetClock(func() time.Time { return ts(0).Add(time.Hour) })
	lister.err = errors.New("boom")

	p.SweepIntegrity(context.Background())
	assert.True(t, store.Exists(1), "sweep failure must not evict anything")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := session.NewStore(canvas.NewEngine(), nil)
	hyd := hydrate.New(store, &countingSource{}, nil)
	notifier := notify.New(time.Minute, nil)
	defer notifier.Close()
	p := New(&fakeLister{}, store, hyd, notifier, time.Millisecond, time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
