// ABOUTME: Workspace-scoped context object owning all console subsystems
// ABOUTME: Optimistic mutation pipeline with debounced snapshot persistence

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/canvas"
	"github.com/quorvo/opsdesk/internal/hydrate"
	"github.com/quorvo/opsdesk/internal/livefeed"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/poller"
	"github.com/quorvo/opsdesk/internal/session"
	"github.com/quorvo/opsdesk/internal/statecache"
)

const (
	detachTimeout = 15 * time.Second
	sweepInterval = 2 * time.Second
)

// Backend is everything the workspace needs from the messaging backend.
// *backend.Client satisfies it.
type Backend interface {
	ListConversations(ctx context.Context) ([]backend.ConversationSummary, error)
	ListConversationIDs(ctx context.Context) ([]int64, error)
	GetMessages(ctx context.Context, conversationID int64) ([]backend.MessageRecord, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (backend.MessageRecord, error)
	ApproveMessage(ctx context.Context, messageID int64) error
	RejectMessage(ctx context.Context, messageID int64) error
	EditMessage(ctx context.Context, messageID int64, content string) error
	BulkDelete(ctx context.Context, messageIDs []int64) error
	ToggleAutoReply(ctx context.Context, conversationID int64) (bool, error)
	InitiateConversation(ctx context.Context, phone, name, channel string) (backend.ConversationSummary, error)
	SaveWorkspace(ctx context.Context, snap backend.WorkspaceSnapshot) error
	LoadWorkspace(ctx context.Context) (backend.WorkspaceSnapshot, error)
}

// Options tunes a workspace. Zero values select the packaged defaults.
type Options struct {
	FeedURL           string
	FeedMaxRetries    int
	SaveDebounce      time.Duration
	PollInterval      time.Duration
	IntegrityInterval time.Duration
	GracePeriod       time.Duration
	BannerDismiss     time.Duration
	// CachePath locates the local snapshot mirror; empty disables it.
	CachePath string
}

// Workspace wires the session store, hydration coordinator, live feed,
// reconciliation poller, and canvas engine into one explicitly
// constructed object. Nothing here is ambient: construction happens at
// mount, teardown when Run's context ends.
type Workspace struct {
	backend  Backend
	store    *session.Store
	engine   *canvas.Engine
	hyd      *hydrate.Coordinator
	notifier *notify.Notifier
	feed     *livefeed.Feed
	poll     *poller.Poller
	cache    *statecache.Cache
	logger   *slog.Logger

	ids      tempIDs
	debounce time.Duration

	mu        sync.Mutex
	saveTimer *time.Timer
	closed    bool
	bg        sync.WaitGroup
}

// historySource adapts the backend's history endpoint for the hydration
// coordinator.
type historySource struct {
	backend Backend
}

func (h historySource) History(ctx context.Context, conversationID int64) ([]session.Message, error) {
	records, err := h.backend.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return backend.Messages(records), nil
}

// tempIDs issues locally unique temporary message ids: time-based,
// strictly monotonic, and negative so they can never collide with a
// server identity.
type tempIDs struct {
	mu   sync.Mutex
	last int64
}

func (t *tempIDs) next() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= t.last {
		now = t.last + 1
	}
	t.last = now
	return -now
}

// New constructs a workspace around the given backend. Pass nil logger
// for the default.
func New(b Backend, opts Options, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = 1500 * time.Millisecond
	}
	if opts.BannerDismiss <= 0 {
		opts.BannerDismiss = 10 * time.Second
	}

	engine := canvas.NewEngine()
	store := session.NewStore(engine, logger)
	notifier := notify.New(opts.BannerDismiss, logger)
	hyd := hydrate.New(store, historySource{backend: b}, logger)

	w := &Workspace{
		backend:  b,
		store:    store,
		engine:   engine,
		hyd:      hyd,
		notifier: notifier,
		logger:   logger.With("component", "workspace"),
		debounce: opts.SaveDebounce,
	}

	if opts.FeedURL != "" {
		w.feed = livefeed.New(opts.FeedURL, store, notifier, opts.FeedMaxRetries, logger)
	}
	w.poll = poller.New(b, store, hyd, notifier,
		opts.PollInterval, opts.IntegrityInterval, opts.GracePeriod, logger)

	if opts.CachePath != "" {
		cache, err := statecache.Open(opts.CachePath)
		if err != nil {
			notifier.Close()
			return nil, fmt.Errorf("opening state cache: %w", err)
		}
		w.cache = cache
	}

	return w, nil
}

// Run drives the background loops until ctx is cancelled, then tears the
// workspace down: pending snapshot flushed, feed detached before close,
// subscribers released.
func (w *Workspace) Run(ctx context.Context) error {
	var loops sync.WaitGroup

	if w.feed != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := w.feed.Run(ctx); err != nil && !errors.Is(err, livefeed.ErrClosed) {
				w.logger.Error("live feed stopped", "error", err)
			}
		}()
	}

	loops.Add(1)
	go func() {
		defer loops.Done()
		w.poll.Run(ctx)
	}()

	loops.Add(1)
	go func() {
		defer loops.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.hyd.Sweep(ctx)
			}
		}
	}()

	<-ctx.Done()
	loops.Wait()
	w.Close()
	return nil
}

// Close tears the workspace down. Safe to call after Run has returned.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.saveTimer != nil {
		w.saveTimer.Stop()
		w.saveTimer = nil
	}
	w.mu.Unlock()

	// Final snapshot write before everything goes away.
	w.flush()
	w.bg.Wait()

	if w.feed != nil {
		w.feed.Close()
	}
	w.notifier.Close()
	if w.cache != nil {
		w.cache.Close()
	}
	w.logger.Debug("workspace closed")
}

// Store exposes the session store to the presentation layer.
func (w *Workspace) Store() *session.Store { return w.store }

// Canvas exposes the layout engine to the presentation layer.
func (w *Workspace) Canvas() *canvas.Engine { return w.engine }

// Notices subscribes the presentation layer to workspace notices.
func (w *Workspace) Notices(ctx context.Context) (<-chan notify.Notice, string) {
	return w.notifier.Subscribe(ctx)
}

// Degraded reports whether the live channel has given up and the poller
// is the only reconciliation path.
func (w *Workspace) Degraded() bool {
	return w.feed != nil && w.feed.Degraded()
}
