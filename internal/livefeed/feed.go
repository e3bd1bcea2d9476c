// ABOUTME: Single shared push-channel consumer for the whole workspace
// ABOUTME: Reconciles live events into sessions; reconnects with jittered backoff

package livefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/dedupe"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/session"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 10 * time.Second
	defaultMaxRetries  = 5
	jitterCeiling      = 250 * time.Millisecond

	dedupeTTL  = 5 * time.Minute
	dedupeSize = 4096
)

// ErrClosed is returned by Run when Close was requested.
var ErrClosed = errors.New("livefeed: closed")

// Feed consumes the workspace's one push connection and reconciles
// incoming events against open sessions. Lost connections are re-dialed
// with exponential backoff plus jitter; past the retry cap the feed
// reports degraded state and the reconciliation poller carries on alone.
type Feed struct {
	url      string
	store    *session.Store
	notifier *notify.Notifier
	seen     *dedupe.Cache
	logger   *slog.Logger

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxRetries  int

	mu             sync.Mutex
	conn           *websocket.Conn
	dialing        bool
	closeRequested bool
	detached       bool
	degraded       bool
}

// New creates a feed for the given websocket URL. maxRetries <= 0 selects
// the default cap. Pass nil logger for the default.
func New(url string, store *session.Store, notifier *notify.Notifier, maxRetries int, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Feed{
		url:         url,
		store:       store,
		notifier:    notifier,
		seen:        dedupe.New(dedupeTTL, dedupeSize, 0),
		logger:      logger.With("component", "livefeed"),
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		maxRetries:  maxRetries,
	}
}

// SetBackoff overrides the reconnect timing. Test hook.
func (f *Feed) SetBackoff(base, max time.Duration) {
	f.baseBackoff = base
	f.maxBackoff = max
}

// Degraded reports whether the feed has given up reconnecting.
func (f *Feed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// Run connects and consumes frames until ctx is cancelled, Close is
// called, or the retry budget is spent.
func (f *Feed) Run(ctx context.Context) error {
	// A cancelled context must also unblock a read parked on the socket.
	stop := context.AfterFunc(ctx, f.Close)
	defer stop()

	attempt := 0
	for {
		if err := f.runnable(ctx); err != nil {
			return err
		}

		conn, err := f.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return ErrClosed
			}
			attempt++
			if attempt > f.maxRetries {
				f.markDegraded()
				return fmt.Errorf("livefeed: giving up after %d attempts: %w", attempt-1, err)
			}
			f.logger.Warn("connect failed, backing off", "attempt", attempt, "error", err)
			if !f.sleep(ctx, f.backoff(attempt)) {
				return ErrClosed
			}
			continue
		}

		if attempt > 0 || f.wasDegraded() {
			f.notifier.Publish(notify.Notice{Kind: notify.KindFeedRestored})
		}
		attempt = 0
		f.logger.Info("push channel connected", "url", f.url)

		f.readLoop(conn)

		if err := f.runnable(ctx); err != nil {
			return err
		}
		f.logger.Warn("push channel lost, reconnecting")
		attempt = 1
		if !f.sleep(ctx, f.backoff(attempt)) {
			return ErrClosed
		}
	}
}

// Close tears the feed down. Handlers are detached first so no mutation
// can land after Close returns; if a dial is still in progress the close
// of the new connection is deferred until the dial completes, preventing
// a connect-after-close race.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.detached {
		f.seen.Close()
	}
	f.detached = true
	f.closeRequested = true
	if f.dialing {
		// dial() observes closeRequested on completion and closes the
		// fresh connection immediately.
		return
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *Feed) runnable(ctx context.Context) error {
	if ctx.Err() != nil {
		f.Close()
		return ErrClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeRequested {
		return ErrClosed
	}
	return nil
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	f.mu.Lock()
	if f.closeRequested {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.dialing = true
	f.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialing = false
	if err != nil {
		return nil, err
	}
	if f.closeRequested {
		conn.Close()
		return nil, ErrClosed
	}
	f.conn = conn
	return conn, nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.apply(data)
	}
}

// apply dispatches one frame into the session store. Malformed frames are
// dropped without crashing the channel; nothing is applied once the feed
// is detached.
func (f *Feed) apply(data []byte) {
	f.mu.Lock()
	detached := f.detached
	f.mu.Unlock()
	if detached {
		return
	}

	ev, err := decodeFrame(data)
	if err != nil {
		f.logger.Debug("dropped frame", "error", err)
		return
	}

	switch ev := ev.(type) {
	case *messageEvent:
		f.applyMessage(ev)
	case *statusEvent:
		f.applyStatus(ev)
	case *alertEvent:
		f.logger.Warn("security alert", "reason", ev.Reason)
		f.notifier.RaiseBanner(ev.Message, ev.Reason)
	}
}

func (f *Feed) applyMessage(ev *messageEvent) {
	if ev.ID > 0 && f.seen.Seen(fmt.Sprintf("%d:%d", ev.ConversationID, ev.ID)) {
		f.logger.Debug("replayed event suppressed", "message_id", ev.ID)
		return
	}

	// Reuses the backend's sender/status vocabulary mapping so the two
	// channels can never disagree about a record's meaning.
	m := backend.MessageRecord{
		ID:          ev.ID,
		Sender:      ev.Sender,
		Content:     ev.Content,
		Timestamp:   ev.Timestamp,
		Status:      ev.Status,
		AIGenerated: ev.AIGenerated,
		Metadata:    ev.Metadata,
	}.Message()

	convID, ok := f.store.Resolve(ev.ConversationID, ev.Phone)
	if !ok {
		// No open window for this conversation: nothing to mutate, but
		// the operator still gets pinged.
		if m.Role == session.RoleClient {
			f.notifier.Publish(notify.Notice{
				Kind:           notify.KindNewMessage,
				ConversationID: ev.ConversationID,
				Phone:          ev.Phone,
				Text:           ev.Content,
			})
		}
		return
	}

	f.store.Merge(convID, m)
	if m.Role == session.RoleClient {
		f.notifier.Publish(notify.Notice{
			Kind:           notify.KindNewMessage,
			ConversationID: convID,
			Phone:          ev.Phone,
			Text:           ev.Content,
		})
	}
}

func (f *Feed) applyStatus(ev *statusEvent) {
	convID, ok := f.store.Resolve(0, ev.Phone)
	if !ok {
		return
	}
	status := backend.MessageRecord{Status: ev.Status}.Message().Status
	f.store.SetStatus(convID, ev.ID, status)
}

func (f *Feed) backoff(attempt int) time.Duration {
	d := f.maxBackoff
	// Shift only while it cannot overflow past the cap.
	if attempt-1 < 16 {
		if s := f.baseBackoff << (attempt - 1); s < d {
			d = s
		}
	}
	return d + rand.N(jitterCeiling)
}

func (f *Feed) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closeRequested
}

func (f *Feed) markDegraded() {
	f.mu.Lock()
	f.degraded = true
	f.mu.Unlock()
	f.notifier.Publish(notify.Notice{Kind: notify.KindFeedDegraded})
	f.logger.Error("push channel degraded, relying on reconciliation poller")
}

func (f *Feed) wasDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		f.degraded = false
		return true
	}
	return false
}
