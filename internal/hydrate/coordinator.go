// ABOUTME: Per-conversation fetch coordinator with an in-flight lock set
// ABOUTME: Guarantees at most one full-history fetch per conversation at a time

package hydrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quorvo/opsdesk/internal/session"
)

// HistorySource fetches the full message history for a conversation.
type HistorySource interface {
	History(ctx context.Context, conversationID int64) ([]session.Message, error)
}

// Coordinator serializes history fetches per conversation. A conversation
// id in the lock set has exactly one fetch in flight; further Hydrate
// calls for it are no-ops until the fetch resolves. Locks are released on
// success and on failure, never left dangling.
type Coordinator struct {
	store  *session.Store
	source HistorySource
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]struct{}
}

// New creates a coordinator writing into the given store. Pass nil logger
// for the default.
func New(store *session.Store, source HistorySource, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  store,
		source: source,
		logger: logger.With("component", "hydrate"),
		locks:  make(map[int64]struct{}),
	}
}

// Locked reports whether a fetch is in flight for the conversation.
func (c *Coordinator) Locked(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locks[id]
	return ok
}

// Hydrate fetches and installs the conversation's full history. Returns
// false without fetching when another hydration already holds the lock —
// hover prefetch and window-open triggers racing on the same id collapse
// into one network fetch.
//
// On success the session's messages are fully replaced (sorted ascending
// by timestamp) and its loading flag cleared. If the session was closed
// while the fetch was in flight the result is discarded. On failure the
// loading flag is cleared and the lock released so a later trigger can
// retry; nothing retries automatically.
func (c *Coordinator) Hydrate(ctx context.Context, id int64) bool {
	c.mu.Lock()
	if _, inFlight := c.locks[id]; inFlight {
		c.mu.Unlock()
		return false
	}
	c.locks[id] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.locks, id)
		c.mu.Unlock()
	}()

	msgs, err := c.source.History(ctx, id)
	if err != nil {
		c.logger.Warn("hydration failed", "conversation_id", id, "error", err)
		c.store.SetLoading(id, false)
		return true
	}

	if !c.store.ReplaceMessages(id, msgs) {
		// Window closed mid-fetch; drop the result.
		c.logger.Debug("discarding history for closed session", "conversation_id", id)
		return true
	}
	c.logger.Debug("session hydrated", "conversation_id", id, "messages", len(msgs))
	return true
}

// Sweep hydrates every session that is still waiting on its first
// history: loading, zero messages, and no fetch in flight. This reactive
// trigger is the sole hydration entry point besides explicit prefetch.
func (c *Coordinator) Sweep(ctx context.Context) {
	for _, sess := range c.store.List() {
		if !sess.IsLoading || len(sess.Messages) != 0 || c.Locked(sess.ConversationID) {
			continue
		}
		go c.Hydrate(ctx, sess.ConversationID)
	}
}
