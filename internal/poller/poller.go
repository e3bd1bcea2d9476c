// ABOUTME: Periodic reconciliation against the authoritative conversation list
// ABOUTME: Catches missed push events and evicts sessions for dead conversations

package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/hydrate"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/session"
)

// Lister is what the poller needs from the backend.
type Lister interface {
	ListConversations(ctx context.Context) ([]backend.ConversationSummary, error)
	ListConversationIDs(ctx context.Context) ([]int64, error)
}

// Poller periodically re-fetches the conversation summary list and
// re-hydrates open sessions whose last-message timestamp moved without the
// live channel noticing. A second, independent integrity sweep drops open
// sessions whose conversation no longer exists server-side, sparing
// sessions younger than the grace period so a just-created conversation
// is not evicted before the backend has indexed it.
type Poller struct {
	lister   Lister
	store    *session.Store
	hyd      *hydrate.Coordinator
	notifier *notify.Notifier
	logger   *slog.Logger

	interval          time.Duration
	integrityInterval time.Duration
	grace             time.Duration
	now               func() time.Time

	mu        sync.Mutex
	baselines map[int64]time.Time
}

// New creates a poller. Intervals and grace period of zero select the
// defaults (8s, 60s, 30s). Pass nil logger for the default.
func New(lister Lister, store *session.Store, hyd *hydrate.Coordinator, notifier *notify.Notifier,
	interval, integrityInterval, grace time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 8 * time.Second
	}
	if integrityInterval <= 0 {
		integrityInterval = time.Minute
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Poller{
		lister:            lister,
		store:             store,
		hyd:               hyd,
		notifier:          notifier,
		logger:            logger.With("component", "poller"),
		interval:          interval,
		integrityInterval: integrityInterval,
		grace:             grace,
		now:               time.Now,
		baselines:         make(map[int64]time.Time),
	}
}

// SetClock overrides the poller's clock. Test hook.
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// Run ticks both loops until ctx is cancelled. Failed ticks are logged
// and absorbed; the next tick simply tries again.
func (p *Poller) Run(ctx context.Context) {
	reconcile := time.NewTicker(p.interval)
	defer reconcile.Stop()
	integrity := time.NewTicker(p.integrityInterval)
	defer integrity.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			p.Reconcile(ctx)
		case <-integrity.C:
			p.SweepIntegrity(ctx)
		}
	}
}

// Reconcile fetches the summary list and re-hydrates open conversations
// whose last-message timestamp changed since the previous observation.
// The observed baseline is always advanced, session open or not, so the
// comparison never goes stale.
func (p *Poller) Reconcile(ctx context.Context) {
	summaries, err := p.lister.ListConversations(ctx)
	if err != nil {
		p.logger.Warn("reconcile poll failed", "error", err)
		return
	}

	for _, summary := range summaries {
		p.mu.Lock()
		previous, seen := p.baselines[summary.ID]
		p.baselines[summary.ID] = summary.LastMessageTime
		p.mu.Unlock()

		changed := seen && !summary.LastMessageTime.Equal(previous)
		if !changed || !p.store.Exists(summary.ID) {
			continue
		}

		p.logger.Debug("outside change detected", "conversation_id", summary.ID)
		go p.hyd.Hydrate(ctx, summary.ID)
		p.notifier.Publish(notify.Notice{
			Kind:           notify.KindConversationChanged,
			ConversationID: summary.ID,
			Text:           summary.LastMessage,
		})
	}
}

// SweepIntegrity drops open sessions whose conversation is gone
// server-side, unless the session is still within the grace period.
func (p *Poller) SweepIntegrity(ctx context.Context) {
	ids, err := p.lister.ListConversationIDs(ctx)
	if err != nil {
		p.logger.Warn("integrity sweep failed", "error", err)
		return
	}

	valid := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		valid[id] = struct{}{}
	}

	now := p.now()
	for _, sess := range p.store.List() {
		if sess.ConversationID < 0 {
			// Local draft, never indexed server-side.
			continue
		}
		if _, ok := valid[sess.ConversationID]; ok {
			continue
		}
		if now.Sub(sess.CreatedAt) < p.grace {
			continue
		}
		p.logger.Info("evicting session for deleted conversation", "conversation_id", sess.ConversationID)
		p.store.Close(sess.ConversationID)
	}
}
