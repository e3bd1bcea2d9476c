// ABOUTME: In-memory fan-out of workspace notices to presentation subscribers
// ABOUTME: Carries message arrivals, mutation failures, and the security banner

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// Kind classifies a notice.
type Kind string

const (
	// KindNewMessage announces an inbound message, whether or not a
	// session is open for its conversation.
	KindNewMessage Kind = "new_message"
	// KindConversationChanged announces that the poller detected outside
	// activity on an open conversation and re-hydration was triggered.
	KindConversationChanged Kind = "conversation_changed"
	// KindMutationFailed surfaces a send/approve/reject/edit that the
	// backend rejected after the optimistic local change was applied.
	KindMutationFailed Kind = "mutation_failed"
	// KindSecurityAlert raises the transient global banner.
	KindSecurityAlert Kind = "security_alert"
	// KindSecurityClear dismisses the banner.
	KindSecurityClear Kind = "security_clear"
	// KindFeedDegraded signals the live channel gave up reconnecting and
	// the workspace is running on the reconciliation poller alone.
	KindFeedDegraded Kind = "feed_degraded"
	// KindFeedRestored signals the live channel is connected again.
	KindFeedRestored Kind = "feed_restored"
)

// Notice is one event delivered to presentation subscribers.
type Notice struct {
	Kind           Kind
	ConversationID int64
	Phone          string
	Text           string
	Reason         string
	At             time.Time
}

// Notifier is a workspace-scoped pub/sub hub. Publish never blocks:
// notices are dropped for subscribers whose channels are full.
type Notifier struct {
	mu           sync.Mutex
	subscribers  map[string]chan Notice
	bannerTimer  *time.Timer
	dismissAfter time.Duration
	closed       bool
	logger       *slog.Logger
}

// New creates a notifier. dismissAfter controls how long a security
// banner stays up before the automatic clear. Pass nil logger for the
// default.
func New(dismissAfter time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers:  make(map[string]chan Notice),
		dismissAfter: dismissAfter,
		logger:       logger.With("component", "notify"),
	}
}

// Subscribe registers a subscriber. The subscription is removed when ctx
// is cancelled, or explicitly via Unsubscribe with the returned id.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Notice, string) {
	id := uuid.New().String()
	ch := make(chan Notice, subscriberBufferSize)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, id
	}
	n.subscribers[id] = ch
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.Unsubscribe(id)
	}()

	return ch, id
}

// Unsubscribe removes a subscription and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(ch)
	}
}

// Publish fans the notice out to every subscriber.
func (n *Notifier) Publish(notice Notice) {
	if notice.At.IsZero() {
		notice.At = time.Now()
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	targets := make([]chan Notice, 0, len(n.subscribers))
	for _, ch := range n.subscribers {
		targets = append(targets, ch)
	}
	n.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- notice:
		default:
			n.logger.Debug("dropped notice for slow subscriber", "kind", notice.Kind)
		}
	}
}

// RaiseBanner publishes a security alert and schedules the automatic
// clear. A new alert while one is showing restarts the dismiss timer.
func (n *Notifier) RaiseBanner(text, reason string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if n.bannerTimer != nil {
		n.bannerTimer.Stop()
	}
	n.bannerTimer = time.AfterFunc(n.dismissAfter, func() {
		n.Publish(Notice{Kind: KindSecurityClear})
	})
	n.mu.Unlock()

	n.Publish(Notice{Kind: KindSecurityAlert, Text: text, Reason: reason})
}

// Close shuts down the notifier and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	if n.bannerTimer != nil {
		n.bannerTimer.Stop()
	}
	for id, ch := range n.subscribers {
		close(ch)
		delete(n.subscribers, id)
	}
}
