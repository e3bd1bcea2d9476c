// ABOUTME: Workspace operations: open/close, optimistic mutations, gestures
// ABOUTME: Snapshot persistence with trailing debounce and restore fallback

package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quorvo/opsdesk/internal/backend"
	"github.com/quorvo/opsdesk/internal/canvas"
	"github.com/quorvo/opsdesk/internal/notify"
	"github.com/quorvo/opsdesk/internal/session"
)

// OpenConversation admits a conversation into the workspace. Opening an
// already-open conversation raises its window instead of duplicating it.
// History fetch runs detached; the window renders in its loading state
// until it lands.
func (w *Workspace) OpenConversation(id int64, name, phone string) {
	created := w.store.Open(id, name, phone)
	w.markDirty()
	if !created {
		return
	}
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		w.hyd.Hydrate(ctx, id)
	}()
}

// CloseConversation removes a conversation from the workspace. Local
// state only; the conversation itself lives on at the backend.
func (w *Workspace) CloseConversation(id int64) {
	w.store.Close(id)
	w.markDirty()
}

// FocusConversation raises a window and marks it active.
func (w *Workspace) FocusConversation(id int64) {
	if !w.store.Exists(id) {
		return
	}
	w.store.BringToFront(id)
	w.store.SetActive(id)
	w.markDirty()
}

// Prefetch warms a conversation's history ahead of an expected open, for
// example on list hover. No-op if a fetch is already in flight.
func (w *Workspace) Prefetch(id int64) {
	if !w.store.Exists(id) {
		return
	}
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		w.hyd.Hydrate(ctx, id)
	}()
}

// Send appends an operator message optimistically and confirms it
// against the backend off the caller's path. The returned temporary id
// is negative and is replaced by the server identity on confirmation.
func (w *Workspace) Send(conversationID int64, text string) (int64, error) {
	if text == "" {
		return 0, errors.New("empty message")
	}
	tempID := w.ids.next()
	m := session.Message{
		ID:        tempID,
		Role:      session.RoleOperator,
		Text:      text,
		Timestamp: time.Now(),
		Status:    session.StatusSending,
	}
	if !w.store.Append(conversationID, m) {
		return 0, fmt.Errorf("conversation %d is not open", conversationID)
	}
	w.detach("send", conversationID, func(ctx context.Context) error {
		rec, err := w.backend.SendMessage(ctx, conversationID, text)
		if err != nil {
			w.store.Fail(conversationID, tempID)
			return err
		}
		// Confirm may find nothing when the live feed echoed the send
		// first; the merge already installed the server identity.
		w.store.Confirm(conversationID, tempID, rec.ID, rec.Timestamp)
		return nil
	})
	return tempID, nil
}

// Approve releases a pending automated reply. The message flips to sent
// immediately; the backend call runs detached and a failure surfaces as
// a notice rather than a rollback, since the next reconciliation pass
// restores whatever the backend says.
func (w *Workspace) Approve(conversationID, messageID int64) {
	if !w.store.SetStatus(conversationID, messageID, session.StatusSent) {
		return
	}
	w.detach("approve", conversationID, func(ctx context.Context) error {
		return w.backend.ApproveMessage(ctx, messageID)
	})
}

// Reject discards a pending automated reply. Removal is immediate and
// not rolled back on failure.
func (w *Workspace) Reject(conversationID, messageID int64) {
	if !w.store.Remove(conversationID, messageID) {
		return
	}
	w.detach("reject", conversationID, func(ctx context.Context) error {
		return w.backend.RejectMessage(ctx, messageID)
	})
}

// Edit rewrites a message's text in place.
func (w *Workspace) Edit(conversationID, messageID int64, text string) {
	if !w.store.SetText(conversationID, messageID, text) {
		return
	}
	w.detach("edit", conversationID, func(ctx context.Context) error {
		return w.backend.EditMessage(ctx, messageID, text)
	})
}

// BulkDelete removes a batch of messages from a conversation.
func (w *Workspace) BulkDelete(conversationID int64, messageIDs []int64) {
	if len(messageIDs) == 0 {
		return
	}
	if !w.store.Remove(conversationID, messageIDs...) {
		return
	}
	ids := append([]int64(nil), messageIDs...)
	w.detach("bulk_delete", conversationID, func(ctx context.Context) error {
		return w.backend.BulkDelete(ctx, ids)
	})
}

// ToggleAutoReply flips automated replies for a conversation. Draft
// conversations (negative ids) exist only locally, so the flip never
// leaves the workspace for them. For real conversations the backend is
// authoritative and the call is synchronous.
func (w *Workspace) ToggleAutoReply(ctx context.Context, conversationID int64) (bool, error) {
	sess, ok := w.store.Get(conversationID)
	if !ok {
		return false, fmt.Errorf("conversation %d is not open", conversationID)
	}
	if conversationID < 0 {
		enabled := !sess.AutoReply
		w.store.SetAutoReply(conversationID, enabled)
		return enabled, nil
	}
	enabled, err := w.backend.ToggleAutoReply(ctx, conversationID)
	if err != nil {
		return sess.AutoReply, fmt.Errorf("toggling auto-reply: %w", err)
	}
	w.store.SetAutoReply(conversationID, enabled)
	return enabled, nil
}

var chatChannels = map[string]bool{
	"whatsapp":  true,
	"email":     true,
	"instagram": true,
	"messenger": true,
}

// StartChat opens an outbound conversation with a client who has no
// active thread, then admits it into the workspace.
func (w *Workspace) StartChat(ctx context.Context, phone, name, channel string) (int64, error) {
	if !chatChannels[channel] {
		return 0, fmt.Errorf("unknown channel %q", channel)
	}
	summary, err := w.backend.InitiateConversation(ctx, phone, name, channel)
	if err != nil {
		return 0, fmt.Errorf("initiating conversation: %w", err)
	}
	if summary.ClientName == "" {
		summary.ClientName = name
	}
	if summary.ClientPhone == "" {
		summary.ClientPhone = phone
	}
	w.OpenConversation(summary.ID, summary.ClientName, summary.ClientPhone)
	return summary.ID, nil
}

// detach runs a backend mutation off the caller's path. Failures are
// logged and published so the operator sees them; state is never rolled
// back here because reconciliation restores backend authority.
func (w *Workspace) detach(op string, conversationID int64, fn func(context.Context) error) {
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			w.logger.Error("detached mutation failed",
				"op", op, "conversation_id", conversationID, "error", err)
			w.notifier.Publish(notify.Notice{
				Kind:           notify.KindMutationFailed,
				ConversationID: conversationID,
				Reason:         op,
				Text:           err.Error(),
				At:             time.Now(),
			})
		}
	}()
}

// SetMode switches between focus and canvas layout modes.
func (w *Workspace) SetMode(m canvas.Mode) {
	w.engine.SetMode(m)
	w.markDirty()
}

// BeginDrag starts moving a window. The window is raised and made
// active at gesture start.
func (w *Workspace) BeginDrag(id int64, pointerX, pointerY int) bool {
	w.store.BringToFront(id)
	w.store.SetActive(id)
	sess, ok := w.store.Get(id)
	if !ok || sess.Layout == nil {
		return false
	}
	return w.engine.BeginDrag(id, *sess.Layout, pointerX, pointerY)
}

// BeginResize starts resizing a window from its bottom-right handle.
func (w *Workspace) BeginResize(id int64) bool {
	sess, ok := w.store.Get(id)
	if !ok || sess.Layout == nil {
		return false
	}
	return w.engine.BeginResize(id, *sess.Layout)
}

// PointerMove advances an active drag or resize gesture and writes the
// resulting layout through to the session.
func (w *Workspace) PointerMove(pointerX, pointerY int) {
	id, l, ok := w.engine.PointerMove(pointerX, pointerY)
	if !ok {
		return
	}
	w.store.SetLayout(id, l)
}

// EndGesture finishes the active gesture and schedules a snapshot save.
func (w *Workspace) EndGesture() {
	w.engine.EndGesture()
	w.markDirty()
}

// snapshot captures what survives a reload: which conversations are
// open, the layout mode, and which is active.
func (w *Workspace) snapshot() backend.WorkspaceSnapshot {
	sessions := w.store.List()
	open := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		open = append(open, s.ConversationID)
	}
	return backend.WorkspaceSnapshot{
		OpenConversations:    open,
		LayoutMode:           string(w.engine.Mode()),
		ActiveConversationID: w.store.Active(),
	}
}

// markDirty schedules a snapshot save after the debounce window. Each
// call restarts the window, so a burst of mutations produces one write.
func (w *Workspace) markDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.saveTimer == nil {
		w.saveTimer = time.AfterFunc(w.debounce, w.flush)
		return
	}
	w.saveTimer.Reset(w.debounce)
}

// flush writes the current snapshot to the backend and mirrors it into
// the local cache. Failures are logged; the next dirty mark retries.
func (w *Workspace) flush() {
	snap := w.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()

	if err := w.backend.SaveWorkspace(ctx, snap); err != nil {
		w.logger.Warn("saving workspace snapshot", "error", err)
	}
	if w.cache != nil {
		blob, err := json.Marshal(snap)
		if err == nil {
			err = w.cache.Save(ctx, string(blob))
		}
		if err != nil {
			w.logger.Warn("mirroring snapshot to cache", "error", err)
		}
	}
}

// Restore rebuilds the workspace from the last saved snapshot: backend
// copy first, local cache if the backend has nothing or is unreachable.
// An unknown conversation id in the snapshot is skipped, not an error.
func (w *Workspace) Restore(ctx context.Context) error {
	snap, err := w.backend.LoadWorkspace(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			w.logger.Warn("loading workspace snapshot", "error", err)
		}
		snap, err = w.cachedSnapshot(ctx)
		if err != nil {
			return nil // nothing saved anywhere; fresh workspace
		}
	}

	if snap.LayoutMode != "" {
		w.engine.SetMode(canvas.ParseMode(snap.LayoutMode))
	}

	if len(snap.OpenConversations) == 0 {
		return nil
	}

	summaries, err := w.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations for restore: %w", err)
	}
	byID := make(map[int64]backend.ConversationSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}

	for _, id := range snap.OpenConversations {
		summary, ok := byID[id]
		if !ok {
			w.logger.Debug("skipping stale conversation in snapshot", "conversation_id", id)
			continue
		}
		w.OpenConversation(id, summary.ClientName, summary.ClientPhone)
	}
	if snap.ActiveConversationID != 0 && w.store.Exists(snap.ActiveConversationID) {
		w.store.SetActive(snap.ActiveConversationID)
	}
	return nil
}

func (w *Workspace) cachedSnapshot(ctx context.Context) (backend.WorkspaceSnapshot, error) {
	var snap backend.WorkspaceSnapshot
	if w.cache == nil {
		return snap, errors.New("no cache configured")
	}
	blob, _, err := w.cache.Load(ctx)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return snap, fmt.Errorf("decoding cached snapshot: %w", err)
	}
	w.logger.Info("restored workspace from local cache")
	return snap, nil
}
