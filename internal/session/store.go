// ABOUTME: In-memory store of open sessions; single source of truth for the workspace
// ABOUTME: All mutations are replace-by-id and re-sort messages by timestamp

package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quorvo/opsdesk/internal/canvas"
)

// Store holds every open session. It owns no timers and performs no I/O;
// the hydration coordinator, live feed, poller, and mutation pipeline all
// write into it, each mutation completing under one lock acquisition.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	active   int64
	engine   *canvas.Engine
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates an empty store backed by the given canvas engine for
// window placement and stacking. Pass nil logger for the default.
func NewStore(engine *canvas.Engine, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[int64]*Session),
		engine:   engine,
		logger:   logger.With("component", "session"),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Open creates a session for the conversation, or brings the existing one
// to the front. Either way the conversation becomes the active selection.
// Returns true when a new session was created (and needs hydration).
func (s *Store) Open(id int64, name, phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = id
	if existing, ok := s.sessions[id]; ok {
		if existing.Layout != nil {
			existing.Layout.Z = s.engine.NextZ()
		}
		return false
	}

	layout := s.engine.Place(len(s.sessions))
	s.sessions[id] = &Session{
		ConversationID: id,
		ClientName:     name,
		ClientPhone:    phone,
		Messages:       []Message{},
		IsLoading:      true,
		AutoReply:      true,
		Layout:         &layout,
		CreatedAt:      s.now(),
	}
	s.logger.Debug("session opened", "conversation_id", id)
	return true
}

// Close removes the session and clears the active selection if it pointed
// at it. Closing an unknown id is a no-op.
func (s *Store) Close(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	if s.active == id {
		s.active = 0
	}
	s.logger.Debug("session closed", "conversation_id", id)
}

// Get returns a copy of the session.
func (s *Store) Get(id int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Exists reports whether a session is open for the conversation.
func (s *Store) Exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Resolve finds an open session by conversation id, falling back to the
// client phone. The live feed uses this to route inbound events.
func (s *Store) Resolve(id int64, phone string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[id]; ok {
		return id, true
	}
	if phone != "" {
		for cid, sess := range s.sessions {
			if sess.ClientPhone == phone {
				return cid, true
			}
		}
	}
	return 0, false
}

// List returns copies of all open sessions, ordered by conversation id
// for deterministic iteration.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Active returns the active conversation id, or 0 when none is selected.
func (s *Store) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive marks the conversation as the active selection.
func (s *Store) SetActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

// BringToFront assigns the session's window the next stacking value.
func (s *Store) BringToFront(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.Layout != nil {
		sess.Layout.Z = s.engine.NextZ()
	}
}

// SetLayout replaces the session's window placement.
func (s *Store) SetLayout(id int64, l canvas.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Layout = &l
	}
}

// ReplaceMessages installs a full authoritative history for the session,
// sorted ascending by timestamp, and clears the loading flag. Returns
// false if the session is gone (closed while the fetch was in flight).
func (s *Store) ReplaceMessages(id int64, msgs []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = append([]Message(nil), msgs...)
	sortMessages(sess.Messages)
	sess.IsLoading = false
	return true
}

// SetLoading sets the session's loading flag.
func (s *Store) SetLoading(id int64, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.IsLoading = loading
	}
}

// SetThinking sets the session's automated-reply-pending flag.
func (s *Store) SetThinking(id int64, thinking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.IsThinking = thinking
	}
}

// SetAutoReply sets the session's automated responder switch.
func (s *Store) SetAutoReply(id int64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.AutoReply = enabled
	}
}

// Append adds a message to the session and re-sorts. Returns false if the
// session is gone.
func (s *Store) Append(id int64, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = append(sess.Messages, m)
	sortMessages(sess.Messages)
	return true
}

// Merge reconciles an inbound server record against the session's
// messages. An existing entry is replaced in place when it has the same
// confirmed id, or when it is still in sending state with identical text
// (the optimistic-to-confirmed merge point). Otherwise the record is
// appended. The list is re-sorted and IsThinking is derived from whether
// the record came from the client side.
func (s *Store) Merge(id int64, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}

	replaced := false
	for i := range sess.Messages {
		existing := &sess.Messages[i]
		// The id match applies to confirmed ids only; id-less frames
		// must never collide with each other on ID == 0.
		sameID := m.ID > 0 && existing.ID == m.ID
		if sameID || (existing.Status == StatusSending && existing.Text == m.Text) {
			sess.Messages[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		sess.Messages = append(sess.Messages, m)
	}
	sortMessages(sess.Messages)
	sess.IsThinking = m.Role == RoleClient
	return true
}

// Confirm resolves an optimistic sending entry: the temporary id is
// replaced with the server identity and the status moves to sent. The
// server timestamp, when non-zero, becomes authoritative for ordering.
func (s *Store) Confirm(id, tempID, serverID int64, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID != tempID {
			continue
		}
		sess.Messages[i].ID = serverID
		sess.Messages[i].Status = StatusSent
		if !ts.IsZero() {
			sess.Messages[i].Timestamp = ts
		}
		sortMessages(sess.Messages)
		return true
	}
	return false
}

// Fail marks an optimistic entry as errored. The message stays visible.
func (s *Store) Fail(id, msgID int64) bool {
	return s.SetStatus(id, msgID, StatusError)
}

// SetStatus updates one message's status. Returns false if the session or
// message is gone.
func (s *Store) SetStatus(id, msgID int64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == msgID {
			sess.Messages[i].Status = status
			return true
		}
	}
	return false
}

// SetText replaces one message's text (optimistic edit).
func (s *Store) SetText(id, msgID int64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == msgID {
			sess.Messages[i].Text = text
			return true
		}
	}
	return false
}

// Remove deletes messages by id from the session (optimistic reject /
// bulk delete). Unknown ids are ignored.
func (s *Store) Remove(id int64, msgIDs ...int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	drop := make(map[int64]struct{}, len(msgIDs))
	for _, mid := range msgIDs {
		drop[mid] = struct{}{}
	}
	kept := sess.Messages[:0]
	for _, m := range sess.Messages {
		if _, gone := drop[m.ID]; !gone {
			kept = append(kept, m)
		}
	}
	sess.Messages = kept
	return true
}

// sortMessages orders ascending by timestamp. The sort is stable so that
// equal timestamps keep their existing relative order; display order is
// always re-derived here, never from arrival order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
