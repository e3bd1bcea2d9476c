// ABOUTME: Session and Message models for open conversation windows
// ABOUTME: One Session per conversation; messages always ordered by timestamp

package session

import (
	"time"

	"github.com/quorvo/opsdesk/internal/canvas"
)

// Role identifies who produced a chat turn.
type Role string

const (
	RoleClient   Role = "client"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// Status tracks a message through the optimistic send pipeline and review
// queue.
type Status string

const (
	// StatusSending marks an optimistic local entry awaiting server
	// confirmation. Its ID is a locally issued temporary id.
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	// StatusPendingReview marks an automated draft awaiting operator
	// approval.
	StatusPendingReview Status = "pending_review"
	StatusError         Status = "error"
)

// Message is one chat turn within a session.
type Message struct {
	// ID is the server identity once confirmed. Before confirmation it is
	// a locally generated temporary id, always negative so it can never
	// collide with a server-assigned one.
	ID          int64
	Role        Role
	Text        string
	Timestamp   time.Time
	Status      Status
	AIGenerated bool
	// Metadata carries annotations from the automated responder
	// (intent, reasoning, confidence).
	Metadata map[string]any
}

// Temp reports whether the message still carries a local temporary id.
func (m Message) Temp() bool { return m.ID < 0 }

// Session is one open conversation window.
type Session struct {
	ConversationID int64
	ClientName     string
	ClientPhone    string
	Messages       []Message
	// IsThinking is true while an automated reply is expected for this
	// conversation.
	IsThinking bool
	// IsLoading is true until the first successful hydration.
	IsLoading bool
	// AutoReply mirrors the backend's per-conversation automated
	// responder switch.
	AutoReply bool
	// Layout is the window's canvas placement. Focus mode ignores it
	// rather than clearing it, so positions survive a mode round trip.
	Layout *canvas.Layout
	// CreatedAt guards newly opened sessions from integrity eviction
	// until the backend has indexed the conversation.
	CreatedAt time.Time
}

// clone returns a deep-enough copy for handing out of the store: callers
// may read the message slice freely without racing store mutations.
func (s *Session) clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Layout != nil {
		l := *s.Layout
		out.Layout = &l
	}
	return out
}
