// ABOUTME: Conversion from backend wire records to session model types
// ABOUTME: Maps sender and delivery-state vocabularies at the boundary

package backend

import "github.com/quorvo/opsdesk/internal/session"

// Message converts a wire record into the session model. Backend delivery
// states collapse onto the session's status vocabulary: delivered means
// sent, failed means error.
func (r MessageRecord) Message() session.Message {
	return session.Message{
		ID:          r.ID,
		Role:        roleForSender(r.Sender),
		Text:        r.Content,
		Timestamp:   r.Timestamp,
		Status:      statusFor(r.Status),
		AIGenerated: r.AIGenerated,
		Metadata:    r.Metadata,
	}
}

// Messages converts a history batch.
func Messages(records []MessageRecord) []session.Message {
	out := make([]session.Message, len(records))
	for i, r := range records {
		out[i] = r.Message()
	}
	return out
}

func roleForSender(sender string) session.Role {
	switch sender {
	case "user", "client":
		return session.RoleClient
	case "system":
		return session.RoleSystem
	default:
		// Operator or the automated responder acting as one.
		return session.RoleOperator
	}
}

func statusFor(s string) session.Status {
	switch s {
	case "pending":
		return session.StatusPendingReview
	case "sending":
		return session.StatusSending
	case "failed", "error":
		return session.StatusError
	default:
		// sent, delivered, or anything the backend adds later.
		return session.StatusSent
	}
}
