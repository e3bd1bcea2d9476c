// ABOUTME: Wire event decoding for the push channel
// ABOUTME: Validates frames at the boundary into a tagged union before dispatch

package livefeed

import (
	"encoding/json"
	"fmt"
	"time"
)

// The push channel multiplexes three event shapes over one connection.
// Frames are decoded and validated here; anything malformed or unknown is
// rejected before it can touch session state.

// messageEvent is an inbound or echoed chat message.
type messageEvent struct {
	ID             int64
	ConversationID int64
	Sender         string
	Phone          string
	Content        string
	Timestamp      time.Time
	Status         string
	AIGenerated    bool
	Metadata       map[string]any
}

// statusEvent updates the delivery state of an existing message.
type statusEvent struct {
	ID     int64
	Phone  string
	Status string
}

// alertEvent drives the transient global security banner.
type alertEvent struct {
	Message string
	Reason  string
}

// wireFrame is the raw superset of all frame shapes.
type wireFrame struct {
	Event          string         `json:"event"`
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Phone          string         `json:"phone"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         string         `json:"status"`
	AIGenerated    bool           `json:"is_ai_generated"`
	Metadata       map[string]any `json:"metadata"`
	Message        string         `json:"message"`
	Reason         string         `json:"reason"`
}

// decodeFrame parses one frame into exactly one event type. The returned
// value is *messageEvent, *statusEvent, or *alertEvent.
func decodeFrame(data []byte) (any, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch f.Event {
	case "", "message", "new_message":
		if f.Content == "" && f.ID == 0 {
			return nil, fmt.Errorf("message frame without content or id")
		}
		ts := f.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return &messageEvent{
			ID:             f.ID,
			ConversationID: f.ConversationID,
			Sender:         f.Sender,
			Phone:          f.Phone,
			Content:        f.Content,
			Timestamp:      ts,
			Status:         f.Status,
			AIGenerated:    f.AIGenerated,
			Metadata:       f.Metadata,
		}, nil
	case "status_update", "message_status_update":
		if f.ID == 0 {
			return nil, fmt.Errorf("status frame without message id")
		}
		return &statusEvent{ID: f.ID, Phone: f.Phone, Status: f.Status}, nil
	case "security_alert":
		return &alertEvent{Message: f.Message, Reason: f.Reason}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
}
