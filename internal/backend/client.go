// ABOUTME: HTTP client for the messaging backend's request/response contracts
// ABOUTME: Conversation listing, history, message mutations, workspace blob

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNotFound is returned when the backend has no record for the request,
// e.g. no persisted workspace blob yet.
var ErrNotFound = errors.New("backend: not found")

const defaultTimeout = 15 * time.Second

// Client talks to the backend over JSON/HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the given base URL and bearer token. Pass nil
// logger for the default.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("component", "backend"),
	}
}

// SetHTTPClient overrides the underlying HTTP client. Test hook.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// TokenExpiry reports when the bearer token expires, from an unverified
// parse of its claims. Verification is the backend's job; this exists so
// the console can warn before calls start getting rejected.
func (c *Client) TokenExpiry() (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(c.token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

// ConversationSummary is the lightweight sidebar/poller listing record.
type ConversationSummary struct {
	ID              int64     `json:"id"`
	ClientName      string    `json:"client_name"`
	ClientPhone     string    `json:"client_phone"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	HasPending      bool      `json:"has_pending"`
	AutoReply       bool      `json:"auto_reply_enabled"`
}

// MessageRecord is a message as the backend serializes it.
type MessageRecord struct {
	ID          int64          `json:"id"`
	Sender      string         `json:"sender"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      string         `json:"status"`
	AIGenerated bool           `json:"is_ai_generated"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WorkspaceSnapshot is the persisted workspace blob: which conversations
// are open, the layout mode, and the active selection.
type WorkspaceSnapshot struct {
	OpenConversations    []int64 `json:"open_conversations"`
	LayoutMode           string  `json:"layout_mode"`
	ActiveConversationID int64   `json:"active_conversation_id"`
}

// ListConversations fetches the authoritative conversation summary list.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversationIDs fetches the set of still-valid conversation ids,
// used by the integrity sweep.
func (c *Client) ListConversationIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	if err := c.do(ctx, http.MethodGet, "/conversations/ids", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessages fetches the full message history for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID int64) ([]MessageRecord, error) {
	var out []MessageRecord
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts operator text to a conversation and returns the
// server-confirmed record (at least its id).
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (MessageRecord, error) {
	var out MessageRecord
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return MessageRecord{}, err
	}
	return out, nil
}

// ApproveMessage releases a pending automated draft for delivery.
func (c *Client) ApproveMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/approve", messageID), nil, nil)
}

// RejectMessage discards a pending automated draft.
func (c *Client) RejectMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/reject", messageID), nil, nil)
}

// EditMessage replaces a pending draft's content.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/messages/%d", messageID), body, nil)
}

// BulkDelete removes a batch of messages from a conversation.
func (c *Client) BulkDelete(ctx context.Context, messageIDs []int64) error {
	body := map[string]any{"message_ids": messageIDs, "action": "delete"}
	return c.do(ctx, http.MethodPost, "/messages/bulk", body, nil)
}

// ToggleAutoReply flips the automated responder for a conversation and
// returns the resulting state.
func (c *Client) ToggleAutoReply(ctx context.Context, conversationID int64) (bool, error) {
	var out struct {
		Enabled bool `json:"auto_reply_enabled"`
	}
	path := fmt.Sprintf("/conversations/%d/toggle-auto-reply", conversationID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

// InitiateConversation starts a new conversation on the given channel
// (whatsapp, email, instagram, messenger) and returns its summary.
func (c *Client) InitiateConversation(ctx context.Context, phone, name, channel string) (ConversationSummary, error) {
	var out ConversationSummary
	body := map[string]string{"phone_number": phone, "channel": channel}
	if name != "" {
		body["name"] = name
	}
	if err := c.do(ctx, http.MethodPost, "/conversations/initiate", body, &out); err != nil {
		return ConversationSummary{}, err
	}
	return out, nil
}

// SaveWorkspace pushes the serialized workspace snapshot. The backend
// stores the blob opaquely, so it travels as an encoded string.
func (c *Client) SaveWorkspace(ctx context.Context, snap WorkspaceSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding workspace: %w", err)
	}
	body := map[string]string{"config": string(raw)}
	return c.do(ctx, http.MethodPost, "/workspace", body, nil)
}

// LoadWorkspace fetches the persisted snapshot. Returns ErrNotFound when
// nothing has been saved yet.
func (c *Client) LoadWorkspace(ctx context.Context) (WorkspaceSnapshot, error) {
	var wrapper struct {
		Config string `json:"config"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspace", nil, &wrapper); err != nil {
		return WorkspaceSnapshot{}, err
	}
	if wrapper.Config == "" || wrapper.Config == "{}" {
		return WorkspaceSnapshot{}, ErrNotFound
	}
	var snap WorkspaceSnapshot
	if err := json.Unmarshal([]byte(wrapper.Config), &snap); err != nil {
		return WorkspaceSnapshot{}, fmt.Errorf("decoding workspace: %w", err)
	}
	return snap, nil
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do issues one JSON request. Every call carries the bearer token and a
// fresh request id for backend-side correlation.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-Id", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
