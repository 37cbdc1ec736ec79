package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Backend is the durable storage contract behind a Store. Implementations
// must return messages in timestamp order, ties broken by insertion order.
type Backend interface {
	// CreateConversation inserts the record unless one with the same id exists.
	CreateConversation(ctx context.Context, c Conversation) error
	// InsertMessage appends msg and sets the conversation's updated_at to
	// msg.Timestamp. The conversation must exist.
	InsertMessage(ctx context.Context, conversationID string, msg Message) error
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	// Conversation returns ErrConversationNotFound for unknown ids.
	Conversation(ctx context.Context, conversationID string) (Conversation, error)
	// ListConversations orders by updated_at descending.
	ListConversations(ctx context.Context) ([]Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
	// ClearMessages removes messages only; the record is left unchanged.
	ClearMessages(ctx context.Context, conversationID string) error
	UpdateTitle(ctx context.Context, conversationID, title string, at time.Time) error
	// Search matches query case-insensitively against message content or
	// title and returns at most limit conversations, most recently updated
	// first. Snippet holds the first matching message content, untruncated.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// EncodeToolCalls serialises tool calls for text columns. Nil and empty
// slices encode to "".
func EncodeToolCalls(calls []ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return "", fmt.Errorf("encode tool calls: %w", err)
	}
	return string(raw), nil
}

// DecodeToolCalls is the inverse of EncodeToolCalls.
func DecodeToolCalls(raw string) ([]ToolCall, error) {
	if raw == "" {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	return calls, nil
}
