// Package conversation stores conversation transcripts: an append-only,
// time-ordered message log per conversation with a durable backend and an
// in-memory read cache.
package conversation

import (
	"errors"
	"time"

	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

var (
	// ErrConversationNotFound is returned for ids that were never created or
	// have been deleted.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStorage wraps failures of the durable backend.
	ErrStorage = errors.New("conversation storage failure")
	// ErrMemoryOnly is reported, wrapped in ErrStorage, for writes to a
	// conversation that lives in memory after an earlier storage failure.
	ErrMemoryOnly = errors.New("conversation is held in memory only")
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall records one model-requested tool invocation and, once executed,
// its result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    *tools.Result  `json:"result,omitempty"`
}

// Message is one turn in a conversation. Tool messages carry the serialised
// tools.Result in Content and the id of the call they answer in ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Conversation is the metadata record of a conversation.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// SearchHit is one conversation matching a search.
type SearchHit struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	UpdatedAt      time.Time `json:"updated_at"`
	Snippet        string    `json:"content_snippet"`
}

// Summary aggregates the messages of one conversation.
type Summary struct {
	ConversationID    string    `json:"conversation_id"`
	TotalMessages     int       `json:"total_messages"`
	UserMessages      int       `json:"user_messages"`
	AssistantMessages int       `json:"assistant_messages"`
	ToolCalls         int       `json:"tool_calls"`
	StartTime         time.Time `json:"start_time"`
	LastMessage       time.Time `json:"last_message"`
}

// Stats aggregates the whole store.
type Stats struct {
	TotalConversations int          `json:"total_conversations"`
	TotalMessages      int          `json:"total_messages"`
	MessagesByRole     map[Role]int `json:"messages_by_role"`
	Cached             int          `json:"conversations_in_memory"`
}

// Summarize computes the summary of an ordered message list.
func Summarize(id string, msgs []Message) Summary {
	s := Summary{ConversationID: id, TotalMessages: len(msgs)}
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			s.UserMessages++
		case RoleAssistant:
			s.AssistantMessages++
		}
		if len(m.ToolCalls) > 0 {
			s.ToolCalls++
		}
	}
	if len(msgs) > 0 {
		s.StartTime = msgs[0].Timestamp
		s.LastMessage = msgs[len(msgs)-1].Timestamp
	}
	return s
}
