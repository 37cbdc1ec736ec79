// Package store contains the durable backends behind conversation.Store.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

type memConversation struct {
	conv conversation.Conversation
	msgs []conversation.Message
}

// Memory is a process-local backend. It is used for tests and for
// deployments that do not need transcripts to survive a restart.
type Memory struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{convs: make(map[string]*memConversation)}
}

func (m *Memory) CreateConversation(_ context.Context, c conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[c.ID]; ok {
		return nil
	}
	c.MessageCount = 0
	m.convs[c.ID] = &memConversation{conv: c}
	return nil
}

func (m *Memory) InsertMessage(_ context.Context, id string, msg conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return fmt.Errorf("insert message: %w", conversation.ErrConversationNotFound)
	}
	c.msgs = append(c.msgs, msg)
	c.conv.UpdatedAt = msg.Timestamp
	return nil
}

func (m *Memory) Messages(_ context.Context, id string) ([]conversation.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return []conversation.Message{}, nil
	}
	out := slices.Clone(c.msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) Conversation(_ context.Context, id string) (conversation.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	out := c.conv
	out.MessageCount = len(c.msgs)
	return out, nil
}

func (m *Memory) ListConversations(_ context.Context) ([]conversation.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]conversation.Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		conv := c.conv
		conv.MessageCount = len(c.msgs)
		out = append(out, conv)
	}
	sortByUpdated(out)
	return out, nil
}

func (m *Memory) DeleteConversation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return false, nil
	}
	delete(m.convs, id)
	return true, nil
}

func (m *Memory) ClearMessages(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	c.msgs = nil
	return nil
}

func (m *Memory) UpdateTitle(_ context.Context, id, title string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	c.conv.Title = title
	c.conv.UpdatedAt = at
	return nil
}

func (m *Memory) Search(_ context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []conversation.SearchHit
	for _, c := range m.convs {
		if h, ok := conversation.MatchEntry(c.conv, c.msgs, query); ok {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].UpdatedAt.After(hits[j].UpdatedAt) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Stats(_ context.Context) (conversation.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := conversation.Stats{
		TotalConversations: len(m.convs),
		MessagesByRole:     make(map[conversation.Role]int),
	}
	for _, c := range m.convs {
		st.TotalMessages += len(c.msgs)
		for _, msg := range c.msgs {
			st.MessagesByRole[msg.Role]++
		}
	}
	return st, nil
}

func (m *Memory) Close() error { return nil }

func sortByUpdated(convs []conversation.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

var _ conversation.Backend = (*Memory)(nil)
