package agent

import (
	"context"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

// StartConversation creates an empty conversation. An empty title gets a
// timestamped default.
func (a *Agent) StartConversation(ctx context.Context, title string) (conversation.Conversation, error) {
	return a.store.Create(ctx, title)
}

// ListConversations returns every conversation, most recently updated first.
func (a *Agent) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	return a.store.List(ctx)
}

// Conversation returns the metadata of one conversation.
func (a *Agent) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	return a.store.Get(ctx, id)
}

// History returns the ordered messages of a conversation. Unknown ids yield
// conversation.ErrConversationNotFound; an existing empty conversation
// yields an empty slice.
func (a *Agent) History(ctx context.Context, id string) ([]conversation.Message, error) {
	return a.store.Read(ctx, id)
}

// DeleteConversation removes a conversation and reports whether it existed.
func (a *Agent) DeleteConversation(ctx context.Context, id string) (bool, error) {
	return a.store.Delete(ctx, id)
}

// ClearConversation removes every message but keeps the conversation.
func (a *Agent) ClearConversation(ctx context.Context, id string) error {
	return a.store.Clear(ctx, id)
}

// RenameConversation changes the title of a conversation.
func (a *Agent) RenameConversation(ctx context.Context, id, title string) error {
	return a.store.UpdateTitle(ctx, id, title)
}

// SearchConversations finds conversations whose title or messages contain
// query, most recently updated first.
func (a *Agent) SearchConversations(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	return a.store.Search(ctx, query, limit)
}

// Summary reports the message counts and time span of one conversation.
func (a *Agent) Summary(ctx context.Context, id string) (conversation.Summary, error) {
	return a.store.Summary(ctx, id)
}

// Stats aggregates conversation and message counts across the store.
func (a *Agent) Stats(ctx context.Context) (conversation.Stats, error) {
	return a.store.Stats(ctx)
}

// Providers lists the registered model providers.
func (a *Agent) Providers() []string {
	return a.router.Providers()
}

// DefaultModel is the model used when a turn names none.
func (a *Agent) DefaultModel() string {
	return a.router.DefaultModel()
}
