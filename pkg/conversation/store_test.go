package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation/store"
)

// fixedClock returns the same instant on every call, which forces the store
// to break timestamp ties itself.
func fixedClock() time.Time {
	return time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC)
}

// tickingClock advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := fixedClock()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// flakyBackend fails writes while down is set.
type flakyBackend struct {
	*store.Memory
	mu   sync.Mutex
	down bool
}

var errUnavailable = errors.New("database unavailable")

func (f *flakyBackend) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyBackend) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *flakyBackend) CreateConversation(ctx context.Context, c conversation.Conversation) error {
	if f.isDown() {
		return errUnavailable
	}
	return f.Memory.CreateConversation(ctx, c)
}

func (f *flakyBackend) InsertMessage(ctx context.Context, id string, m conversation.Message) error {
	if f.isDown() {
		return errUnavailable
	}
	return f.Memory.InsertMessage(ctx, id, m)
}

// countingBackend records how often messages are loaded.
type countingBackend struct {
	*store.Memory
	mu    sync.Mutex
	loads int
}

func (c *countingBackend) Messages(ctx context.Context, id string) ([]conversation.Message, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.Memory.Messages(ctx, id)
}

func user(content string) conversation.Message {
	return conversation.Message{Role: conversation.RoleUser, Content: content}
}

func assistant(content string) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, Content: content}
}

func TestCreateUsesDefaultTitle(t *testing.T) {
	s := conversation.NewStore(store.NewMemory(), conversation.WithClock(fixedClock))
	conv, err := s.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Title != "Conversation 2024-05-06 07:08" {
		t.Fatalf("unexpected default title %q", conv.Title)
	}
	if conv.ID == "" {
		t.Fatal("expected a generated id")
	}
	if !conv.CreatedAt.Equal(conv.UpdatedAt) {
		t.Fatalf("created_at and updated_at should match on create: %+v", conv)
	}

	msgs, err := s.Read(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", msgs)
	}
}

func TestAppendOrderSurvivesCacheMiss(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: store.NewMemory()}
	s := conversation.NewStore(backend, conversation.WithClock(fixedClock))

	contents := []string{"one", "two", "three", "four"}
	var prev time.Time
	for i, c := range contents {
		msg := user(c)
		if i%2 == 1 {
			msg = assistant(c)
		}
		stored, err := s.Append(ctx, "conv", msg)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if !stored.Timestamp.After(prev) {
			t.Fatalf("timestamp %v not after %v", stored.Timestamp, prev)
		}
		prev = stored.Timestamp
	}

	cached, err := s.Read(ctx, "conv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// A fresh store over the same backend has a cold cache.
	cold := conversation.NewStore(backend)
	loaded, err := cold.Read(ctx, "conv")
	if err != nil {
		t.Fatalf("cold Read: %v", err)
	}
	for _, msgs := range [][]conversation.Message{cached, loaded} {
		if len(msgs) != len(contents) {
			t.Fatalf("expected %d messages, got %d", len(contents), len(msgs))
		}
		for i, m := range msgs {
			if m.Content != contents[i] {
				t.Fatalf("message %d = %q, want %q", i, m.Content, contents[i])
			}
		}
	}

	// The second read is served from the cache.
	before := backend.loads
	if _, err := cold.Read(ctx, "conv"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if backend.loads != before {
		t.Fatalf("expected cache hit, backend loaded %d more times", backend.loads-before)
	}
}

func TestReadDistinguishesMissingFromEmpty(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	if _, err := s.Read(ctx, "nope"); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	conv, _ := s.Create(ctx, "empty")
	msgs, err := s.Read(ctx, conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("Read(empty) = %v, %v", msgs, err)
	}
}

func TestReadReturnsACopy(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	if _, err := s.Append(ctx, "c", user("original")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	msgs, _ := s.Read(ctx, "c")
	msgs[0].Content = "mutated"
	again, _ := s.Read(ctx, "c")
	if again[0].Content != "original" {
		t.Fatalf("cache was mutated through a returned slice")
	}
}

func TestConcurrentAppendsAreSerialised(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	s := conversation.NewStore(backend, conversation.WithClock(fixedClock))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, "busy", user("x")); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, err := backend.Messages(ctx, "busy")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 50 {
		t.Fatalf("expected 50 durable messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestDeleteThenRead(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	conv, _ := s.Create(ctx, "doomed")
	_, _ = s.Append(ctx, conv.ID, user("hi"))

	ok, err := s.Delete(ctx, conv.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, err := s.Read(ctx, conv.ID); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	ok, err = s.Delete(ctx, conv.ID)
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v", ok, err)
	}
}

func TestClearKeepsTitleAndUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	conv, _ := s.Create(ctx, "Keep")
	_, _ = s.Append(ctx, conv.ID, user("hello"))
	before, _ := s.Get(ctx, conv.ID)

	if err := s.Clear(ctx, conv.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	msgs, err := s.Read(ctx, conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("Read after clear = %v, %v", msgs, err)
	}
	after, _ := s.Get(ctx, conv.ID)
	if after.Title != "Keep" || !after.UpdatedAt.Equal(before.UpdatedAt) || after.MessageCount != 0 {
		t.Fatalf("clear changed the record: before %+v after %+v", before, after)
	}
	if err := s.Clear(ctx, "missing"); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAndUpdateTitle(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory(), conversation.WithClock(tickingClock()))
	a, _ := s.Create(ctx, "A")
	b, _ := s.Create(ctx, "B")
	_, _ = s.Append(ctx, b.ID, user("newer"))

	convs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != b.ID || convs[0].MessageCount != 1 {
		t.Fatalf("unexpected list %+v", convs)
	}

	if err := s.UpdateTitle(ctx, a.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	convs, _ = s.List(ctx)
	if convs[0].ID != a.ID || convs[0].Title != "Renamed" {
		t.Fatalf("rename should bump updated_at: %+v", convs)
	}
	if err := s.UpdateTitle(ctx, "missing", "x"); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.UpdateTitle(ctx, a.ID, "  "); err == nil {
		t.Fatal("expected error for blank title")
	}
}

func TestSearchReturnsOneHitPerConversation(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory(), conversation.WithClock(fixedClock))

	first, _ := s.Create(ctx, "Trip")
	_, _ = s.Append(ctx, first.ID, user("What's the weather in Paris?"))
	second, _ := s.Create(ctx, "Other")
	_, _ = s.Append(ctx, second.ID, user("weather in Rome?"))
	_, _ = s.Append(ctx, second.ID, assistant("The WEATHER is sunny."))

	hits, err := s.Search(ctx, "weather", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].ConversationID != second.ID || hits[1].ConversationID != first.ID {
		t.Fatalf("hits not ordered by recency: %+v", hits)
	}
	if hits[1].Snippet != "What's the weather in Paris?" {
		t.Fatalf("unexpected snippet %q", hits[1].Snippet)
	}
}

func TestSearchTruncatesSnippet(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	long := "needle " + strings.Repeat("x", 300)
	_, _ = s.Append(ctx, "c", user(long))

	hits, err := s.Search(ctx, "NEEDLE", 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("Search = %v, %v", hits, err)
	}
	if len([]rune(hits[0].Snippet)) != 203 || !strings.HasSuffix(hits[0].Snippet, "...") {
		t.Fatalf("snippet not truncated: %d chars", len(hits[0].Snippet))
	}
	if hits[0].Snippet[:200] != long[:200] {
		t.Fatal("snippet should keep the first 200 characters")
	}
}

func TestSummaryAndStats(t *testing.T) {
	ctx := context.Background()
	s := conversation.NewStore(store.NewMemory())
	conv, _ := s.Create(ctx, "")

	if _, err := s.Summary(ctx, conv.ID); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("empty conversation summary: expected not found, got %v", err)
	}

	_, _ = s.Append(ctx, conv.ID, user("hi"))
	_, _ = s.Append(ctx, conv.ID, conversation.Message{
		Role:      conversation.RoleAssistant,
		ToolCalls: []conversation.ToolCall{{ID: "1", Name: "calculator"}},
	})
	_, _ = s.Append(ctx, conv.ID, conversation.Message{Role: conversation.RoleTool, Content: "{}", ToolCallID: "1"})
	last, _ := s.Append(ctx, conv.ID, assistant("done"))

	sum, err := s.Summary(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalMessages != 4 || sum.UserMessages != 1 || sum.AssistantMessages != 2 || sum.ToolCalls != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !sum.LastMessage.Equal(last.Timestamp) || !sum.StartTime.Before(sum.LastMessage) {
		t.Fatalf("unexpected summary times %+v", sum)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalConversations != 1 || st.TotalMessages != 4 || st.MessagesByRole[conversation.RoleTool] != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.Cached != 1 {
		t.Fatalf("expected one cached conversation, got %d", st.Cached)
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	s := conversation.NewStore(store.NewMemory())
	if _, err := s.Append(context.Background(), "", user("x")); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := s.Append(context.Background(), "c", conversation.Message{Role: "robot"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestStorageFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: store.NewMemory()}
	s := conversation.NewStore(backend, conversation.WithCache(1, 0), conversation.WithClock(tickingClock()))

	conv, err := s.Create(ctx, "Resilient")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Append(ctx, conv.ID, user("before outage")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	backend.setDown(true)
	_, err = s.Append(ctx, conv.ID, assistant("during outage"))
	if !errors.Is(err, conversation.ErrStorage) || !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}

	// Fill the single-slot cache with another conversation; the degraded one
	// must not be evicted.
	backend.setDown(false)
	if _, err := s.Append(ctx, "other", user("noise")); err != nil {
		t.Fatalf("Append other: %v", err)
	}

	msgs, err := s.Read(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "during outage" {
		t.Fatalf("memory should remain the source of truth: %+v", msgs)
	}

	// Later writes stay in memory and keep reporting it.
	if _, err := s.Append(ctx, conv.ID, user("after outage")); !errors.Is(err, conversation.ErrMemoryOnly) || !errors.Is(err, conversation.ErrStorage) {
		t.Fatalf("Append after outage: %v", err)
	}
	msgs, _ = s.Read(ctx, conv.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in memory, got %d", len(msgs))
	}

	convs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if convs[0].ID != conv.ID || convs[0].MessageCount != 3 {
		t.Fatalf("list should reflect the in-memory state: %+v", convs)
	}
}

func TestCreateDuringOutageIsStillUsable(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: store.NewMemory(), down: true}
	s := conversation.NewStore(backend)

	conv, err := s.Create(ctx, "offline")
	if !errors.Is(err, conversation.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, err := s.Append(ctx, conv.ID, user("hello")); !errors.Is(err, conversation.ErrMemoryOnly) {
		t.Fatalf("Append to degraded conversation: %v", err)
	}
	msgs, err := s.Read(ctx, conv.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Read = %v, %v", msgs, err)
	}
	hits, err := s.Search(ctx, "HELLO", 10)
	if err != nil || len(hits) != 1 || hits[0].ConversationID != conv.ID {
		t.Fatalf("degraded conversations should be searchable: %+v, %v", hits, err)
	}
}
