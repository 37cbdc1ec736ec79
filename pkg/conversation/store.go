package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/chat-agent/pkg/cache"
)

const (
	defaultSearchLimit = 10
	snippetLength      = 200
	defaultCacheSize   = 256
)

// entry is the cached view of one conversation. Entries are replaced, never
// mutated in place, so readers can hold on to the message slice.
type entry struct {
	conv Conversation
	msgs []Message
}

func (e entry) last() time.Time {
	if n := len(e.msgs); n > 0 {
		return e.msgs[n-1].Timestamp
	}
	return time.Time{}
}

// Store is the single owner of conversation state. Writes go to the backend
// first and then through to the cache. If a backend write fails the
// conversation is pinned in memory and served from there until the process
// exits.
type Store struct {
	backend Backend
	cache   *cache.LRU[string, entry]
	locks   *Locker
	logger  *slog.Logger
	now     func() time.Time

	cacheSize int
	cacheTTL  time.Duration
	remote    DistributedLocker

	pinMu  sync.RWMutex
	pinned map[string]entry
}

// Option configures a Store.
type Option func(*Store)

// WithCache sets the cache capacity and entry TTL. A zero TTL keeps entries
// until they are evicted.
func WithCache(capacity int, ttl time.Duration) Option {
	return func(s *Store) {
		s.cacheSize = capacity
		s.cacheTTL = ttl
	}
}

// WithLocker adds a distributed lock taken around every write.
func WithLocker(l DistributedLocker) Option {
	return func(s *Store) { s.remote = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps backend with a cache and per-conversation locking.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		cacheSize: defaultCacheSize,
		pinned:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New[string, entry](s.cacheSize, s.cacheTTL)
	s.locks = NewLocker(s.remote, s.logger)
	return s
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// DefaultTitle is the title given to conversations created without one.
func DefaultTitle(t time.Time) string {
	return "Conversation " + t.Format("2006-01-02 15:04")
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func (s *Store) lookup(id string) (entry, bool) {
	s.pinMu.RLock()
	e, ok := s.pinned[id]
	s.pinMu.RUnlock()
	if ok {
		return e, true
	}
	return s.cache.Get(id)
}

func (s *Store) isPinned(id string) bool {
	s.pinMu.RLock()
	defer s.pinMu.RUnlock()
	_, ok := s.pinned[id]
	return ok
}

// put stores e in the pinned set when the conversation is degraded and in
// the cache otherwise.
func (s *Store) put(id string, e entry) {
	s.pinMu.Lock()
	if _, ok := s.pinned[id]; ok {
		s.pinned[id] = e
		s.pinMu.Unlock()
		return
	}
	s.pinMu.Unlock()
	s.cache.Set(id, e)
}

func (s *Store) pin(id string, e entry, op string, err error) {
	s.pinMu.Lock()
	s.pinned[id] = e
	s.pinMu.Unlock()
	s.cache.Delete(id)
	s.logger.Error("conversation storage unavailable, serving from memory",
		"conversation_id", id,
		"op", op,
		"err", err,
	)
}

func (s *Store) forget(id string) {
	s.pinMu.Lock()
	delete(s.pinned, id)
	s.pinMu.Unlock()
	s.cache.Delete(id)
}

func (s *Store) newConversation(id, title string) Conversation {
	now := s.now()
	if title == "" {
		title = DefaultTitle(now)
	}
	ts := now.UTC().Truncate(time.Microsecond)
	return Conversation{ID: id, Title: title, CreatedAt: ts, UpdatedAt: ts}
}

// Create starts a new conversation and returns it. An empty title is
// replaced with DefaultTitle. On a storage failure the conversation is
// still usable from memory and the error wraps ErrStorage.
func (s *Store) Create(ctx context.Context, title string) (Conversation, error) {
	conv := s.newConversation(uuid.NewString(), title)
	err := s.locks.WithLock(ctx, conv.ID, func(ctx context.Context) error {
		return s.create(ctx, conv)
	})
	return conv, err
}

// create must be called with the conversation lock held.
func (s *Store) create(ctx context.Context, conv Conversation) error {
	e := entry{conv: conv, msgs: []Message{}}
	if err := s.backend.CreateConversation(ctx, conv); err != nil {
		s.pin(conv.ID, e, "create", err)
		return storageError("create conversation", err)
	}
	s.cache.Set(conv.ID, e)
	return nil
}

// load returns the entry for id, reading through to the backend on a miss.
// It must be called with the conversation lock held.
func (s *Store) load(ctx context.Context, id string) (entry, error) {
	if e, ok := s.lookup(id); ok {
		return e, nil
	}
	conv, err := s.backend.Conversation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return entry{}, err
		}
		return entry{}, storageError("load conversation", err)
	}
	msgs, err := s.backend.Messages(ctx, id)
	if err != nil {
		return entry{}, storageError("load messages", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	conv.MessageCount = len(msgs)
	e := entry{conv: conv, msgs: msgs}
	s.cache.Set(id, e)
	return e, nil
}

// nextTimestamp returns a timestamp strictly after prev.
func (s *Store) nextTimestamp(prev time.Time) time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	return ts
}

// Append adds msg to the conversation, creating the conversation if id is
// unknown. The stored message, with its assigned timestamp, is returned.
func (s *Store) Append(ctx context.Context, id string, msg Message) (Message, error) {
	if id == "" {
		return Message{}, errors.New("conversation id is required")
	}
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("invalid role %q", msg.Role)
	}

	err := s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		var createErr error
		e, err := s.load(ctx, id)
		if errors.Is(err, ErrConversationNotFound) {
			// create pins the entry when the backend refuses it.
			createErr = s.create(ctx, s.newConversation(id, ""))
			e, _ = s.lookup(id)
		} else if err != nil {
			return err
		}

		prev := e.last()
		if e.conv.UpdatedAt.After(prev) {
			prev = e.conv.UpdatedAt
		}
		msg.Timestamp = s.nextTimestamp(prev)

		next := e
		next.msgs = append(slices.Clip(e.msgs), msg)
		next.conv.UpdatedAt = msg.Timestamp
		next.conv.MessageCount = len(next.msgs)

		if s.isPinned(id) {
			s.put(id, next)
			if createErr != nil {
				return createErr
			}
			return storageError("append message", ErrMemoryOnly)
		}
		if err := s.backend.InsertMessage(ctx, id, msg); err != nil {
			s.pin(id, next, "append", err)
			return storageError("append message", err)
		}
		s.cache.Set(id, next)
		return nil
	})
	return msg, err
}

// Read returns the messages of a conversation in timestamp order. An
// existing conversation without messages yields an empty, non-nil slice.
func (s *Store) Read(ctx context.Context, id string) ([]Message, error) {
	if e, ok := s.lookup(id); ok {
		return slices.Clone(e.msgs), nil
	}
	var msgs []Message
	err := s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		e, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		msgs = slices.Clone(e.msgs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Get returns the conversation record.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	if e, ok := s.lookup(id); ok {
		return e.conv, nil
	}
	var conv Conversation
	err := s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		e, err := s.load(ctx, id)
		conv = e.conv
		return err
	})
	return conv, err
}

func (s *Store) pinnedEntries() []entry {
	s.pinMu.RLock()
	defer s.pinMu.RUnlock()
	out := make([]entry, 0, len(s.pinned))
	for _, e := range s.pinned {
		out = append(out, e)
	}
	return out
}

// List returns all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Conversation, error) {
	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		return nil, storageError("list conversations", err)
	}
	pinned := s.pinnedEntries()
	if len(pinned) == 0 {
		return convs, nil
	}
	byID := make(map[string]int, len(convs))
	for i, c := range convs {
		byID[c.ID] = i
	}
	for _, e := range pinned {
		if i, ok := byID[e.conv.ID]; ok {
			convs[i] = e.conv
			continue
		}
		convs = append(convs, e.conv)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// Delete removes a conversation and its messages. It reports whether the
// conversation existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		wasPinned := s.isPinned(id)
		s.forget(id)
		ok, err := s.backend.DeleteConversation(ctx, id)
		existed = ok || wasPinned
		if err != nil && !wasPinned {
			return storageError("delete conversation", err)
		}
		return nil
	})
	return existed, err
}

// Clear removes every message of a conversation but keeps its record.
func (s *Store) Clear(ctx context.Context, id string) error {
	return s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		if s.isPinned(id) {
			e, _ := s.lookup(id)
			e.msgs = []Message{}
			e.conv.MessageCount = 0
			s.put(id, e)
			return storageError("clear messages", ErrMemoryOnly)
		}
		if err := s.backend.ClearMessages(ctx, id); err != nil {
			if errors.Is(err, ErrConversationNotFound) {
				return err
			}
			return storageError("clear messages", err)
		}
		s.cache.Update(id, func(e entry) entry {
			e.msgs = []Message{}
			e.conv.MessageCount = 0
			return e
		})
		return nil
	})
}

// UpdateTitle renames a conversation and bumps its updated_at.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title must not be empty")
	}
	return s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		e, cached := s.lookup(id)
		prev := e.conv.UpdatedAt
		if e.last().After(prev) {
			prev = e.last()
		}
		at := s.nextTimestamp(prev)
		if s.isPinned(id) {
			e.conv.Title = title
			e.conv.UpdatedAt = at
			s.put(id, e)
			return storageError("update title", ErrMemoryOnly)
		}
		if err := s.backend.UpdateTitle(ctx, id, title, at); err != nil {
			if errors.Is(err, ErrConversationNotFound) {
				return err
			}
			return storageError("update title", err)
		}
		if cached {
			s.cache.Update(id, func(e entry) entry {
				e.conv.Title = title
				e.conv.UpdatedAt = at
				return e
			})
		}
		return nil
	})
}

// Search finds conversations whose title or message content contains query,
// ignoring case. Each conversation appears at most once. A limit of zero or
// less means the default of 10.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := s.backend.Search(ctx, query, limit)
	if err != nil {
		return nil, storageError("search", err)
	}
	if pinned := s.pinnedEntries(); len(pinned) > 0 {
		seen := make(map[string]int, len(hits))
		for i, h := range hits {
			seen[h.ConversationID] = i
		}
		for _, e := range pinned {
			h, ok := MatchEntry(e.conv, e.msgs, query)
			if !ok {
				continue
			}
			if i, dup := seen[h.ConversationID]; dup {
				hits[i] = h
				continue
			}
			hits = append(hits, h)
		}
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].UpdatedAt.After(hits[j].UpdatedAt)
		})
		if len(hits) > limit {
			hits = hits[:limit]
		}
	}
	for i := range hits {
		hits[i].Snippet = Snippet(hits[i].Snippet)
	}
	return hits, nil
}

// MatchEntry reports whether conv or one of its messages contains query,
// ignoring case. The snippet is the first matching message content, or
// empty when only the title matched.
func MatchEntry(conv Conversation, msgs []Message, query string) (SearchHit, bool) {
	q := strings.ToLower(query)
	hit := SearchHit{ConversationID: conv.ID, Title: conv.Title, UpdatedAt: conv.UpdatedAt}
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m.Content), q) {
			hit.Snippet = m.Content
			return hit, true
		}
	}
	if strings.Contains(strings.ToLower(conv.Title), q) {
		return hit, true
	}
	return SearchHit{}, false
}

// Snippet shortens content to at most 200 characters followed by "...".
func Snippet(content string) string {
	r := []rune(content)
	if len(r) <= snippetLength {
		return content
	}
	return string(r[:snippetLength]) + "..."
}

// Summary returns message counts for a conversation. Conversations with no
// messages report ErrConversationNotFound.
func (s *Store) Summary(ctx context.Context, id string) (Summary, error) {
	msgs, err := s.Read(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if len(msgs) == 0 {
		return Summary{}, ErrConversationNotFound
	}
	return Summarize(id, msgs), nil
}

// Stats returns totals across the store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := s.backend.Stats(ctx)
	if err != nil {
		return Stats{}, storageError("stats", err)
	}
	if st.MessagesByRole == nil {
		st.MessagesByRole = make(map[Role]int)
	}
	s.pinMu.RLock()
	st.Cached = s.cache.Len() + len(s.pinned)
	s.pinMu.RUnlock()
	return st, nil
}
