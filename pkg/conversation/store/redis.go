package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

// Redis keeps each conversation as a hash, its messages as a list of JSON
// documents and an index sorted set scored by updated_at.
type Redis struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis connects to addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromURL parses a redis:// URL.
func NewRedisFromURL(url string, opts ...RedisOption) (*Redis, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromClient(backend.NewClient(o), opts...), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "chat:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client exposes the underlying client so a Locker can share it.
func (r *Redis) Client() *backend.Client { return r.client }

func (r *Redis) convKey(id string) string { return r.prefix + "conversation:" + id }
func (r *Redis) msgsKey(id string) string { return r.prefix + "messages:" + id }
func (r *Redis) indexKey() string         { return r.prefix + "index" }

func score(t time.Time) float64 { return float64(t.UnixMicro()) }

func (r *Redis) CreateConversation(ctx context.Context, c conversation.Conversation) error {
	created, err := r.client.HSetNX(ctx, r.convKey(c.ID), "id", c.ID).Result()
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if !created {
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, r.convKey(c.ID),
			"title", c.Title,
			"created_at", formatTime(c.CreatedAt),
			"updated_at", formatTime(c.UpdatedAt),
		)
		pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score(c.UpdatedAt), Member: c.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *Redis) exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.convKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("query conversation: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) InsertMessage(ctx context.Context, id string, msg conversation.Message) error {
	ok, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("insert message: %w", conversation.ErrConversationNotFound)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.RPush(ctx, r.msgsKey(id), data)
		pipe.HSet(ctx, r.convKey(id), "updated_at", formatTime(msg.Timestamp))
		pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score(msg.Timestamp), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *Redis) Messages(ctx context.Context, id string) ([]conversation.Message, error) {
	raw, err := r.client.LRange(ctx, r.msgsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	msgs := make([]conversation.Message, 0, len(raw))
	for _, item := range raw {
		var m conversation.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *Redis) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	fields, err := r.client.HGetAll(ctx, r.convKey(id)).Result()
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	if len(fields) == 0 {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	n, err := r.client.LLen(ctx, r.msgsKey(id)).Result()
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("count messages: %w", err)
	}
	return conversation.Conversation{
		ID:           id,
		Title:        fields["title"],
		CreatedAt:    parseTime(fields["created_at"]),
		UpdatedAt:    parseTime(fields["updated_at"]),
		MessageCount: int(n),
	}, nil
}

func (r *Redis) ids(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return ids, nil
}

func (r *Redis) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}
	convs := make([]conversation.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := r.Conversation(ctx, id)
		if errors.Is(err, conversation.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	sortByUpdated(convs)
	return convs, nil
}

func (r *Redis) DeleteConversation(ctx context.Context, id string) (bool, error) {
	var deleted *backend.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, r.msgsKey(id))
		deleted = pipe.Del(ctx, r.convKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return deleted.Val() > 0, nil
}

func (r *Redis) ClearMessages(ctx context.Context, id string) error {
	ok, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return conversation.ErrConversationNotFound
	}
	if err := r.client.Del(ctx, r.msgsKey(id)).Err(); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (r *Redis) UpdateTitle(ctx context.Context, id, title string, at time.Time) error {
	ok, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return conversation.ErrConversationNotFound
	}
	_, err = r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, r.convKey(id), "title", title, "updated_at", formatTime(at))
		pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score(at), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// Search scans every conversation; Redis has no substring index.
func (r *Redis) Search(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	convs, err := r.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	hits := []conversation.SearchHit{}
	for _, c := range convs {
		msgs, err := r.Messages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if h, ok := conversation.MatchEntry(c, msgs, query); ok {
			hits = append(hits, h)
			if limit > 0 && len(hits) == limit {
				break
			}
		}
	}
	return hits, nil
}

func (r *Redis) Stats(ctx context.Context) (conversation.Stats, error) {
	st := conversation.Stats{MessagesByRole: make(map[conversation.Role]int)}
	ids, err := r.ids(ctx)
	if err != nil {
		return st, err
	}
	st.TotalConversations = len(ids)
	for _, id := range ids {
		msgs, err := r.Messages(ctx, id)
		if err != nil {
			return st, err
		}
		st.TotalMessages += len(msgs)
		for _, m := range msgs {
			st.MessagesByRole[m.Role]++
		}
	}
	return st, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ conversation.Backend = (*Redis)(nil)

// ErrLockAcquire is returned when a distributed lock cannot be taken before
// the context ends.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements conversation.DistributedLocker with SET NX PX.
type RedisLocker struct {
	client *backend.Client
	prefix string
	poll   time.Duration
}

// NewRedisLocker creates a locker on client. Keys are prefix + "lock:" + id.
func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, poll: 50 * time.Millisecond}
}

// Lock blocks until the lock is held or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (conversation.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	val := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, val).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockAcquire, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ conversation.DistributedLocker = (*RedisLocker)(nil)
