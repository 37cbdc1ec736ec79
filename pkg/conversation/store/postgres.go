package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	timestamp       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages (conversation_id, timestamp, id);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);
`

// Postgres stores conversations in Postgres through a pgx pool.
type Postgres struct {
	DB *pgxpool.Pool
}

// NewPostgres connects to Postgres and creates the schema if needed.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping Postgres: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{DB: db}, nil
}

func (p *Postgres) CreateConversation(ctx context.Context, c conversation.Conversation) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (p *Postgres) InsertMessage(ctx context.Context, id string, msg conversation.Message) error {
	calls, err := conversation.EncodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.Timestamp, id)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("insert message: %w", conversation.ErrConversationNotFound)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, string(msg.Role), msg.Content, calls, msg.ToolCallID, msg.ToolName, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Messages(ctx context.Context, id string) ([]conversation.Message, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT role, content, tool_calls, tool_call_id, tool_name, timestamp
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var (
			m           conversation.Message
			role, calls string
		)
		if err := rows.Scan(&role, &m.Content, &calls, &m.ToolCallID, &m.ToolName, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Timestamp = m.Timestamp.UTC()
		if m.ToolCalls, err = conversation.DecodeToolCalls(calls); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

const postgresConversationColumns = `
	c.id, c.title, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`

func scanPostgresConversation(row pgx.Row) (conversation.Conversation, error) {
	var (
		c     conversation.Conversation
		count int64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &count); err != nil {
		return conversation.Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.MessageCount = int(count)
	return c, nil
}

func (p *Postgres) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := p.DB.QueryRow(ctx, `SELECT `+postgresConversationColumns+` FROM conversations c WHERE c.id = $1`, id)
	c, err := scanPostgresConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := p.DB.Query(ctx,
		`SELECT `+postgresConversationColumns+` FROM conversations c ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	convs := []conversation.Conversation{}
	for rows.Next() {
		c, err := scanPostgresConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (p *Postgres) DeleteConversation(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := pgx.BeginFunc(ctx, p.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		existed = tag.RowsAffected() > 0
		return nil
	})
	return existed, err
}

func (p *Postgres) ClearMessages(ctx context.Context, id string) error {
	var exists bool
	if err := p.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("query conversation: %w", err)
	}
	if !exists {
		return conversation.ErrConversationNotFound
	}
	if _, err := p.DB.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTitle(ctx context.Context, id, title string, at time.Time) error {
	tag, err := p.DB.Exec(ctx, `UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3`, title, at, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conversation.ErrConversationNotFound
	}
	return nil
}

func (p *Postgres) Search(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT c.id, c.title, c.updated_at,
			COALESCE((
				SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND LOWER(m.content) LIKE $1 ESCAPE '\'
				ORDER BY m.timestamp, m.id LIMIT 1
			), '')
		FROM conversations c
		WHERE LOWER(c.title) LIKE $1 ESCAPE '\'
			OR EXISTS (
				SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND LOWER(m.content) LIKE $1 ESCAPE '\'
			)
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	hits := []conversation.SearchHit{}
	for rows.Next() {
		var h conversation.SearchHit
		if err := rows.Scan(&h.ConversationID, &h.Title, &h.UpdatedAt, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		h.UpdatedAt = h.UpdatedAt.UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *Postgres) Stats(ctx context.Context) (conversation.Stats, error) {
	st := conversation.Stats{MessagesByRole: make(map[conversation.Role]int)}
	var total int64
	if err := p.DB.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return st, fmt.Errorf("count conversations: %w", err)
	}
	st.TotalConversations = int(total)

	rows, err := p.DB.Query(ctx, `SELECT role, COUNT(*) FROM messages GROUP BY role`)
	if err != nil {
		return st, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			role string
			n    int64
		)
		if err := rows.Scan(&role, &n); err != nil {
			return st, fmt.Errorf("scan role count: %w", err)
		}
		st.MessagesByRole[conversation.Role(role)] = int(n)
		st.TotalMessages += int(n)
	}
	return st, rows.Err()
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	p.DB.Close()
	return nil
}

var _ conversation.Backend = (*Postgres)(nil)
