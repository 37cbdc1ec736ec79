package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

// timeFormat has a fixed number of fractional digits so that stored UTC
// timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func init() {
	// SQLite's LOWER folds ASCII only; searches fold with Go's Unicode rules
	// like the other backends.
	sqlite.MustRegisterDeterministicScalarFunction("fold_case", 1, foldCase)
}

func foldCase(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// likePattern builds a case-insensitive LIKE pattern matching query as a
// substring. The caller compares against fold_case(column) with ESCAPE '\'.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

// SQLite is the default file-backed backend.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path, enables WAL mode and
// applies pending migrations. Use ":memory:" for a throwaway database.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps PRAGMAs in effect and avoids SQLITE_BUSY between
	// writers of different conversations.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := runMigrations(db, sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateConversation(ctx context.Context, c conversation.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLite) InsertMessage(ctx context.Context, id string, msg conversation.Message) error {
	calls, err := conversation.EncodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert message: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.Timestamp), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("insert message: %w", conversation.ErrConversationNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(msg.Role), msg.Content, calls, msg.ToolCallID, msg.ToolName, formatTime(msg.Timestamp),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (s *SQLite) Messages(ctx context.Context, id string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, tool_name, timestamp
		FROM messages
		WHERE conversation_id = ?
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
			ts          string
		)
		if err := rows.Scan(&role, &m.Content, &calls, &m.ToolCallID, &m.ToolName, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Timestamp = parseTime(ts)
		if m.ToolCalls, err = conversation.DecodeToolCalls(calls); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

const sqliteConversationColumns = `
	c.id, c.title, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`

func scanSQLiteConversation(row interface{ Scan(...any) error }) (conversation.Conversation, error) {
	var (
		c                conversation.Conversation
		created, updated string
	)
	if err := row.Scan(&c.ID, &c.Title, &created, &updated, &c.MessageCount); err != nil {
		return conversation.Conversation{}, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (s *SQLite) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteConversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	c, err := scanSQLiteConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

func (s *SQLite) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteConversationColumns+` FROM conversations c ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	convs := []conversation.Conversation{}
	for rows.Next() {
		c, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return convs, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) ClearMessages(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("query conversation: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateTitle(ctx context.Context, id, title string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.ErrConversationNotFound
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.updated_at,
			COALESCE((
				SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND fold_case(m.content) LIKE ? ESCAPE '\'
				ORDER BY m.timestamp, m.id LIMIT 1
			), '')
		FROM conversations c
		WHERE fold_case(c.title) LIKE ? ESCAPE '\'
			OR EXISTS (
				SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND fold_case(m.content) LIKE ? ESCAPE '\'
			)
		ORDER BY c.updated_at DESC, c.id
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	hits := []conversation.SearchHit{}
	for rows.Next() {
		var (
			h       conversation.SearchHit
			updated string
		)
		if err := rows.Scan(&h.ConversationID, &h.Title, &updated, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		h.UpdatedAt = parseTime(updated)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return hits, nil
}

func (s *SQLite) Stats(ctx context.Context) (conversation.Stats, error) {
	return sqlStats(ctx, s.db)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqlStats(ctx context.Context, db *sql.DB) (conversation.Stats, error) {
	st := conversation.Stats{MessagesByRole: make(map[conversation.Role]int)}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.TotalConversations); err != nil {
		return st, fmt.Errorf("count conversations: %w", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT role, COUNT(*) FROM messages GROUP BY role`)
	if err != nil {
		return st, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return st, fmt.Errorf("scan role count: %w", err)
		}
		st.MessagesByRole[conversation.Role(role)] = n
		st.TotalMessages += n
	}
	return st, rows.Err()
}

var _ conversation.Backend = (*SQLite)(nil)
