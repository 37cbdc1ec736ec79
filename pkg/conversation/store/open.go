package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

const defaultMongoDatabase = "chat_agent"

// Open selects a backend from a database URL:
//
//	memory://
//	sqlite:///data/agent.db  (relative; sqlite:////abs/agent.db is absolute)
//	postgres://... / postgresql://...
//	mongodb://host/dbname / mongodb+srv://...
//	redis://host:6379/0
func Open(ctx context.Context, dsn string) (conversation.Backend, error) {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, found := strings.Cut(dsn, ":")
	if !found || dsn == ":memory:" {
		return NewSQLite(dsn)
	}
	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3", "file":
		return NewSQLite(sqlitePath(rest))
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn)
	case "mongodb", "mongodb+srv":
		db := defaultMongoDatabase
		if u, err := url.Parse(dsn); err == nil {
			if name := strings.Trim(u.Path, "/"); name != "" {
				db = name
			}
		}
		return NewMongo(ctx, dsn, db)
	case "redis", "rediss":
		return NewRedisFromURL(dsn)
	default:
		return nil, fmt.Errorf("unsupported database url scheme %q", scheme)
	}
}

// sqlitePath follows the SQLAlchemy convention: three slashes precede a
// relative path and four an absolute one.
func sqlitePath(rest string) string {
	switch {
	case strings.HasPrefix(rest, "///"):
		rest = rest[3:]
	case strings.HasPrefix(rest, "//"):
		rest = rest[2:]
	}
	if rest == "" || rest == ":memory:" {
		return ":memory:"
	}
	return rest
}
