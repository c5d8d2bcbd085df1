package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/modelflow/modelflow/core/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	message_id      TEXT    NOT NULL,
	role            TEXT    NOT NULL,
	content         TEXT    NOT NULL,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, seq);
`

type sqliteStore struct {
	pool *sqlitex.Pool
}

// NewSQLiteStore creates a Store backed by a SQLite database at path. The
// file is created if it does not exist. Use ":memory:" with a pool size of
// one for tests.
func NewSQLiteStore(path string, poolSize int) (Store, error) {
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrUnavailable, path, err)
	}

	return &sqliteStore{pool: pool}, nil
}

// Close closes the underlying connection pool. Blocks until all borrowed
// connections are returned.
func (s *sqliteStore) Close() error {
	return s.pool.Close()
}

func (s *sqliteStore) Load(ctx context.Context, conversationID string) ([]chat.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: take connection: %v", ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	var history []chat.Message
	err = sqlitex.Execute(conn,
		`SELECT message_id, role, content, seq, created_at
		   FROM messages WHERE conversation_id = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{conversationID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				history = append(history, chat.Message{
					ID:        stmt.ColumnText(0),
					Role:      chat.Role(stmt.ColumnText(1)),
					Content:   stmt.ColumnText(2),
					Seq:       stmt.ColumnInt64(3),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrUnavailable, conversationID, err)
	}
	return history, nil
}

func (s *sqliteStore) Append(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: take connection: %v", ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: begin transaction: %v", ErrUnavailable, err)
	}
	defer endTransaction(&err)

	var next int64 = 1
	err = sqlitex.Execute(conn,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{conversationID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				next = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: next seq for %s: %v", ErrUnavailable, conversationID, err)
	}

	msg.Seq = next
	err = sqlitex.Execute(conn,
		`INSERT INTO messages (conversation_id, seq, message_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				conversationID,
				msg.Seq,
				msg.ID,
				string(msg.Role),
				msg.Content,
				msg.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: append to %s: %v", ErrUnavailable, conversationID, err)
	}
	return msg, nil
}
