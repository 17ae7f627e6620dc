package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avidal-labs/docintel/llm"
)

// SQLiteSessionStore persists conversation histories across restarts.
// Messages are keyed by (session_id, seq) so reads always return them in
// append order.
type SQLiteSessionStore struct {
	db *sql.DB
}

func OpenSQLiteSessionStore(path string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	// Serialize writers at the connection level; sqlite allows one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}

	return &SQLiteSessionStore{db: db}, nil
}

var _ SessionStore = (*SQLiteSessionStore)(nil)

func (s *SQLiteSessionStore) Close() error { return s.db.Close() }

func (s *SQLiteSessionStore) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, name
		FROM session_messages
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var (
			msg       llm.Message
			toolCalls sql.NullString
			callID    sql.NullString
			name      sql.NullString
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &callID, &name); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msg.ToolCallID = callID.String
		msg.Name = name.String
		history = append(history, msg)
	}
	return history, rows.Err()
}

func (s *SQLiteSessionStore) Append(ctx context.Context, sessionID string, messages ...llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) FROM session_messages WHERE session_id = ?",
		sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("query session sequence: %w", err)
	}

	now := time.Now().Unix()
	for _, msg := range messages {
		seq++
		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			encoded, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(encoded)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_messages
				(session_id, seq, role, content, tool_calls, tool_call_id, name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, seq, msg.Role, msg.Content, toolCalls, msg.ToolCallID, msg.Name, now); err != nil {
			return fmt.Errorf("insert session message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteSessionStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM session_messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}
