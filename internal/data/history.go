package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// historyRepo implements the conversation history repository
type historyRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates a new history repository
func NewHistoryRepo(dbPath string) (repo.HistoryRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The async writer and the reply path share one connection
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			reply TEXT NOT NULL,
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_turns_chat_created ON turns(chat_id, created_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &historyRepo{db: db}, nil
}

// SaveTurn stores one exchange
func (r *historyRepo) SaveTurn(ctx context.Context, turn *domain.Turn) error {
	isSystem := 0
	if turn.IsSystem {
		isSystem = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turns (id, chat_id, sender_name, message, reply, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.ChatID,
		turn.SenderName,
		turn.Message,
		turn.Reply,
		isSystem,
		turn.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest turns of a chat in chronological order
func (r *historyRepo) RecentTurns(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_name, message, reply, is_system, created_at
		FROM turns
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var isSystem int
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.ChatID, &t.SenderName, &t.Message, &t.Reply, &isSystem, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.IsSystem = isSystem != 0
		t.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	// Reverse to chronological order (oldest first)
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountTurns returns the number of stored turns of a chat
func (r *historyRepo) CountTurns(ctx context.Context, chatID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE chat_id = ?`, chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// Close closes the database
func (r *historyRepo) Close() error {
	return r.db.Close()
}
