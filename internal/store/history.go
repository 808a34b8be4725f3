package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/tmc/langchaingo/llms"
)

// Run is one answered (or abandoned) question. Plans are never persisted.
type Run struct {
	TaskID    string    `json:"task_id"`
	ChatID    string    `json:"chat_id"`
	Question  string    `json:"question"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT,
			chat_id TEXT,
			question TEXT,
			status TEXT,
			attempts INTEGER,
			last_error TEXT,
			steps INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.Exec(query, chatID, role, content)
	return err
}

func (h *HistoryStore) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}

		var msgRole llms.ChatMessageType
		switch role {
		case "ai":
			msgRole = llms.ChatMessageTypeAI
		case "system":
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.MessageContent{
			Role:  msgRole,
			Parts: []llms.ContentPart{llms.TextPart(content)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

// RecordRun stores the outcome of one question.
func (h *HistoryStore) RecordRun(ctx context.Context, r Run) error {
	query := `INSERT INTO runs (task_id, chat_id, question, status, attempts, last_error, steps) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := h.DB.ExecContext(ctx, query, r.TaskID, r.ChatID, r.Question, r.Status, r.Attempts, r.LastError, r.Steps)
	return err
}

// RecentRuns returns the latest runs of a chat, newest first.
func (h *HistoryStore) RecentRuns(ctx context.Context, chatID string, limit int) ([]Run, error) {
	query := `SELECT task_id, chat_id, question, status, attempts, last_error, steps, created_at
		FROM runs WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created any
		if err := rows.Scan(&r.TaskID, &r.ChatID, &r.Question, &r.Status, &r.Attempts, &r.LastError, &r.Steps, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = asTime(created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.DateTime, t)
		return parsed
	case []byte:
		parsed, _ := time.Parse(time.DateTime, string(t))
		return parsed
	}
	return time.Time{}
}
