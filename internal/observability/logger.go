package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeAttempt    EventType = "plan_attempt"
	EventTypeValidation EventType = "validation"
	EventTypeOutcome    EventType = "plan_outcome"
	EventTypeStep       EventType = "step"
	EventTypeCost       EventType = "cost"
	EventTypeHeartbeat  EventType = "heartbeat"
	EventTypeLLM        EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewLoggerTo writes events to w and LLM transcripts to llmLogPath.
// An empty llmLogPath disables the transcript file.
func NewLoggerTo(w io.Writer, llmLogPath string) *Logger {
	l := NewLogger()
	l.out = w
	l.llmLogPath = llmLogPath
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, "")
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": %q}", "failed to marshal event: "+err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogAttempt(ctx context.Context, attempt, max int, kind, detail string) {
	l.Log(Event{
		Type:   EventTypeAttempt,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data: map[string]any{
			"attempt": attempt,
			"max":     max,
			"result":  kind,
			"detail":  detail,
		},
	})
}

func (l *Logger) LogValidation(ctx context.Context, attempt int, valid bool, reason string) {
	l.Log(Event{
		Type:   EventTypeValidation,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data: map[string]any{
			"attempt": attempt,
			"valid":   valid,
			"reason":  reason,
		},
	})
}

func (l *Logger) LogOutcome(ctx context.Context, state string, attempts int, lastError string) {
	l.Log(Event{
		Type:   EventTypeOutcome,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data: map[string]any{
			"state":      state,
			"attempts":   attempts,
			"last_error": lastError,
		},
	})
}

func (l *Logger) LogStep(ctx context.Context, step int, queryID, status string, rows int, elapsed time.Duration, errText string) {
	data := map[string]any{
		"step":        step,
		"query_id":    queryID,
		"status":      status,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	}
	if errText != "" {
		data["error"] = errText
	}
	l.Log(Event{
		Type:   EventTypeStep,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data:   data,
	})
}

func (l *Logger) LogCost(ctx context.Context, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:   EventTypeCost,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(ctx context.Context, role string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: ChatID(ctx),
		TaskID: TaskID(ctx),
		Data: map[string]any{
			"role":       role,
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

type ctxKey int

const (
	chatIDKey ctxKey = iota
	taskIDKey
)

// WithIDs tags ctx with the chat and task identifiers carried by every event.
func WithIDs(ctx context.Context, chatID, taskID string) context.Context {
	ctx = context.WithValue(ctx, chatIDKey, chatID)
	return context.WithValue(ctx, taskIDKey, taskID)
}

func ChatID(ctx context.Context) string {
	s, _ := ctx.Value(chatIDKey).(string)
	return s
}

func TaskID(ctx context.Context) string {
	s, _ := ctx.Value(taskIDKey).(string)
	return s
}
