package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/querypilot/internal/agent"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop and blocks until ctx is done
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Asker answers a chat question; *agent.Pipeline satisfies it.
type Asker interface {
	Ask(ctx context.Context, chatID, question string) (*agent.Answer, error)
}

// Reply renders the result of a question for a chat user.
func Reply(ans *agent.Answer, err error) string {
	if err != nil {
		var ee *agent.ExhaustedError
		if errors.As(err, &ee) {
			return fmt.Sprintf("I could not build a valid query plan after %d attempts.\nLast problem: %s", ee.Attempts, ee.LastError)
		}
		return "I'm having trouble reaching the database right now..."
	}
	if strings.TrimSpace(ans.Text) == "" {
		return "The query ran but produced no output."
	}
	return ans.Text
}

// Chunk splits text into pieces of at most limit runes, preferring line breaks.
func Chunk(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
