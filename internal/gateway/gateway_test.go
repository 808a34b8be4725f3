package gateway

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rahul/querypilot/internal/agent"
)

var (
	_ Messenger = (*TelegramGateway)(nil)
	_ Messenger = (*DiscordGateway)(nil)
	_ Asker     = (*agent.Pipeline)(nil)
)

func TestReply(t *testing.T) {
	assert.Equal(t, "Research has 2 people.", Reply(&agent.Answer{Text: "Research has 2 people."}, nil))
	assert.Equal(t, "The query ran but produced no output.", Reply(&agent.Answer{Text: " "}, nil))

	exhausted := &agent.ExhaustedError{Attempts: 3, LastError: "missing join"}
	reply := Reply(nil, exhausted)
	assert.Contains(t, reply, "after 3 attempts")
	assert.Contains(t, reply, "missing join")

	assert.Contains(t, Reply(nil, errors.New("dial tcp: refused")), "trouble")
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"short"}, Chunk("short", 10))

	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	chunks := Chunk(text, 10)
	assert.Equal(t, []string{"aaaaaa\n", "bbbbbb"}, chunks)

	chunks = Chunk(strings.Repeat("é", 25), 10)
	assert.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
	assert.Equal(t, strings.Repeat("é", 25), strings.Join(chunks, ""))
}
