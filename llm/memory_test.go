package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

func newTestMemory(t *testing.T, maxTokens int) *Memory {
	t.Helper()
	memory, err := NewMemory(maxTokens, "gpt-4o", utils.NewLogger(utils.LogLevelOff))
	if err != nil {
		// The token encoder loads its vocabulary on first use and needs
		// network access for that.
		t.Skipf("token encoding unavailable: %v", err)
	}
	return memory
}

func TestMemoryAddAndMessages(t *testing.T) {
	memory := newTestMemory(t, 4096)

	memory.Add(types.RoleUser, "What is the capital of France?")
	memory.Add(types.RoleAssistant, "Paris.")

	messages := memory.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	assert.Greater(t, memory.TotalTokens(), 0)
}

func TestMemoryTruncatesOldestFirst(t *testing.T) {
	memory := newTestMemory(t, 12)

	memory.Add(types.RoleUser, "first message about something quite long indeed")
	memory.Add(types.RoleAssistant, "second reply with several words in it")
	memory.Add(types.RoleUser, "third")

	messages := memory.Messages()
	require.NotEmpty(t, messages)
	// The newest message always survives truncation.
	assert.Equal(t, "third", messages[len(messages)-1].Content)
	assert.LessOrEqual(t, memory.TotalTokens(), 12)
}

func TestMemoryKeepsAtLeastOneMessage(t *testing.T) {
	memory := newTestMemory(t, 1)

	memory.Add(types.RoleUser, "a single message that is far larger than the budget allows")

	// Even an over-budget sole message is retained.
	assert.Len(t, memory.Messages(), 1)
}

func TestMemoryClear(t *testing.T) {
	memory := newTestMemory(t, 4096)

	memory.Add(types.RoleUser, "hello")
	memory.Clear()

	assert.Empty(t, memory.Messages())
	assert.Zero(t, memory.TotalTokens())
}

func TestChatSessionSend(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	client.config.MemoryOption = &config.MemoryOption{MaxTokens: 4096}

	session, err := NewChatSession(client)
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}

	mock.SetResponses(
		&providers.Response{Content: "Paris.", Done: true},
		&providers.Response{Content: "About 2.1 million.", Done: true},
	)

	first, err := session.Send(context.Background(), "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", first.Content)

	second, err := session.Send(context.Background(), "How many people live there?")
	require.NoError(t, err)
	assert.Equal(t, "About 2.1 million.", second.Content)

	// The second request carries the full remembered history.
	messages := session.Memory().Messages()
	require.Len(t, messages, 4)
	assert.Contains(t, rs.body(1), "Capital of France?")
	assert.Contains(t, rs.body(1), "Paris.")
}
