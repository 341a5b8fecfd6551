package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendMessagesKeepsOrder(t *testing.T) {
	manager := NewManager()

	manager.AppendMessages(
		NewMessage(RoleUser, "hi"),
		NewMessage(RoleAssistant, "hello"),
		NewMessage(RoleUser, "2+2?"),
	)

	msgs := manager.GetConversation()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, RoleUser, msgs[2].Role)
	assert.Equal(t, "2+2?", msgs[2].Text)
}

func TestAppendMessagesIgnoresDuplicateID(t *testing.T) {
	manager := NewManager()

	msg := NewMessage(RoleUser, "hi")
	manager.AppendMessages(msg)
	manager.AppendMessages(NewMessage(RoleUser, "again", WithID(msg.ID)))

	msgs := manager.GetConversation()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestAppendAssistantFragmentAccumulates(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		expected  string
	}{
		{
			name:      "single fragment",
			fragments: []string{"Hello"},
			expected:  "Hello",
		},
		{
			name:      "fragments concatenate in delivery order",
			fragments: []string{"Hel", "lo", ", ", "world"},
			expected:  "Hello, world",
		},
		{
			name:      "empty fragment is a no-op on content",
			fragments: []string{"Hello", "", "!"},
			expected:  "Hello!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(WithMessages(NewMessage(RoleUser, "hi")))

			id := NewNodeID()
			for _, fragment := range tt.fragments {
				manager.AppendAssistantFragment(id, fragment)
			}

			msgs := manager.GetConversation()
			require.Len(t, msgs, 2, "all fragments must land in a single assistant message")
			assert.Equal(t, RoleAssistant, msgs[1].Role)
			assert.Equal(t, tt.expected, msgs[1].Text)
			assert.Equal(t, id, msgs[1].ID)
		})
	}
}

func TestAppendAssistantFragmentPreservesPosition(t *testing.T) {
	manager := NewManager()
	manager.AppendMessages(NewMessage(RoleUser, "hi"))

	id := NewNodeID()
	manager.AppendAssistantFragment(id, "partial")

	// A later user message must not displace the streaming assistant message.
	manager.AppendMessages(NewMessage(RoleUser, "follow-up"))
	manager.AppendAssistantFragment(id, " answer")

	msgs := manager.GetConversation()
	require.Len(t, msgs, 3)
	assert.Equal(t, "partial answer", msgs[1].Text)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestGetConversationReturnsCopy(t *testing.T) {
	manager := NewManager(WithMessages(NewMessage(RoleUser, "hi")))

	msgs := manager.GetConversation()
	msgs[0] = NewMessage(RoleUser, "tampered")

	fresh := manager.GetConversation()
	assert.Equal(t, "hi", fresh[0].Text)
}

func TestSaveToFile(t *testing.T) {
	manager := NewManager(WithMessages(
		NewMessage(RoleUser, "hi"),
		NewMessage(RoleAssistant, "hello"),
	))

	path := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, manager.SaveToFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Conversation
	require.NoError(t, json.Unmarshal(b, &loaded))
	require.Len(t, loaded, 2)
	assert.Equal(t, "hi", loaded[0].Text)
	assert.Equal(t, RoleAssistant, loaded[1].Role)
}
