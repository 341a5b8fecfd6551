package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// NodeID identifies a message within a conversation for its whole lifetime.
type NodeID uuid.UUID

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *NodeID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = NodeID(parsed)
	return nil
}

// Message represents a single turn in the conversation.
type Message struct {
	ID         NodeID    `json:"id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
		m.LastUpdate = t
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewMessage(role Role, text string, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:         NewNodeID(),
		Role:       role,
		Text:       text,
		Time:       now,
		LastUpdate: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

type Conversation []*Message

// View renders the conversation as a transcript, one message per line.
func (messages Conversation) View() string {
	sb := strings.Builder{}
	for _, message := range messages {
		sb.WriteString(message.View())
		sb.WriteString("\n")
	}

	return sb.String()
}
