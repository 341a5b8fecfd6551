package conversation

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ManagerImpl struct {
	ConversationID uuid.UUID

	messages []*Message
	byID     map[NodeID]*Message
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMessages(messages ...*Message) ManagerOption {
	return func(m *ManagerImpl) {
		m.AppendMessages(messages...)
	}
}

func WithConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		ConversationID: uuid.Nil,
		byID:           map[NodeID]*Message{},
	}
	for _, option := range options {
		option(ret)
	}

	if ret.ConversationID == uuid.Nil {
		ret.ConversationID = uuid.New()
	}

	return ret
}

// GetConversation returns a copy of the message slice. The messages themselves
// are shared; callers must treat them as read-only and go through the manager
// for mutations.
func (c *ManagerImpl) GetConversation() Conversation {
	ret := make(Conversation, len(c.messages))
	copy(ret, c.messages)
	return ret
}

func (c *ManagerImpl) GetMessage(id NodeID) (*Message, bool) {
	msg, ok := c.byID[id]
	return msg, ok
}

func (c *ManagerImpl) AppendMessages(messages ...*Message) {
	for _, msg := range messages {
		if _, exists := c.byID[msg.ID]; exists {
			log.Warn().
				Str("message_id", msg.ID.String()).
				Str("role", string(msg.Role)).
				Msg("Ignoring duplicate message ID on append")
			continue
		}

		c.messages = append(c.messages, msg)
		c.byID[msg.ID] = msg

		log.Trace().
			Str("conversation_id", c.ConversationID.String()).
			Str("message_id", msg.ID.String()).
			Str("role", string(msg.Role)).
			Int("message_count", len(c.messages)).
			Msg("Appended message")
	}
}

// AppendAssistantFragment grows the assistant message identified by id. The
// first fragment of a stream creates the message; subsequent fragments update
// it in place, preserving its position in the conversation.
func (c *ManagerImpl) AppendAssistantFragment(id NodeID, delta string) {
	if msg, ok := c.byID[id]; ok {
		msg.Text += delta
		msg.LastUpdate = time.Now()
		return
	}

	c.AppendMessages(NewMessage(RoleAssistant, delta, WithID(id)))
}

// SaveToFile persists the current conversation to a JSON file.
func (c *ManagerImpl) SaveToFile(s string) error {
	msgs := c.GetConversation()
	f, err := os.Create(s)
	if err != nil {
		return err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(msgs)
}
