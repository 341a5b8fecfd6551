package conversation

// Package conversation provides the single source of truth for a chat session.
//
// A Manager owns an ordered sequence of messages. Insertion order is
// chronological order and is also the order in which the history is replayed
// to the model. The store is append-only, with one exception: the assistant
// message that is currently being streamed grows in place, one fragment at a
// time, via AppendAssistantFragment.

// Manager defines the interface for conversation management operations.
type Manager interface {
	// GetConversation returns a copy of the message sequence in order.
	GetConversation() Conversation
	AppendMessages(msgs ...*Message)
	// AppendAssistantFragment appends delta to the assistant message with the
	// given ID, creating and appending it when the ID is not yet present.
	AppendAssistantFragment(id NodeID, delta string)
	GetMessage(id NodeID) (*Message, bool)
	SaveToFile(filename string) error
}
