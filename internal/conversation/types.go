// Package conversation persists per-user conversation state and the message
// log behind the chat workflow.
package conversation

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// WorkflowContext is the durable pointer state of a conversation. It holds
// references only; all checklist and work order facts live in their own tables.
type WorkflowContext struct {
	CurrentWorkOrderID     string `json:"currentWorkOrderId,omitempty"`
	CurrentChecklistItemID string `json:"currentChecklistItemId,omitempty"`
	LastIntent             string `json:"lastIntent,omitempty"`
	LastMessageID          string `json:"lastMessageId,omitempty"`
}

// Conversation is the active conversation row for a user.
type Conversation struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Active         bool            `json:"active"`
	Context        WorkflowContext `json:"context"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Message is one logged inbound or outbound message.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversationId"`
	Direction         string    `json:"direction"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	Body              string    `json:"body"`
	MediaID           string    `json:"mediaId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
