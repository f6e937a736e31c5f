package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AttachmentPlaceholder is shown for a local echo whose only content is attachments.
const AttachmentPlaceholder = "[attachment]"

// Message is a conversation message as returned by the backend. Fields the
// client does not interpret are left out.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversationId,omitempty"`

	// Content
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Metering (assistant messages only)
	Model    *string  `json:"model,omitempty"`
	CoinCost *float64 `json:"coinCost,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// Optimistic is set on local echoes that the backend has not confirmed.
	Optimistic bool `json:"-"`
}

// ListMessagesResponse is the backend response for a conversation's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
