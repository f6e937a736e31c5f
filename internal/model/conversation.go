// Package model defines the data structures exchanged with the marketplace backend
// and the events decoded from its stream.
package model

import (
	"time"
)

// Conversation represents a conversation thread owned by the backend.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount,omitempty"`
}

// ListConversationsResponse is the backend response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}
