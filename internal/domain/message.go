// Package domain defines the conversation records shared across packages.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ExpertKey string    `json:"expert,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message stamped with a fresh id.
func NewMessage(role Role, content, expertKey string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		ExpertKey: expertKey,
		CreatedAt: at,
	}
}
