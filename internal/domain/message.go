package domain

import (
	"time"

	"github.com/google/uuid"
)

// SenderSnapshot is the sender's profile as it was when the message was sent.
type SenderSnapshot struct {
	DisplayName string  `json:"display_name"`
	Username    string  `json:"username"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Message is an immutable entry in a team's chat history.
// Seq is assigned by the store and defines the order within a team.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	TeamID    uuid.UUID      `json:"team_id"`
	Seq       int64          `json:"seq"`
	SenderID  uuid.UUID      `json:"sender_id"`
	Sender    SenderSnapshot `json:"sender"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}
