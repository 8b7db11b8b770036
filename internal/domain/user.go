package domain

import (
	"github.com/google/uuid"
)

// ProfileSummary is the read-only slice of a user profile this service needs.
// Profiles are owned by an external collaborator.
type ProfileSummary struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Skills      []string  `json:"skills,omitempty"`
}
