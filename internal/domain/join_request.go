package domain

import (
	"time"

	"github.com/google/uuid"
)

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestAccepted JoinRequestStatus = "accepted"
	JoinRequestRejected JoinRequestStatus = "rejected"

	// JoinRequestNone is reported by status lookups when the user never asked to join.
	JoinRequestNone JoinRequestStatus = "none"
)

// JoinRequest records one user's intent to join one project. Records are never deleted.
//
// RequesterName and ProjectTitle are copied when the record is created and are
// not refreshed afterwards, so the ledger keeps the names as they were at request time.
type JoinRequest struct {
	ID            uuid.UUID         `json:"id"`
	ProjectID     uuid.UUID         `json:"project_id"`
	ProjectTitle  string            `json:"project_title"`
	OwnerID       uuid.UUID         `json:"owner_id"`
	RequesterID   uuid.UUID         `json:"requester_id"`
	RequesterName string            `json:"requester_name"`
	Status        JoinRequestStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PendingJoinRequest is a pending request enriched with the requester's current profile.
type PendingJoinRequest struct {
	JoinRequest
	Requester *ProfileSummary `json:"requester,omitempty"`
}
