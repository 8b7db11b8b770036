package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// CapacityRule is an optional ceiling on roster size. A disabled rule means unlimited.
type CapacityRule struct {
	Enabled bool `json:"enabled"`
	MaxSize int  `json:"max_size"`
}

// Full reports whether a roster of size n has reached the ceiling.
func (c CapacityRule) Full(n int) bool {
	return c.Enabled && n >= c.MaxSize
}

type Project struct {
	ID        uuid.UUID    `json:"id"`
	Title     string       `json:"title"`
	OwnerID   uuid.UUID    `json:"owner_id"`
	Members   []uuid.UUID  `json:"members"`
	Capacity  CapacityRule `json:"capacity"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HasMember reports whether userID is on the roster. The owner is not an implicit member.
func (p *Project) HasMember(userID uuid.UUID) bool {
	return slices.Contains(p.Members, userID)
}

// CanAccess reports whether userID belongs to members ∪ {owner}.
func (p *Project) CanAccess(userID uuid.UUID) bool {
	return p.OwnerID == userID || p.HasMember(userID)
}

type TeamRole string

const (
	TeamRoleLeader TeamRole = "leader"
	TeamRoleMember TeamRole = "member"
)

// TeamSummary is a project as seen from one user's "my teams" view.
type TeamSummary struct {
	Project
	Role            TeamRole `json:"role"`
	PendingRequests int      `json:"pending_requests"`
}

// TeamDetails is the dashboard view of a project with member profiles resolved.
type TeamDetails struct {
	Project
	Owner  ProfileSummary   `json:"owner"`
	Roster []ProfileSummary `json:"roster"`
}
