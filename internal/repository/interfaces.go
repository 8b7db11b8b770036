package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
)

// Lookups return (nil, nil) when the record does not exist.

// UserRepository reads profiles owned by the account system.
type UserRepository interface {
	GetSummary(ctx context.Context, id uuid.UUID) (*domain.ProfileSummary, error)
	ListSummaries(ctx context.Context, ids []uuid.UUID) ([]domain.ProfileSummary, error)
}

type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	// ListByUser returns projects the user owns or belongs to, most recently updated first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Project, error)
	AddMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error
	UpdateCapacity(ctx context.Context, projectID uuid.UUID, rule domain.CapacityRule, at time.Time) error
}

type JoinRequestRepository interface {
	Create(ctx context.Context, req *domain.JoinRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.JoinRequest, error)
	GetByProjectAndRequester(ctx context.Context, projectID, requesterID uuid.UUID) (*domain.JoinRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JoinRequestStatus, at time.Time) error
	// ListPendingByProject returns pending requests oldest first.
	ListPendingByProject(ctx context.Context, projectID uuid.UUID) ([]domain.JoinRequest, error)
	CountPendingByProjects(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type MessageRepository interface {
	// Create persists msg and assigns msg.Seq. Seq is strictly increasing per team.
	Create(ctx context.Context, msg *domain.Message) error
	// ListByTeam returns up to limit messages with seq < before (or the newest
	// when before is nil), oldest first.
	ListByTeam(ctx context.Context, teamID uuid.UUID, before *int64, limit int) ([]domain.Message, error)
}

// TeamStores are the repositories bound to one unit of work.
type TeamStores struct {
	Projects     ProjectRepository
	JoinRequests JoinRequestRepository
}

// Transactor serializes writes to one project's roster and join requests.
type Transactor interface {
	// WithProjectLock runs fn with exclusive access to projectID. Writes made
	// through stores are committed only when fn returns nil.
	WithProjectLock(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, stores TeamStores) error) error
}
