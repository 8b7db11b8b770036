package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/repository"
)

// TeamService coordinates join requests and owns every change to a project's
// roster and capacity rule.
type TeamService struct {
	projects repository.ProjectRepository
	requests repository.JoinRequestRepository
	users    repository.UserRepository
	tx       repository.Transactor
	log      *slog.Logger
	metrics  *metrics.Metrics
	roster   RosterNotifier
	now      func() time.Time
}

// RosterNotifier is told when a user stops being a member of a team.
type RosterNotifier interface {
	NotifyMemberRemoved(teamID, userID uuid.UUID)
}

// utcNow is the services' clock: UTC at the precision Postgres stores, so
// a value handed out before a write equals the one read back later.
func utcNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func NewTeamService(
	projects repository.ProjectRepository,
	requests repository.JoinRequestRepository,
	users repository.UserRepository,
	tx repository.Transactor,
	log *slog.Logger,
	m *metrics.Metrics,
) *TeamService {
	return &TeamService{
		projects: projects,
		requests: requests,
		users:    users,
		tx:       tx,
		log:      log,
		metrics:  m,
		now:      utcNow,
	}
}

// SetRosterNotifier sets the listener for roster removals (optional dependency).
func (s *TeamService) SetRosterNotifier(n RosterNotifier) {
	s.roster = n
}

type CreateProjectInput struct {
	Title    string              `json:"title"`
	Capacity domain.CapacityRule `json:"capacity"`
}

type StatusResult struct {
	Status  domain.JoinRequestStatus `json:"status"`
	Request *domain.JoinRequest      `json:"request,omitempty"`
}

type TeamsOverview struct {
	Teams       []domain.TeamSummary `json:"teams"`
	LeadTeams   []domain.TeamSummary `json:"lead_teams"`
	MemberTeams []domain.TeamSummary `json:"member_teams"`
}

// CreateProject registers a project led by ownerID with an empty roster.
func (s *TeamService) CreateProject(ctx context.Context, ownerID uuid.UUID, input CreateProjectInput) (*domain.Project, error) {
	now := s.now()
	p := &domain.Project{
		ID:        uuid.New(),
		Title:     input.Title,
		OwnerID:   ownerID,
		Members:   []uuid.UUID{},
		Capacity:  input.Capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, persistenceError("creating project", err)
	}

	s.log.Info("project created", "project_id", p.ID, "owner_id", ownerID)
	return p, nil
}

// Submit files a join request, or re-opens a rejected one under the same id.
// The bool result reports whether a new record was created.
func (s *TeamService) Submit(ctx context.Context, projectID, requesterID uuid.UUID) (*domain.JoinRequest, bool, error) {
	profile, err := s.users.GetSummary(ctx, requesterID)
	if err != nil {
		return nil, false, s.fail("submit", persistenceError("loading requester profile", err))
	}

	var (
		result  *domain.JoinRequest
		created bool
	)
	err = s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		project, err := loadProject(ctx, st.Projects, projectID)
		if err != nil {
			return err
		}
		if project.CanAccess(requesterID) {
			return ErrAlreadyMember
		}

		existing, err := st.JoinRequests.GetByProjectAndRequester(ctx, projectID, requesterID)
		if err != nil {
			return persistenceError("loading join request", err)
		}

		now := s.now()
		if existing != nil {
			switch existing.Status {
			case domain.JoinRequestPending:
				return ErrAlreadyPending
			case domain.JoinRequestAccepted:
				return ErrAlreadyMember
			}

			if err := st.JoinRequests.UpdateStatus(ctx, existing.ID, domain.JoinRequestPending, now); err != nil {
				return persistenceError("reopening join request", err)
			}
			existing.Status = domain.JoinRequestPending
			existing.UpdatedAt = now
			result = existing
			return nil
		}

		req := &domain.JoinRequest{
			ID:            uuid.New(),
			ProjectID:     projectID,
			ProjectTitle:  project.Title,
			OwnerID:       project.OwnerID,
			RequesterID:   requesterID,
			RequesterName: displayName(profile),
			Status:        domain.JoinRequestPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.JoinRequests.Create(ctx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyPending
			}
			return persistenceError("creating join request", err)
		}
		result = req
		created = true
		return nil
	})
	if err != nil {
		return nil, false, s.fail("submit", err)
	}

	if created {
		s.metrics.JoinRequestTransition("submitted")
	} else {
		s.metrics.JoinRequestTransition("resubmitted")
	}
	s.log.Info("join request submitted",
		"project_id", projectID, "request_id", result.ID, "requester_id", requesterID, "created", created)
	return result, created, nil
}

// ListPending returns the project's pending requests oldest first, each with
// the requester's current profile. Only the owner may list them.
func (s *TeamService) ListPending(ctx context.Context, projectID, callerID uuid.UUID) ([]domain.PendingJoinRequest, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, s.fail("list_pending", err)
	}
	if project.OwnerID != callerID {
		return nil, s.fail("list_pending", ErrNotProjectOwner)
	}

	reqs, err := s.requests.ListPendingByProject(ctx, projectID)
	if err != nil {
		return nil, s.fail("list_pending", persistenceError("listing join requests", err))
	}

	ids := make([]uuid.UUID, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.RequesterID)
	}
	profiles, err := s.profilesByID(ctx, ids)
	if err != nil {
		return nil, s.fail("list_pending", err)
	}

	out := make([]domain.PendingJoinRequest, 0, len(reqs))
	for _, r := range reqs {
		p := domain.PendingJoinRequest{JoinRequest: r}
		if profile, ok := profiles[r.RequesterID]; ok {
			p.Requester = &profile
		}
		out = append(out, p)
	}
	return out, nil
}

// Accept admits the requester and resolves the request in one unit of work.
// Accepts on the same project are serialized, so at most one of several
// racing accepts can take the last free seat.
func (s *TeamService) Accept(ctx context.Context, projectID, requestID, callerID uuid.UUID) (*domain.Project, error) {
	var updated *domain.Project
	var requesterID uuid.UUID

	err := s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		project, req, err := s.loadPendingRequest(ctx, st, projectID, requestID, callerID)
		if err != nil {
			return err
		}

		if !project.HasMember(req.RequesterID) && project.Capacity.Full(len(project.Members)) {
			return ErrTeamFull
		}

		now := s.now()
		if err := st.JoinRequests.UpdateStatus(ctx, req.ID, domain.JoinRequestAccepted, now); err != nil {
			return persistenceError("accepting join request", err)
		}
		if err := st.Projects.AddMember(ctx, projectID, req.RequesterID, now); err != nil {
			return persistenceError("adding member", err)
		}

		updated, err = loadProject(ctx, st.Projects, projectID)
		requesterID = req.RequesterID
		return err
	})
	if err != nil {
		return nil, s.fail("accept", err)
	}

	s.metrics.JoinRequestTransition("accepted")
	s.log.Info("join request accepted",
		"project_id", projectID, "request_id", requestID, "member_id", requesterID, "members", len(updated.Members))
	return updated, nil
}

// Reject resolves a pending request without touching the roster.
func (s *TeamService) Reject(ctx context.Context, projectID, requestID, callerID uuid.UUID) error {
	err := s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		_, req, err := s.loadPendingRequest(ctx, st, projectID, requestID, callerID)
		if err != nil {
			return err
		}
		if err := st.JoinRequests.UpdateStatus(ctx, req.ID, domain.JoinRequestRejected, s.now()); err != nil {
			return persistenceError("rejecting join request", err)
		}
		return nil
	})
	if err != nil {
		return s.fail("reject", err)
	}

	s.metrics.JoinRequestTransition("rejected")
	s.log.Info("join request rejected", "project_id", projectID, "request_id", requestID)
	return nil
}

// Status reports the caller's own request state. A user who never asked to
// join gets JoinRequestNone rather than an error.
func (s *TeamService) Status(ctx context.Context, projectID, requesterID uuid.UUID) (*StatusResult, error) {
	if _, err := loadProject(ctx, s.projects, projectID); err != nil {
		return nil, s.fail("status", err)
	}

	req, err := s.requests.GetByProjectAndRequester(ctx, projectID, requesterID)
	if err != nil {
		return nil, s.fail("status", persistenceError("loading join request", err))
	}
	if req == nil {
		return &StatusResult{Status: domain.JoinRequestNone}, nil
	}
	return &StatusResult{Status: req.Status, Request: req}, nil
}

// RemoveMember drops memberID from the roster. The member's accepted request
// stays accepted as a record of what happened.
func (s *TeamService) RemoveMember(ctx context.Context, projectID, memberID, callerID uuid.UUID) (*domain.Project, error) {
	var updated *domain.Project
	err := s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		project, err := loadProject(ctx, st.Projects, projectID)
		if err != nil {
			return err
		}
		if project.OwnerID != callerID {
			return ErrNotProjectOwner
		}
		if memberID == project.OwnerID {
			return ErrCannotRemoveLead
		}
		if !project.HasMember(memberID) {
			return ErrNotMember
		}

		if err := st.Projects.RemoveMember(ctx, projectID, memberID, s.now()); err != nil {
			return persistenceError("removing member", err)
		}
		updated, err = loadProject(ctx, st.Projects, projectID)
		return err
	})
	if err != nil {
		return nil, s.fail("remove_member", err)
	}

	s.metrics.JoinRequestTransition("removed")
	s.log.Info("member removed", "project_id", projectID, "member_id", memberID)
	s.notifyRemoved(projectID, memberID)
	return updated, nil
}

// Leave takes the caller off the roster. The owner cannot leave.
func (s *TeamService) Leave(ctx context.Context, projectID, callerID uuid.UUID) (*domain.Project, error) {
	var updated *domain.Project
	err := s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		project, err := loadProject(ctx, st.Projects, projectID)
		if err != nil {
			return err
		}
		if project.OwnerID == callerID {
			return ErrOwnerCannotLeave
		}
		if !project.HasMember(callerID) {
			return ErrNotMember
		}

		if err := st.Projects.RemoveMember(ctx, projectID, callerID, s.now()); err != nil {
			return persistenceError("leaving team", err)
		}
		updated, err = loadProject(ctx, st.Projects, projectID)
		return err
	})
	if err != nil {
		return nil, s.fail("leave", err)
	}

	s.metrics.JoinRequestTransition("left")
	s.log.Info("member left", "project_id", projectID, "member_id", callerID)
	s.notifyRemoved(projectID, callerID)
	return updated, nil
}

func (s *TeamService) notifyRemoved(projectID, userID uuid.UUID) {
	if s.roster != nil {
		s.roster.NotifyMemberRemoved(projectID, userID)
	}
}

// MyTeams lists the projects userID leads or belongs to. Pending counts are
// computed from the ledger on every call.
func (s *TeamService) MyTeams(ctx context.Context, userID uuid.UUID) (*TeamsOverview, error) {
	projects, err := s.projects.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.fail("my_teams", persistenceError("listing teams", err))
	}

	var led []uuid.UUID
	for _, p := range projects {
		if p.OwnerID == userID {
			led = append(led, p.ID)
		}
	}
	counts, err := s.requests.CountPendingByProjects(ctx, led)
	if err != nil {
		return nil, s.fail("my_teams", persistenceError("counting join requests", err))
	}

	out := &TeamsOverview{
		Teams:       []domain.TeamSummary{},
		LeadTeams:   []domain.TeamSummary{},
		MemberTeams: []domain.TeamSummary{},
	}
	for _, p := range projects {
		t := domain.TeamSummary{Project: p, Role: domain.TeamRoleMember}
		if p.OwnerID == userID {
			t.Role = domain.TeamRoleLeader
			t.PendingRequests = counts[p.ID]
			out.LeadTeams = append(out.LeadTeams, t)
		} else {
			out.MemberTeams = append(out.MemberTeams, t)
		}
		out.Teams = append(out.Teams, t)
	}
	return out, nil
}

// TeamDetails returns the project with owner and roster profiles. Only the
// owner and members may see it.
func (s *TeamService) TeamDetails(ctx context.Context, projectID, callerID uuid.UUID) (*domain.TeamDetails, error) {
	project, err := loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, s.fail("team_details", err)
	}
	if !project.CanAccess(callerID) {
		return nil, s.fail("team_details", ErrNotTeamMember)
	}

	ids := append([]uuid.UUID{project.OwnerID}, project.Members...)
	profiles, err := s.profilesByID(ctx, ids)
	if err != nil {
		return nil, s.fail("team_details", err)
	}

	details := &domain.TeamDetails{
		Project: *project,
		Owner:   profileOrID(profiles, project.OwnerID),
		Roster:  make([]domain.ProfileSummary, 0, len(project.Members)),
	}
	for _, id := range project.Members {
		details.Roster = append(details.Roster, profileOrID(profiles, id))
	}
	return details, nil
}

// UpdateCapacity changes the roster ceiling. A ceiling below the current
// roster size is refused rather than evicting anyone.
func (s *TeamService) UpdateCapacity(ctx context.Context, projectID, callerID uuid.UUID, rule domain.CapacityRule) (*domain.Project, error) {
	var updated *domain.Project
	err := s.withProject(ctx, projectID, func(ctx context.Context, st repository.TeamStores) error {
		project, err := loadProject(ctx, st.Projects, projectID)
		if err != nil {
			return err
		}
		if project.OwnerID != callerID {
			return ErrNotProjectOwner
		}
		if rule.Enabled && rule.MaxSize < len(project.Members) {
			return ErrCapacityTooSmall
		}

		if err := st.Projects.UpdateCapacity(ctx, projectID, rule, s.now()); err != nil {
			return persistenceError("updating capacity", err)
		}
		updated, err = loadProject(ctx, st.Projects, projectID)
		return err
	})
	if err != nil {
		return nil, s.fail("update_capacity", err)
	}

	s.log.Info("capacity updated", "project_id", projectID, "enabled", rule.Enabled, "max_size", rule.MaxSize)
	return updated, nil
}

// CanAccessTeam reports whether userID is the owner or a member of teamID.
func (s *TeamService) CanAccessTeam(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	project, err := loadProject(ctx, s.projects, teamID)
	if err != nil {
		return false, err
	}
	return project.CanAccess(userID), nil
}

// loadPendingRequest applies the shared accept/reject preconditions. The
// ownership check runs first so non-owners learn nothing about the request.
func (s *TeamService) loadPendingRequest(ctx context.Context, st repository.TeamStores, projectID, requestID, callerID uuid.UUID) (*domain.Project, *domain.JoinRequest, error) {
	project, err := loadProject(ctx, st.Projects, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project.OwnerID != callerID {
		return nil, nil, ErrNotProjectOwner
	}

	req, err := st.JoinRequests.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, persistenceError("loading join request", err)
	}
	if req == nil || req.ProjectID != projectID || req.Status != domain.JoinRequestPending {
		return nil, nil, ErrInvalidRequest
	}
	return project, req, nil
}

// withProject runs fn under the project lock. Failures of the unit of work
// itself (begin, commit) surface as persistence errors.
func (s *TeamService) withProject(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, st repository.TeamStores) error) error {
	err := s.tx.WithProjectLock(ctx, projectID, fn)
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return persistenceError("project transaction", err)
}

func (s *TeamService) fail(op string, err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		s.metrics.TeamFailure(op, typed.Code)
		if typed.Kind == KindPersistence {
			s.log.Error("team operation failed", "op", op, "err", err)
		}
	} else {
		s.metrics.TeamFailure(op, "INTERNAL")
	}
	return err
}

func (s *TeamService) profilesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ProfileSummary, error) {
	summaries, err := s.users.ListSummaries(ctx, ids)
	if err != nil {
		return nil, persistenceError("loading profiles", err)
	}
	out := make(map[uuid.UUID]domain.ProfileSummary, len(summaries))
	for _, p := range summaries {
		out[p.ID] = p
	}
	return out, nil
}

func loadProject(ctx context.Context, repo repository.ProjectRepository, id uuid.UUID) (*domain.Project, error) {
	p, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistenceError("loading project", err)
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

func profileOrID(profiles map[uuid.UUID]domain.ProfileSummary, id uuid.UUID) domain.ProfileSummary {
	if p, ok := profiles[id]; ok {
		return p
	}
	return domain.ProfileSummary{ID: id}
}

func displayName(p *domain.ProfileSummary) string {
	switch {
	case p == nil:
		return ""
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.Username
	}
}
