// Package memory provides in-process repositories for local development and tests.
// Data lives only as long as the process.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/keylock"
	"github.com/vedran77/ideahub/internal/repository"
)

// Store holds every collection behind one mutex. Per-project locks used by
// WithProjectLock are separate so repository calls can be made while holding one.
type Store struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*domain.Project
	requests map[uuid.UUID]*domain.JoinRequest
	users    map[uuid.UUID]domain.ProfileSummary
	messages map[uuid.UUID][]domain.Message

	locks *keylock.Map[uuid.UUID]
}

func NewStore() *Store {
	return &Store{
		projects: make(map[uuid.UUID]*domain.Project),
		requests: make(map[uuid.UUID]*domain.JoinRequest),
		users:    make(map[uuid.UUID]domain.ProfileSummary),
		messages: make(map[uuid.UUID][]domain.Message),
		locks:    keylock.New[uuid.UUID](),
	}
}

func (s *Store) Projects() *ProjectRepo         { return &ProjectRepo{s: s} }
func (s *Store) JoinRequests() *JoinRequestRepo { return &JoinRequestRepo{s: s} }
func (s *Store) Users() *UserRepo               { return &UserRepo{s: s} }
func (s *Store) Messages() *MessageRepo         { return &MessageRepo{s: s} }

// PutUser seeds a profile. Profiles are owned by another system, so the
// service itself never writes them.
func (s *Store) PutUser(u domain.ProfileSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// WithProjectLock serializes fn per project. If fn fails, the project row and
// its join requests are restored to the state they had before fn ran.
func (s *Store) WithProjectLock(ctx context.Context, projectID uuid.UUID, fn func(ctx context.Context, stores repository.TeamStores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	snap := s.snapshot(projectID)
	err := fn(ctx, repository.TeamStores{
		Projects:     s.Projects(),
		JoinRequests: s.JoinRequests(),
	})
	if err != nil {
		s.restore(projectID, snap)
		return err
	}
	return nil
}

type projectSnapshot struct {
	project  *domain.Project
	requests map[uuid.UUID]domain.JoinRequest
}

func (s *Store) snapshot(projectID uuid.UUID) projectSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := projectSnapshot{requests: make(map[uuid.UUID]domain.JoinRequest)}
	if p, ok := s.projects[projectID]; ok {
		snap.project = cloneProject(p)
	}
	for id, r := range s.requests {
		if r.ProjectID == projectID {
			snap.requests[id] = *r
		}
	}
	return snap
}

func (s *Store) restore(projectID uuid.UUID, snap projectSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.project == nil {
		delete(s.projects, projectID)
	} else {
		s.projects[projectID] = snap.project
	}
	for id, r := range s.requests {
		if r.ProjectID != projectID {
			continue
		}
		if old, ok := snap.requests[id]; ok {
			*r = old
		} else {
			delete(s.requests, id)
		}
	}
}

func cloneProject(p *domain.Project) *domain.Project {
	c := *p
	c.Members = slices.Clone(p.Members)
	if c.Members == nil {
		c.Members = []uuid.UUID{}
	}
	return &c
}

// ProjectRepo implements repository.ProjectRepository.
type ProjectRepo struct{ s *Store }

func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.projects[p.ID] = cloneProject(p)
	return nil
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	return cloneProject(p), nil
}

func (r *ProjectRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Project
	for _, p := range r.s.projects {
		if p.CanAccess(userID) {
			out = append(out, *cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *ProjectRepo) AddMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return nil
	}
	if !p.HasMember(userID) {
		p.Members = append(p.Members, userID)
	}
	p.UpdatedAt = at
	return nil
}

func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return nil
	}
	p.Members = slices.DeleteFunc(p.Members, func(id uuid.UUID) bool { return id == userID })
	p.UpdatedAt = at
	return nil
}

func (r *ProjectRepo) UpdateCapacity(ctx context.Context, projectID uuid.UUID, rule domain.CapacityRule, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.projects[projectID]; ok {
		p.Capacity = rule
		p.UpdatedAt = at
	}
	return nil
}

// JoinRequestRepo implements repository.JoinRequestRepository.
type JoinRequestRepo struct{ s *Store }

func (r *JoinRequestRepo) Create(ctx context.Context, req *domain.JoinRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.requests {
		if existing.ProjectID == req.ProjectID && existing.RequesterID == req.RequesterID {
			return repository.ErrDuplicate
		}
	}
	c := *req
	r.s.requests[req.ID] = &c
	return nil
}

func (r *JoinRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.JoinRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, nil
	}
	c := *req
	return &c, nil
}

func (r *JoinRequestRepo) GetByProjectAndRequester(ctx context.Context, projectID, requesterID uuid.UUID) (*domain.JoinRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.ProjectID == projectID && req.RequesterID == requesterID {
			c := *req
			return &c, nil
		}
	}
	return nil, nil
}

func (r *JoinRequestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JoinRequestStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req, ok := r.s.requests[id]; ok {
		req.Status = status
		req.UpdatedAt = at
	}
	return nil
}

func (r *JoinRequestRepo) ListPendingByProject(ctx context.Context, projectID uuid.UUID) ([]domain.JoinRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.JoinRequest
	for _, req := range r.s.requests {
		if req.ProjectID == projectID && req.Status == domain.JoinRequestPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *JoinRequestRepo) CountPendingByProjects(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	counts := make(map[uuid.UUID]int, len(projectIDs))
	for _, req := range r.s.requests {
		if req.Status == domain.JoinRequestPending && slices.Contains(projectIDs, req.ProjectID) {
			counts[req.ProjectID]++
		}
	}
	return counts, nil
}

// UserRepo implements repository.UserRepository.
type UserRepo struct{ s *Store }

func (r *UserRepo) GetSummary(ctx context.Context, id uuid.UUID) (*domain.ProfileSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepo) ListSummaries(ctx context.Context, ids []uuid.UUID) ([]domain.ProfileSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.ProfileSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// MessageRepo implements repository.MessageRepository.
type MessageRepo struct{ s *Store }

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	log := r.s.messages[msg.TeamID]
	if n := len(log); n > 0 && log[n-1].CreatedAt.After(msg.CreatedAt) {
		msg.CreatedAt = log[n-1].CreatedAt
	}
	msg.Seq = int64(len(log)) + 1
	r.s.messages[msg.TeamID] = append(log, *msg)
	return nil
}

func (r *MessageRepo) ListByTeam(ctx context.Context, teamID uuid.UUID, before *int64, limit int) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	log := r.s.messages[teamID]
	end := len(log)
	if before != nil {
		// seq n lives at index n-1
		end = min(max(int(*before)-1, 0), len(log))
	}
	start := max(end-limit, 0)
	return slices.Clone(log[start:end]), nil
}
