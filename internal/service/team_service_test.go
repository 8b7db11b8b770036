package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTeamServiceForTest(t *testing.T) (*TeamService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewTeamService(store.Projects(), store.JoinRequests(), store.Users(), store, discardLogger(), metrics.New(nil))
	return svc, store
}

func seedUser(store *memory.Store, name string) uuid.UUID {
	id := uuid.New()
	store.PutUser(domain.ProfileSummary{ID: id, DisplayName: name, Username: name, Skills: []string{"go"}})
	return id
}

func createProject(t *testing.T, svc *TeamService, ownerID uuid.UUID, capacity domain.CapacityRule) *domain.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), ownerID, CreateProjectInput{Title: "Idea", Capacity: capacity})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestTeamServiceJoinRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	bob := seedUser(store, "bob")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	req, created, err := svc.Submit(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !created || req.Status != domain.JoinRequestPending {
		t.Fatalf("expected new pending request, got created=%v status=%s", created, req.Status)
	}
	if req.RequesterName != "bob" || req.ProjectTitle != "Idea" || req.OwnerID != owner {
		t.Fatalf("unexpected snapshots: %+v", req)
	}

	if _, _, err := svc.Submit(ctx, project.ID, bob); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}

	if err := svc.Reject(ctx, project.ID, req.ID, owner); err != nil {
		t.Fatalf("reject: %v", err)
	}
	status, err := svc.Status(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.JoinRequestRejected {
		t.Fatalf("expected rejected, got %s", status.Status)
	}

	again, created, err := svc.Submit(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if created {
		t.Fatal("resubmit should reuse the existing record")
	}
	if again.ID != req.ID || again.Status != domain.JoinRequestPending {
		t.Fatalf("expected same id back in pending, got %s %s", again.ID, again.Status)
	}
	if again.UpdatedAt.Before(req.UpdatedAt) {
		t.Fatal("updated_at should move forward on resubmit")
	}

	updated, err := svc.Accept(ctx, project.ID, req.ID, owner)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(updated.Members) != 1 || updated.Members[0] != bob {
		t.Fatalf("expected bob on roster, got %v", updated.Members)
	}

	if _, _, err := svc.Submit(ctx, project.ID, bob); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := svc.Accept(ctx, project.ID, req.ID, owner); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("accepting twice should fail with ErrInvalidRequest, got %v", err)
	}
}

func TestTeamServiceSubmitRules(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	if _, _, err := svc.Submit(ctx, project.ID, owner); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("owner submit: expected ErrAlreadyMember, got %v", err)
	}
	if _, _, err := svc.Submit(ctx, uuid.New(), seedUser(store, "x")); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}

	// Concurrent submits by the same requester leave exactly one record.
	alice := seedUser(store, "alice")
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := svc.Submit(ctx, project.ID, alice)
			if err != nil && !errors.Is(err, ErrAlreadyPending) {
				t.Errorf("unexpected error: %v", err)
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if createdCount != 1 {
		t.Fatalf("expected one created request, got %d", createdCount)
	}

	pending, err := svc.ListPending(ctx, project.ID, owner)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
	if pending[0].Requester == nil || pending[0].Requester.DisplayName != "alice" {
		t.Fatalf("expected requester profile, got %+v", pending[0].Requester)
	}
}

func TestTeamServiceOwnershipGate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	bob := seedUser(store, "bob")
	mallory := seedUser(store, "mallory")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	req, _, err := svc.Submit(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Accept(ctx, project.ID, req.ID, mallory); !errors.Is(err, ErrNotProjectOwner) {
		t.Fatalf("accept by non-owner: expected ErrNotProjectOwner, got %v", err)
	}
	if err := svc.Reject(ctx, project.ID, req.ID, bob); !errors.Is(err, ErrNotProjectOwner) {
		t.Fatalf("reject by requester: expected ErrNotProjectOwner, got %v", err)
	}
	if _, err := svc.ListPending(ctx, project.ID, mallory); KindOf(err) != KindForbidden {
		t.Fatalf("list by non-owner: expected forbidden, got %v", err)
	}

	status, err := svc.Status(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.JoinRequestPending {
		t.Fatalf("request should still be pending, got %s", status.Status)
	}

	other := createProject(t, svc, owner, domain.CapacityRule{})
	if _, err := svc.Accept(ctx, other.ID, req.ID, owner); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("request from another project: expected ErrInvalidRequest, got %v", err)
	}
}

func TestTeamServiceCapacityUnderConcurrentAccepts(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	project := createProject(t, svc, owner, domain.CapacityRule{Enabled: true, MaxSize: 1})

	const n = 10
	requests := make([]*domain.JoinRequest, 0, n)
	for range n {
		req, _, err := svc.Submit(ctx, project.ID, seedUser(store, "applicant"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		requests = append(requests, req)
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for _, req := range requests {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := svc.Accept(ctx, project.ID, id, owner)
			results <- err
		}(req.ID)
	}
	wg.Wait()
	close(results)

	accepted, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrTeamFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 || full != n-1 {
		t.Fatalf("expected 1 accept and %d full, got %d and %d", n-1, accepted, full)
	}

	details, err := svc.TeamDetails(ctx, project.ID, owner)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(details.Members) != 1 {
		t.Fatalf("roster exceeded capacity: %v", details.Members)
	}

	pending, err := svc.ListPending(ctx, project.ID, owner)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != n-1 {
		t.Fatalf("refused requests should stay pending, got %d", len(pending))
	}
}

func TestTeamServiceConcurrentAcceptOfSameRequest(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	project := createProject(t, svc, owner, domain.CapacityRule{})
	req, _, err := svc.Submit(ctx, project.ID, seedUser(store, "bob"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, project.ID, req.ID, owner)
		}()
	}
	wg.Wait()

	ok, invalid := 0, 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, ErrInvalidRequest) {
			invalid++
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("expected one success and one ErrInvalidRequest, got %v", errs)
	}
}

func TestTeamServiceStatusWithoutRequest(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	status, err := svc.Status(ctx, project.ID, seedUser(store, "nobody"))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.JoinRequestNone || status.Request != nil {
		t.Fatalf("expected none, got %+v", status)
	}

	if _, err := svc.Status(ctx, uuid.New(), owner); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestTeamServiceRemoveAndLeave(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	bob := seedUser(store, "bob")
	carol := seedUser(store, "carol")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	for _, id := range []uuid.UUID{bob, carol} {
		req, _, err := svc.Submit(ctx, project.ID, id)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := svc.Accept(ctx, project.ID, req.ID, owner); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	tests := []struct {
		name   string
		member uuid.UUID
		caller uuid.UUID
		want   error
	}{
		{"non-owner", carol, bob, ErrNotProjectOwner},
		{"leader", owner, owner, ErrCannotRemoveLead},
		{"outsider", uuid.New(), owner, ErrNotMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RemoveMember(ctx, project.ID, tt.member, tt.caller); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	updated, err := svc.RemoveMember(ctx, project.ID, bob, owner)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if updated.HasMember(bob) || !updated.HasMember(carol) {
		t.Fatalf("unexpected roster after removal: %v", updated.Members)
	}

	// The accepted record is history; it is not reopened by removal.
	status, err := svc.Status(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.JoinRequestAccepted {
		t.Fatalf("expected accepted record to survive removal, got %s", status.Status)
	}

	if _, err := svc.Leave(ctx, project.ID, owner); !errors.Is(err, ErrOwnerCannotLeave) {
		t.Fatalf("expected ErrOwnerCannotLeave, got %v", err)
	}
	if _, err := svc.Leave(ctx, project.ID, bob); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	updated, err = svc.Leave(ctx, project.ID, carol)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(updated.Members) != 0 {
		t.Fatalf("expected empty roster, got %v", updated.Members)
	}
}

func TestTeamServiceMyTeams(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	bob := seedUser(store, "bob")

	led := createProject(t, svc, owner, domain.CapacityRule{})
	joined := createProject(t, svc, bob, domain.CapacityRule{})

	for range 2 {
		if _, _, err := svc.Submit(ctx, led.ID, seedUser(store, "applicant")); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	req, _, err := svc.Submit(ctx, joined.ID, owner)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Accept(ctx, joined.ID, req.ID, bob); err != nil {
		t.Fatalf("accept: %v", err)
	}

	overview, err := svc.MyTeams(ctx, owner)
	if err != nil {
		t.Fatalf("my teams: %v", err)
	}
	if len(overview.Teams) != 2 || len(overview.LeadTeams) != 1 || len(overview.MemberTeams) != 1 {
		t.Fatalf("unexpected split: %+v", overview)
	}
	lead := overview.LeadTeams[0]
	if lead.ID != led.ID || lead.Role != domain.TeamRoleLeader || lead.PendingRequests != 2 {
		t.Fatalf("unexpected lead team: %+v", lead)
	}
	member := overview.MemberTeams[0]
	if member.ID != joined.ID || member.Role != domain.TeamRoleMember || member.PendingRequests != 0 {
		t.Fatalf("unexpected member team: %+v", member)
	}

	empty, err := svc.MyTeams(ctx, uuid.New())
	if err != nil {
		t.Fatalf("my teams: %v", err)
	}
	if empty.Teams == nil || len(empty.Teams) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", empty.Teams)
	}
}

func TestTeamServiceTeamDetails(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	bob := seedUser(store, "bob")
	project := createProject(t, svc, owner, domain.CapacityRule{})
	req, _, err := svc.Submit(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Accept(ctx, project.ID, req.ID, owner); err != nil {
		t.Fatalf("accept: %v", err)
	}

	details, err := svc.TeamDetails(ctx, project.ID, bob)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Owner.DisplayName != "owner" || len(details.Roster) != 1 || details.Roster[0].DisplayName != "bob" {
		t.Fatalf("unexpected details: %+v", details)
	}

	if _, err := svc.TeamDetails(ctx, project.ID, uuid.New()); !errors.Is(err, ErrNotTeamMember) {
		t.Fatalf("expected ErrNotTeamMember, got %v", err)
	}
}

func TestTeamServiceUpdateCapacity(t *testing.T) {
	ctx := context.Background()
	svc, store := newTeamServiceForTest(t)
	owner := seedUser(store, "owner")
	project := createProject(t, svc, owner, domain.CapacityRule{})

	for range 2 {
		req, _, err := svc.Submit(ctx, project.ID, seedUser(store, "member"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := svc.Accept(ctx, project.ID, req.ID, owner); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	if _, err := svc.UpdateCapacity(ctx, project.ID, owner, domain.CapacityRule{Enabled: true, MaxSize: 1}); !errors.Is(err, ErrCapacityTooSmall) {
		t.Fatalf("expected ErrCapacityTooSmall, got %v", err)
	}
	if _, err := svc.UpdateCapacity(ctx, project.ID, uuid.New(), domain.CapacityRule{}); !errors.Is(err, ErrNotProjectOwner) {
		t.Fatalf("expected ErrNotProjectOwner, got %v", err)
	}

	updated, err := svc.UpdateCapacity(ctx, project.ID, owner, domain.CapacityRule{Enabled: true, MaxSize: 2})
	if err != nil {
		t.Fatalf("update capacity: %v", err)
	}
	if !updated.Capacity.Enabled || updated.Capacity.MaxSize != 2 {
		t.Fatalf("unexpected capacity: %+v", updated.Capacity)
	}

	req, _, err := svc.Submit(ctx, project.ID, seedUser(store, "late"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Accept(ctx, project.ID, req.ID, owner); !errors.Is(err, ErrTeamFull) {
		t.Fatalf("expected ErrTeamFull, got %v", err)
	}
}
