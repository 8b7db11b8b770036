package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/repository"
	"github.com/vedran77/ideahub/internal/repository/memory"
)

type removal struct {
	teamID uuid.UUID
	userID uuid.UUID
}

type recordingNotifier struct {
	mu       sync.Mutex
	msgs     []domain.Message
	removals []removal
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, *msg)
}

func (n *recordingNotifier) NotifyMemberRemoved(teamID, userID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removals = append(n.removals, removal{teamID: teamID, userID: userID})
}

func (n *recordingNotifier) removed() []removal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]removal(nil), n.removals...)
}

func (n *recordingNotifier) snapshot() []domain.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Message(nil), n.msgs...)
}

type failingMessageRepo struct {
	repository.MessageRepository
}

func (failingMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return errors.New("disk full")
}

type chatFixture struct {
	teams    *TeamService
	chat     *ChatService
	store    *memory.Store
	notifier *recordingNotifier
	owner    uuid.UUID
	member   uuid.UUID
	project  *domain.Project
}

func newChatFixture(t *testing.T, messages repository.MessageRepository) *chatFixture {
	t.Helper()
	ctx := context.Background()
	teams, store := newTeamServiceForTest(t)
	if messages == nil {
		messages = store.Messages()
	}
	notifier := &recordingNotifier{}
	chat := NewChatService(messages, store.Users(), teams, notifier, discardLogger(), metrics.New(nil))
	teams.SetRosterNotifier(chat)

	owner := seedUser(store, "owner")
	member := seedUser(store, "bob")
	project := createProject(t, teams, owner, domain.CapacityRule{})
	req, _, err := teams.Submit(ctx, project.ID, member)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := teams.Accept(ctx, project.ID, req.ID, owner); err != nil {
		t.Fatalf("accept: %v", err)
	}

	return &chatFixture{
		teams:    teams,
		chat:     chat,
		store:    store,
		notifier: notifier,
		owner:    owner,
		member:   member,
		project:  project,
	}
}

func TestChatServiceSendPersistsThenNotifies(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	msg, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.member, Text: "  hello  "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Text != "hello" || msg.Seq != 1 || msg.Sender.DisplayName != "bob" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	delivered := f.notifier.snapshot()
	if len(delivered) != 1 || delivered[0].ID != msg.ID {
		t.Fatalf("expected the persisted message to be delivered, got %+v", delivered)
	}

	page, err := f.chat.History(ctx, f.project.ID, f.owner, nil, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != msg.ID || page.HasMore {
		t.Fatalf("unexpected history: %+v", page)
	}
}

func TestChatServiceSendValidation(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		sender uuid.UUID
		text   string
		want   error
	}{
		{"empty", f.member, "", ErrEmptyMessage},
		{"whitespace", f.member, " \n\t ", ErrEmptyMessage},
		{"too long", f.member, strings.Repeat("é", MaxMessageRunes+1), ErrMessageTooLong},
		{"outsider", uuid.New(), "hi", ErrNotTeamMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: tt.sender, Text: tt.text})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.member, Text: strings.Repeat("é", MaxMessageRunes)}); err != nil {
		t.Fatalf("message at the rune limit should pass: %v", err)
	}
	if len(f.notifier.snapshot()) != 1 {
		t.Fatal("rejected messages must not be delivered")
	}
}

func TestChatServicePersistenceFailureIsNotBroadcast(t *testing.T) {
	f := newChatFixture(t, failingMessageRepo{})

	_, err := f.chat.Send(context.Background(), SendMessageInput{TeamID: f.project.ID, SenderID: f.member, Text: "hello"})
	if KindOf(err) != KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if got := f.notifier.snapshot(); len(got) != 0 {
		t.Fatalf("nothing should be delivered, got %+v", got)
	}
}

func TestChatServiceSenderSnapshotFallback(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	// A member without a profile on record keeps the client-supplied snapshot.
	ghost := uuid.New()
	req, _, err := f.teams.Submit(ctx, f.project.ID, ghost)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.teams.Accept(ctx, f.project.ID, req.ID, f.owner); err != nil {
		t.Fatalf("accept: %v", err)
	}

	msg, err := f.chat.Send(ctx, SendMessageInput{
		TeamID:   f.project.ID,
		SenderID: ghost,
		Text:     "hi",
		Fallback: &domain.SenderSnapshot{DisplayName: "Ghost", Username: "ghost"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Sender.DisplayName != "Ghost" {
		t.Fatalf("expected fallback snapshot, got %+v", msg.Sender)
	}

	// A known profile wins over whatever the client claims.
	msg, err = f.chat.Send(ctx, SendMessageInput{
		TeamID:   f.project.ID,
		SenderID: f.member,
		Text:     "hi",
		Fallback: &domain.SenderSnapshot{DisplayName: "Impostor"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Sender.DisplayName != "bob" {
		t.Fatalf("expected profile snapshot, got %+v", msg.Sender)
	}
}

func TestChatServiceDeliveryOrderMatchesSequence(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender := f.member
			if i%2 == 0 {
				sender = f.owner
			}
			if _, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: sender, Text: "msg"}); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	wg.Wait()

	delivered := f.notifier.snapshot()
	if len(delivered) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(delivered))
	}
	for i, msg := range delivered {
		if msg.Seq != int64(i+1) {
			t.Fatalf("delivery %d has seq %d", i, msg.Seq)
		}
	}
}

func TestChatServiceHistoryPagination(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	for range 5 {
		if _, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.member, Text: "msg"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	page, err := f.chat.History(ctx, f.project.ID, f.member, nil, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !page.HasMore || len(page.Messages) != 2 || page.Messages[0].Seq != 4 || page.Messages[1].Seq != 5 {
		t.Fatalf("unexpected newest page: %+v", page)
	}

	before := page.Messages[0].Seq
	page, err = f.chat.History(ctx, f.project.ID, f.member, &before, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.HasMore || len(page.Messages) != 3 || page.Messages[0].Seq != 1 {
		t.Fatalf("unexpected older page: %+v", page)
	}

	if _, err := f.chat.History(ctx, f.project.ID, uuid.New(), nil, 0); !errors.Is(err, ErrNotTeamMember) {
		t.Fatalf("expected ErrNotTeamMember, got %v", err)
	}
}

func TestChatServiceSubscribeReplaysHistory(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	for range 3 {
		if _, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.owner, Text: "earlier"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var got *HistoryPage
	err := f.chat.Subscribe(ctx, f.project.ID, f.member, func(page *HistoryPage) error {
		got = page
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got == nil || len(got.Messages) != 3 || got.HasMore {
		t.Fatalf("unexpected replay: %+v", got)
	}

	called := false
	err = f.chat.Subscribe(ctx, f.project.ID, uuid.New(), func(*HistoryPage) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotTeamMember) || called {
		t.Fatalf("outsider must not be subscribed: err=%v called=%v", err, called)
	}
}

func TestChatServiceRemovedMemberIsEvictedAndRefused(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, nil)

	if _, err := f.teams.RemoveMember(ctx, f.project.ID, f.member, f.owner); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got := f.notifier.removed()
	if len(got) != 1 || got[0] != (removal{teamID: f.project.ID, userID: f.member}) {
		t.Fatalf("expected one eviction for the removed member, got %+v", got)
	}

	_, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.member, Text: "still here?"})
	if !errors.Is(err, ErrNotTeamMember) {
		t.Fatalf("expected ErrNotTeamMember, got %v", err)
	}
	err = f.chat.Subscribe(ctx, f.project.ID, f.member, func(*HistoryPage) error { return nil })
	if !errors.Is(err, ErrNotTeamMember) {
		t.Fatalf("expected ErrNotTeamMember on subscribe, got %v", err)
	}
	if n := len(f.notifier.snapshot()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestChatServiceLeaveEvicts(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, nil)

	if _, err := f.teams.Leave(ctx, f.project.ID, f.member); err != nil {
		t.Fatalf("leave: %v", err)
	}
	got := f.notifier.removed()
	if len(got) != 1 || got[0].userID != f.member {
		t.Fatalf("expected eviction after leave, got %+v", got)
	}
}

func TestChatServiceCreatedAtSurvivesReadBack(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, nil)

	first, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.owner, Text: "one"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.CreatedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("expected microsecond precision, got %s", first.CreatedAt.Format(time.RFC3339Nano))
	}

	// A wall clock that stepped backwards must not reorder createdAt against seq.
	f.chat.now = func() time.Time { return first.CreatedAt.Add(-time.Hour) }
	second, err := f.chat.Send(ctx, SendMessageInput{TeamID: f.project.ID, SenderID: f.owner, Text: "two"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("createdAt went backwards: %s then %s", first.CreatedAt, second.CreatedAt)
	}

	page, err := f.chat.History(ctx, f.project.ID, f.member, nil, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	delivered := f.notifier.snapshot()
	if len(page.Messages) != 2 || len(delivered) != 2 {
		t.Fatalf("expected two messages, got %d stored %d delivered", len(page.Messages), len(delivered))
	}
	for i := range delivered {
		if !page.Messages[i].CreatedAt.Equal(delivered[i].CreatedAt) {
			t.Fatalf("message %d: delivered %s, stored %s", i, delivered[i].CreatedAt, page.Messages[i].CreatedAt)
		}
	}
}
