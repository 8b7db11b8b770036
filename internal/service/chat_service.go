package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/keylock"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/repository"
)

const (
	MaxMessageRunes     = 4000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Notifier delivers persisted messages to realtime subscribers and drops
// subscribers who lost access to a team.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	NotifyMemberRemoved(teamID, userID uuid.UUID)
}

// AccessChecker reports whether a user may read and write a team's room.
type AccessChecker interface {
	CanAccessTeam(ctx context.Context, teamID, userID uuid.UUID) (bool, error)
}

type ChatService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	access   AccessChecker
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// locks orders sends, joins and evictions per team.
	locks *keylock.Map[uuid.UUID]
}

func NewChatService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	access AccessChecker,
	notifier Notifier,
	log *slog.Logger,
	m *metrics.Metrics,
) *ChatService {
	return &ChatService{
		messages: messages,
		users:    users,
		access:   access,
		notifier: notifier,
		log:      log,
		metrics:  m,
		now:      utcNow,
		locks:    keylock.New[uuid.UUID](),
	}
}

type SendMessageInput struct {
	TeamID   uuid.UUID
	SenderID uuid.UUID
	Text     string
	// Fallback is used when the sender has no profile on record.
	Fallback *domain.SenderSnapshot
}

type HistoryPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// CanJoin reports whether userID may subscribe to teamID's room.
func (s *ChatService) CanJoin(ctx context.Context, teamID, userID uuid.UUID) error {
	ok, err := s.access.CanAccessTeam(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotTeamMember
	}
	return nil
}

// Send persists a message and then hands it to the notifier. Nothing is
// delivered if persistence fails. The team lock spans the access check and
// both steps, so delivery order matches sequence order and a removed member
// cannot slip a message in after being evicted.
func (s *ChatService) Send(ctx context.Context, input SendMessageInput) (*domain.Message, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		s.metrics.MessageRejected()
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		s.metrics.MessageRejected()
		return nil, ErrMessageTooLong
	}

	sender, err := s.snapshot(ctx, input.SenderID, input.Fallback)
	if err != nil {
		s.metrics.MessageFailed()
		return nil, err
	}

	msg := &domain.Message{
		ID:       uuid.New(),
		TeamID:   input.TeamID,
		SenderID: input.SenderID,
		Sender:   sender,
		Text:     text,
	}

	unlock := s.locks.Lock(input.TeamID)
	defer unlock()

	if err := s.CanJoin(ctx, input.TeamID, input.SenderID); err != nil {
		s.metrics.MessageRejected()
		return nil, err
	}

	msg.CreatedAt = s.now()
	if err := s.messages.Create(ctx, msg); err != nil {
		s.metrics.MessageFailed()
		s.log.Error("persisting message failed", "team_id", input.TeamID, "sender_id", input.SenderID, "err", err)
		return nil, persistenceError("saving message", err)
	}
	s.metrics.MessagePersisted()

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(msg)
	}
	return msg, nil
}

// History returns up to limit messages older than before, oldest first.
func (s *ChatService) History(ctx context.Context, teamID, callerID uuid.UUID, before *int64, limit int) (*HistoryPage, error) {
	if err := s.CanJoin(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	return s.page(ctx, teamID, before, limit)
}

// Subscribe checks access, loads the newest history page and passes it to fn
// while holding the team lock. If fn registers the subscriber on the same
// FIFO the notifier feeds, each message is either in the page or delivered
// after it, exactly once.
func (s *ChatService) Subscribe(ctx context.Context, teamID, userID uuid.UUID, fn func(page *HistoryPage) error) error {
	unlock := s.locks.Lock(teamID)
	defer unlock()

	if err := s.CanJoin(ctx, teamID, userID); err != nil {
		return err
	}

	page, err := s.page(ctx, teamID, nil, DefaultHistoryLimit)
	if err != nil {
		return err
	}
	return fn(page)
}

// NotifyMemberRemoved evicts userID's live subscriptions to teamID. It takes
// the team lock, so a Subscribe that passed its access check before the
// removal has already registered and is evicted too.
func (s *ChatService) NotifyMemberRemoved(teamID, userID uuid.UUID) {
	unlock := s.locks.Lock(teamID)
	defer unlock()

	if s.notifier != nil {
		s.notifier.NotifyMemberRemoved(teamID, userID)
	}
}

func (s *ChatService) page(ctx context.Context, teamID uuid.UUID, before *int64, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	// One extra row tells us whether an older page exists.
	msgs, err := s.messages.ListByTeam(ctx, teamID, before, limit+1)
	if err != nil {
		return nil, persistenceError("loading messages", err)
	}

	page := &HistoryPage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[1:]
		page.HasMore = true
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	return page, nil
}

func (s *ChatService) snapshot(ctx context.Context, senderID uuid.UUID, fallback *domain.SenderSnapshot) (domain.SenderSnapshot, error) {
	profile, err := s.users.GetSummary(ctx, senderID)
	if err != nil {
		return domain.SenderSnapshot{}, persistenceError("loading sender profile", err)
	}
	if profile != nil {
		return domain.SenderSnapshot{
			DisplayName: profile.DisplayName,
			Username:    profile.Username,
			AvatarURL:   profile.AvatarURL,
		}, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return domain.SenderSnapshot{}, nil
}
