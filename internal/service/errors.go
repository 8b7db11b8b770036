package service

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without knowing every sentinel.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindCapacityExceeded
	KindValidation
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is a typed failure with a stable code and a human-readable message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so wrapped copies of a sentinel compare equal to it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrProjectNotFound  = newError(KindNotFound, "PROJECT_NOT_FOUND", "project not found")
	ErrRequestNotFound  = newError(KindNotFound, "REQUEST_NOT_FOUND", "join request not found")
	ErrNotProjectOwner  = newError(KindForbidden, "NOT_OWNER", "only the team leader can perform this action")
	ErrNotTeamMember    = newError(KindForbidden, "NOT_TEAM_MEMBER", "you are not part of this team")
	ErrOwnerCannotLeave = newError(KindForbidden, "OWNER_CANNOT_LEAVE", "the team leader cannot leave their own team")
	ErrAlreadyPending   = newError(KindConflict, "ALREADY_PENDING", "request already pending")
	ErrAlreadyMember    = newError(KindConflict, "ALREADY_MEMBER", "you are already a member")
	ErrInvalidRequest   = newError(KindConflict, "INVALID_REQUEST", "invalid request")
	ErrNotMember        = newError(KindConflict, "NOT_MEMBER", "user is not a member of this team")
	ErrCannotRemoveLead = newError(KindConflict, "CANNOT_REMOVE_LEADER", "the team leader cannot be removed")
	ErrTeamFull         = newError(KindCapacityExceeded, "TEAM_FULL", "team is full")
	ErrCapacityTooSmall = newError(KindConflict, "CAPACITY_BELOW_ROSTER", "capacity is below the current team size")
	ErrEmptyMessage     = newError(KindValidation, "EMPTY_MESSAGE", "message text is required")
	ErrMessageTooLong   = newError(KindValidation, "MESSAGE_TOO_LONG", "message text is too long")
	ErrPersistence      = newError(KindPersistence, "PERSISTENCE_FAILURE", "storage failure")
)

// persistenceError wraps a repository failure with the operation that failed.
func persistenceError(op string, err error) error {
	return &Error{
		Kind:    KindPersistence,
		Code:    ErrPersistence.Code,
		Message: op,
		Err:     err,
	}
}

// KindOf reports the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
