package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/service"
)

// Event types - Client → Server
const (
	EventTypeJoinRoom    = "joinRoom"
	EventTypeLeaveRoom   = "leaveRoom"
	EventTypeSendMessage = "sendMessage"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeRoomJoined     = "roomJoined"
	EventTypeRoomLeft       = "roomLeft"
	EventTypeHistory        = "history"
	EventTypeReceiveMessage = "receiveMessage"
	EventTypePong           = "pong"
	EventTypeError          = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	TeamID    *uuid.UUID      `json:"team_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type RoomPayload struct {
	TeamID uuid.UUID `json:"team_id"`
}

type SendMessagePayload struct {
	// TeamID defaults to the connection's current room.
	TeamID         *uuid.UUID             `json:"team_id,omitempty"`
	Text           string                 `json:"text"`
	SenderSnapshot *domain.SenderSnapshot `json:"sender_snapshot,omitempty"`
}

// --- Server → Client payloads ---

type HistoryPayload struct {
	service.HistoryPage
}

type MessagePayload struct {
	domain.Message
}

type ErrorPayload struct {
	Code string `json:"code"`
	// Reason is the specific failure, e.g. TEAM_FULL or EMPTY_MESSAGE.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, teamID *uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		TeamID:    teamID,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// encodeEvent builds and marshals an event in one step.
func encodeEvent(eventType string, teamID *uuid.UUID, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, teamID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
