package ws

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	evt, err := NewEvent(EventTypeReceiveMessage, &msg.TeamID, MessagePayload{Message: *msg})
	if err != nil {
		n.hub.log.Error("ws notifier: marshal error", "err", err)
		return
	}
	n.hub.BroadcastToRoom(msg.TeamID, evt)
}

// NotifyMemberRemoved takes userID out of teamID's room and tells each of
// their connections with a roomLeft event.
func (n *HubNotifier) NotifyMemberRemoved(teamID, userID uuid.UUID) {
	frame, err := encodeEvent(EventTypeRoomLeft, &teamID, RoomPayload{TeamID: teamID})
	if err != nil {
		n.hub.log.Error("ws notifier: marshal error", "err", err)
		return
	}
	if err := n.hub.Evict(context.Background(), teamID, userID, frame); err != nil {
		n.hub.log.Warn("ws notifier: eviction dropped", "team_id", teamID, "user_id", userID, "err", err)
	}
}
