package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/metrics"
)

var ErrHubStopped = errors.New("ws hub stopped")

type opKind int

const (
	opBroadcast opKind = iota
	opJoin
	opLeave
	opEvict
)

// roomOp is a room change or a fan-out. All ops travel through one channel,
// so a join queued before a broadcast is applied before it.
type roomOp struct {
	kind   opKind
	teamID uuid.UUID
	client *Client
	// userID selects the connections an evict op removes.
	userID uuid.UUID
	// frames are written to the client (join, leave, evict) or the whole
	// room (broadcast).
	frames [][]byte
}

// Hub manages all active WebSocket clients and their room subscriptions.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	ops        chan roomOp
	stopped    chan struct{}

	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ops:        make(chan roomOp, 256),
		stopped:    make(chan struct{}),
		log:        log,
		metrics:    m,
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("ws client connected", "user_id", client.userID, "total", len(h.clients))
			h.updateGauges()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Debug("ws client disconnected", "user_id", client.userID, "total", len(h.clients))
			}

		case op := <-h.ops:
			h.apply(op)

		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil
		}
	}
}

func (h *Hub) apply(op roomOp) {
	switch op.kind {
	case opJoin:
		if _, ok := h.clients[op.client]; !ok {
			return
		}
		// One room per connection: joining replaces the previous room.
		h.leaveRoom(op.client)
		for _, frame := range op.frames {
			if !h.deliver(op.client, frame) {
				return
			}
		}
		room, ok := h.rooms[op.teamID]
		if !ok {
			room = make(map[*Client]struct{})
			h.rooms[op.teamID] = room
		}
		room[op.client] = struct{}{}
		op.client.hubRoom = &op.teamID
		h.updateGauges()

	case opLeave:
		if _, ok := h.clients[op.client]; !ok {
			return
		}
		if h.leaveRoom(op.client) {
			for _, frame := range op.frames {
				h.deliver(op.client, frame)
			}
		}
		h.updateGauges()

	case opEvict:
		for client := range h.rooms[op.teamID] {
			if client.userID != op.userID {
				continue
			}
			h.leaveRoom(client)
			client.clearRoom(op.teamID)
			for _, frame := range op.frames {
				if !h.deliver(client, frame) {
					break
				}
			}
			h.log.Debug("ws client evicted from room", "user_id", op.userID, "team_id", op.teamID)
		}
		h.updateGauges()

	case opBroadcast:
		for client := range h.rooms[op.teamID] {
			for _, frame := range op.frames {
				if !h.deliver(client, frame) {
					break
				}
			}
		}
	}
}

// deliver queues frame on the client's buffer. A client whose buffer is full
// is disconnected rather than allowed to stall the room.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		h.metrics.Delivered()
		return true
	default:
		h.metrics.DeliveryDropped()
		h.log.Warn("ws client too slow, disconnecting", "user_id", c.userID)
		h.drop(c)
		return false
	}
}

func (h *Hub) leaveRoom(c *Client) bool {
	if c.hubRoom == nil {
		return false
	}
	teamID := *c.hubRoom
	if room, ok := h.rooms[teamID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, teamID)
		}
	}
	c.hubRoom = nil
	return true
}

// drop removes c from the hub and signals its pumps to stop. Caller is the
// Run goroutine.
func (h *Hub) drop(c *Client) {
	h.leaveRoom(c)
	delete(h.clients, c)
	close(c.done)
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	h.metrics.SetConnections(len(h.clients))
	h.metrics.SetRooms(len(h.rooms))
}

// Register adds a client. It fails once the hub has stopped.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Join subscribes c to teamID after writing frames to it.
func (h *Hub) Join(ctx context.Context, c *Client, teamID uuid.UUID, frames ...[]byte) error {
	return h.enqueue(ctx, roomOp{kind: opJoin, teamID: teamID, client: c, frames: frames})
}

// Leave unsubscribes c from its current room, writing frames to it if it had one.
func (h *Hub) Leave(ctx context.Context, c *Client, frames ...[]byte) error {
	return h.enqueue(ctx, roomOp{kind: opLeave, client: c, frames: frames})
}

// Evict removes every connection of userID from teamID's room and writes
// frames to each of them.
func (h *Hub) Evict(ctx context.Context, teamID, userID uuid.UUID, frames ...[]byte) error {
	return h.enqueue(ctx, roomOp{kind: opEvict, teamID: teamID, userID: userID, frames: frames})
}

// BroadcastToRoom sends an event to every connection in teamID's room.
func (h *Hub) BroadcastToRoom(teamID uuid.UUID, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws hub: marshal error", "err", err)
		return
	}
	if err := h.enqueue(context.Background(), roomOp{kind: opBroadcast, teamID: teamID, frames: [][]byte{data}}); err != nil {
		h.log.Warn("ws hub: broadcast dropped", "team_id", teamID, "err", err)
	}
}

func (h *Hub) enqueue(ctx context.Context, op roomOp) error {
	select {
	case h.ops <- op:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
