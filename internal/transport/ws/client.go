package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/ratelimit"
	"github.com/vedran77/ideahub/internal/service"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	handleWait     = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 32 << 10
	sendBufSize    = 256
)

// Chat is the messaging behaviour a connection needs.
type Chat interface {
	Send(ctx context.Context, input service.SendMessageInput) (*domain.Message, error)
	Subscribe(ctx context.Context, teamID, userID uuid.UUID, fn func(page *service.HistoryPage) error) error
}

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  uuid.UUID
	chat    Chat
	limiter *ratelimit.Window
	log     *slog.Logger
	metrics *metrics.Metrics

	// room is the connection's current room as seen by the read loop.
	mu   sync.Mutex
	room *uuid.UUID

	// hubRoom is owned by the hub goroutine.
	hubRoom *uuid.UUID

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, chat Chat, limiter *ratelimit.Window) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		chat:    chat,
		limiter: limiter,
		log:     hub.log.With("user_id", userID),
		metrics: hub.metrics,
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}
}

// Room returns the connection's current room, if any.
func (c *Client) Room() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return uuid.Nil, false
	}
	return *c.room, true
}

func (c *Client) setRoom(teamID *uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = teamID
}

// clearRoom forgets the current room if it is still teamID.
func (c *Client) clearRoom(teamID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil && *c.room == teamID {
		c.room = nil
	}
}

// ReadPump reads events from the WebSocket and handles them in order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debug("ws client closed connection")
			} else {
				c.log.Debug("ws read error", "err", err)
			}
			return
		}

		if d := c.limiter.Allow(time.Now()); !d.Allowed {
			c.metrics.RateLimited("ws")
			c.sendError("RATE_LIMITED", "", "too many events, slow down")
			continue
		}

		c.handleEvent(&event)
	}
}

// WritePump writes queued frames to the WebSocket and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug("ws write error", "err", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Debug("ws ping error", "err", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), handleWait)
	defer cancel()

	switch event.Type {
	case EventTypeJoinRoom:
		var p RoomPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.TeamID == uuid.Nil {
			c.sendError("INVALID_PAYLOAD", "", "joinRoom requires team_id")
			return
		}
		c.joinRoom(ctx, p.TeamID)

	case EventTypeLeaveRoom:
		teamID, ok := c.Room()
		if !ok {
			return
		}
		frame, err := encodeEvent(EventTypeRoomLeft, &teamID, RoomPayload{TeamID: teamID})
		if err != nil {
			return
		}
		if err := c.hub.Leave(ctx, c, frame); err != nil {
			return
		}
		c.setRoom(nil)

	case EventTypeSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "", "invalid sendMessage payload")
			return
		}
		c.sendMessage(ctx, p)

	case EventTypePing:
		c.sendPong()

	default:
		c.sendError("UNKNOWN_EVENT", "", "unknown event type: "+event.Type)
	}
}

func (c *Client) joinRoom(ctx context.Context, teamID uuid.UUID) {
	err := c.chat.Subscribe(ctx, teamID, c.userID, func(page *service.HistoryPage) error {
		joined, err := encodeEvent(EventTypeRoomJoined, &teamID, RoomPayload{TeamID: teamID})
		if err != nil {
			return err
		}
		history, err := encodeEvent(EventTypeHistory, &teamID, HistoryPayload{HistoryPage: *page})
		if err != nil {
			return err
		}
		// Set before queueing the join so an eviction applied after it clears this.
		c.setRoom(&teamID)
		if err := c.hub.Join(ctx, c, teamID, joined, history); err != nil {
			c.clearRoom(teamID)
			return err
		}
		return nil
	})
	if err != nil {
		c.sendServiceError(err)
		return
	}
	c.log.Debug("ws joined room", "team_id", teamID)
}

func (c *Client) sendMessage(ctx context.Context, p SendMessagePayload) {
	var teamID uuid.UUID
	if p.TeamID != nil {
		teamID = *p.TeamID
	} else if room, ok := c.Room(); ok {
		teamID = room
	} else {
		c.sendError("NOT_IN_ROOM", "", "join a room or pass team_id")
		return
	}

	// The sender is always the authenticated user, whatever the payload says.
	_, err := c.chat.Send(ctx, service.SendMessageInput{
		TeamID:   teamID,
		SenderID: c.userID,
		Text:     p.Text,
		Fallback: p.SenderSnapshot,
	})
	if err != nil {
		c.sendServiceError(err)
	}
}

// sendServiceError reports a failure to this connection only.
func (c *Client) sendServiceError(err error) {
	var typed *service.Error
	if !errors.As(err, &typed) {
		c.log.Error("ws event failed", "err", err)
		c.sendError("INTERNAL", "", "something went wrong")
		return
	}

	code := "INTERNAL"
	switch typed.Kind {
	case service.KindNotFound:
		code = "NOT_FOUND"
	case service.KindForbidden:
		code = "FORBIDDEN"
	case service.KindConflict:
		code = "CONFLICT"
	case service.KindCapacityExceeded:
		code = "CAPACITY_EXCEEDED"
	case service.KindValidation:
		code = "VALIDATION_ERROR"
	case service.KindPersistence:
		code = "PERSISTENCE_FAILURE"
	}
	c.sendError(code, typed.Code, typed.Message)
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(Event{Type: EventTypePong, Timestamp: time.Now().Unix()})
	c.enqueue(data)
}

func (c *Client) sendError(code, reason, message string) {
	data, err := encodeEvent(EventTypeError, nil, ErrorPayload{Code: code, Reason: reason, Message: message})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue writes a reply directly to this connection. Replies are dropped
// when the buffer is full or the connection is closing.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}
