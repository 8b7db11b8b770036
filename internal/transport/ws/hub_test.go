package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/ratelimit"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(nil))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.stopped
	})
	return hub
}

func registerClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	return registerUser(t, hub, uuid.New())
}

func registerUser(t *testing.T, hub *Hub, userID uuid.UUID) *Client {
	t.Helper()
	c := NewClient(hub, nil, userID, nil, ratelimit.NewWindow(0, 0))
	if err := hub.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	return c
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case frame := <-c.send:
		var evt Event
		if err := json.Unmarshal(frame, &evt); err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Event{}
	}
}

func mustJoin(t *testing.T, hub *Hub, c *Client, teamID uuid.UUID) {
	t.Helper()
	frame, err := encodeEvent(EventTypeRoomJoined, &teamID, RoomPayload{TeamID: teamID})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := hub.Join(context.Background(), c, teamID, frame); err != nil {
		t.Fatalf("join: %v", err)
	}
	if evt := recvEvent(t, c); evt.Type != EventTypeRoomJoined {
		t.Fatalf("expected roomJoined, got %s", evt.Type)
	}
}

func TestHubBroadcastReachesEveryoneInRoom(t *testing.T) {
	hub := startHub(t)
	team := uuid.New()
	a := registerClient(t, hub)
	b := registerClient(t, hub)
	outsider := registerClient(t, hub)
	mustJoin(t, hub, a, team)
	mustJoin(t, hub, b, team)
	mustJoin(t, hub, outsider, uuid.New())

	hub.BroadcastToRoom(team, &Event{Type: EventTypeReceiveMessage, TeamID: &team})

	for _, c := range []*Client{a, b} {
		if evt := recvEvent(t, c); evt.Type != EventTypeReceiveMessage || *evt.TeamID != team {
			t.Fatalf("unexpected event: %+v", evt)
		}
	}
	select {
	case frame := <-outsider.send:
		t.Fatalf("outsider received %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubJoinReplacesPreviousRoom(t *testing.T) {
	hub := startHub(t)
	first, second := uuid.New(), uuid.New()
	c := registerClient(t, hub)
	mustJoin(t, hub, c, first)
	mustJoin(t, hub, c, second)

	hub.BroadcastToRoom(first, &Event{Type: "first"})
	hub.BroadcastToRoom(second, &Event{Type: "second"})

	// Ops are applied in order, so the first frame seen must be from the second room.
	if evt := recvEvent(t, c); evt.Type != "second" {
		t.Fatalf("expected only the second room's event, got %s", evt.Type)
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := startHub(t)
	team := uuid.New()
	c := registerClient(t, hub)
	mustJoin(t, hub, c, team)

	left, err := encodeEvent(EventTypeRoomLeft, &team, RoomPayload{TeamID: team})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := hub.Leave(context.Background(), c, left); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if evt := recvEvent(t, c); evt.Type != EventTypeRoomLeft {
		t.Fatalf("expected roomLeft, got %s", evt.Type)
	}

	hub.BroadcastToRoom(team, &Event{Type: "after-leave"})
	other := uuid.New()
	mustJoin(t, hub, c, other)
}

func TestHubEvictRemovesEveryConnectionOfUser(t *testing.T) {
	hub := startHub(t)
	team := uuid.New()
	removed := uuid.New()
	tab1 := registerUser(t, hub, removed)
	tab2 := registerUser(t, hub, removed)
	stays := registerClient(t, hub)
	for _, c := range []*Client{tab1, tab2, stays} {
		mustJoin(t, hub, c, team)
	}
	tab1.setRoom(&team)

	left, err := encodeEvent(EventTypeRoomLeft, &team, RoomPayload{TeamID: team})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := hub.Evict(context.Background(), team, removed, left); err != nil {
		t.Fatalf("evict: %v", err)
	}
	hub.BroadcastToRoom(team, &Event{Type: EventTypeReceiveMessage})

	for _, c := range []*Client{tab1, tab2} {
		if evt := recvEvent(t, c); evt.Type != EventTypeRoomLeft {
			t.Fatalf("expected roomLeft, got %s", evt.Type)
		}
		select {
		case frame := <-c.send:
			t.Fatalf("evicted connection received %s", frame)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if _, ok := tab1.Room(); ok {
		t.Fatal("evicted connection should have no current room")
	}
	if evt := recvEvent(t, stays); evt.Type != EventTypeReceiveMessage {
		t.Fatalf("remaining member should still be served, got %s", evt.Type)
	}
}

func TestHubDisconnectsSlowConsumer(t *testing.T) {
	hub := startHub(t)
	team := uuid.New()
	slow := registerClient(t, hub)
	fast := registerClient(t, hub)
	mustJoin(t, hub, slow, team)
	mustJoin(t, hub, fast, team)

	for range sendBufSize {
		slow.send <- []byte(`{}`)
	}
	hub.BroadcastToRoom(team, &Event{Type: EventTypeReceiveMessage})

	select {
	case <-slow.done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow client should have been disconnected")
	}
	if evt := recvEvent(t, fast); evt.Type != EventTypeReceiveMessage {
		t.Fatalf("fast client should still be served, got %s", evt.Type)
	}
}

func TestHubUnregisterCleansUpRooms(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(nil))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	team := uuid.New()
	c := registerClient(t, hub)
	mustJoin(t, hub, c, team)
	hub.Unregister(c)

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister should close the client")
	}

	cancel()
	<-hub.stopped
	if len(hub.rooms) != 0 || len(hub.clients) != 0 {
		t.Fatalf("expected empty hub, got %d rooms and %d clients", len(hub.rooms), len(hub.clients))
	}
	if err := hub.Register(c); err != ErrHubStopped {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}
