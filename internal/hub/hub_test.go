package hub

import (
	"encoding/json"
	"testing"
)

func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case payload, ok := <-c.Out():
			if !ok {
				return events
			}
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				t.Fatalf("Failed to unmarshal event: %v", err)
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestBroadcast_OnlyRoomMembers(t *testing.T) {
	h := NewHub()
	alice := NewClient("alice")
	bob := NewClient("bob")
	carol := NewClient("carol")

	h.Join("p1", alice)
	h.Join("p1", bob)
	h.Join("p2", carol)

	h.Broadcast("p1", Event{Name: "userJoinedProject", Data: map[string]string{"userId": "bob"}})

	if got := len(drain(t, alice)); got != 1 {
		t.Errorf("Expected alice to receive 1 event, got %d", got)
	}
	if got := len(drain(t, bob)); got != 1 {
		t.Errorf("Expected bob to receive 1 event, got %d", got)
	}
	if got := len(drain(t, carol)); got != 0 {
		t.Errorf("Expected carol (other room) to receive nothing, got %d", got)
	}
}

func TestBroadcast_NoRetroactiveDelivery(t *testing.T) {
	h := NewHub()
	alice := NewClient("alice")
	h.Join("p1", alice)

	h.Broadcast("p1", Event{Name: "before"})

	late := NewClient("late")
	h.Join("p1", late)

	h.Broadcast("p1", Event{Name: "after"})

	events := drain(t, late)
	if len(events) != 1 || events[0].Name != "after" {
		t.Errorf("Late joiner must only see events issued after joining, got %+v", events)
	}
}

func TestBroadcast_Ordering(t *testing.T) {
	h := NewHub()
	alice := NewClient("alice")
	h.Join("p1", alice)

	h.Broadcast("p1", Event{Name: "first"})
	h.Broadcast("p1", Event{Name: "second"})
	h.Broadcast("p1", Event{Name: "third"})

	events := drain(t, alice)
	want := []string{"first", "second", "third"}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, name := range want {
		if events[i].Name != name {
			t.Errorf("Event %d: expected %q, got %q", i, name, events[i].Name)
		}
	}
}

func TestLeave_TearsDownEmptyRoom(t *testing.T) {
	h := NewHub()
	alice := NewClient("alice")

	h.Join("p1", alice)
	if h.RoomSize("p1") != 1 {
		t.Fatalf("Expected room size 1, got %d", h.RoomSize("p1"))
	}

	h.Leave("p1", alice)
	if h.RoomSize("p1") != 0 {
		t.Errorf("Expected empty room after leave, got %d", h.RoomSize("p1"))
	}

	// Leaving a room never joined is a no-op.
	h.Leave("p1", alice)
	h.Leave("never-existed", alice)
}

func TestLeaveAll(t *testing.T) {
	h := NewHub()
	alice := NewClient("alice")
	bob := NewClient("bob")

	h.Join("p1", alice)
	h.Join("p1:/src/app.js", alice)
	h.Join("p1", bob)

	h.LeaveAll(alice)

	h.Broadcast("p1", Event{Name: "ev"})
	h.Broadcast("p1:/src/app.js", Event{Name: "ev"})

	if got := len(drain(t, alice)); got != 0 {
		t.Errorf("Expected no delivery after LeaveAll, got %d", got)
	}
	if got := len(drain(t, bob)); got != 1 {
		t.Errorf("Expected bob to still receive project events, got %d", got)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub()
	slow := NewClient("slow")
	h.Join("p1", slow)

	// Nobody drains the queue; overflow must close, not block.
	for i := 0; i < sendBuffer+10; i++ {
		h.Broadcast("p1", Event{Name: "flood"})
	}

	// The channel is closed once the client is dropped.
	n := 0
	for range slow.Out() {
		n++
	}
	if n != sendBuffer {
		t.Errorf("Expected exactly %d buffered events before drop, got %d", sendBuffer, n)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	c := NewClient("alice")
	c.Close()
	c.Close()

	// Send after close is a no-op, not a panic.
	c.Send(Event{Name: "late"})
}
