package main

import (
	"testing"

	"github.com/gorilla/websocket"
)

func roomCount() int {
	roomsMu.Lock()
	defer roomsMu.Unlock()
	return len(rooms)
}

func TestRoomRemovedWhenEmpty(t *testing.T) {
	a, b := &websocket.Conn{}, &websocket.Conn{}

	rm := join("room1", a, false)
	if again := join("room1", b, false); again != rm {
		t.Fatal("expected viewers of the same room to share it")
	}
	if roomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", roomCount())
	}

	rm.leave("room1", a)
	if roomCount() != 1 {
		t.Errorf("room with a viewer left must remain, got %d rooms", roomCount())
	}

	rm.leave("room1", b)
	if roomCount() != 0 {
		t.Errorf("expected empty room removed, got %d rooms", roomCount())
	}

	if fresh := join("room1", a, false); fresh == rm {
		t.Error("expected a new room after the old one was removed")
	}
	rooms = map[string]*room{}
}
