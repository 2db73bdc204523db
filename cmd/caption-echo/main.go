// Command caption-echo is a local stand-in for the caption server. Each
// audio chunk a broadcaster sends comes back to the room's viewers as a
// caption describing the chunk.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type room struct {
	mu          sync.Mutex
	broadcaster *websocket.Conn
	viewers     map[*websocket.Conn]struct{}
}

var (
	roomsMu sync.Mutex
	rooms   = map[string]*room{}
)

// join registers conn in the room, creating the room on first use.
func join(id string, conn *websocket.Conn, broadcaster bool) *room {
	roomsMu.Lock()
	defer roomsMu.Unlock()
	r, ok := rooms[id]
	if !ok {
		r = &room{viewers: map[*websocket.Conn]struct{}{}}
		rooms[id] = r
	}

	r.mu.Lock()
	if broadcaster {
		r.broadcaster = conn
	} else {
		r.viewers[conn] = struct{}{}
	}
	r.mu.Unlock()
	return r
}

func main() {
	addr := os.Getenv("ECHO_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	http.HandleFunc("/ws/stream/", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/stream/"), true)
	})
	http.HandleFunc("/ws/view/", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/view/"), false)
	})

	fmt.Printf("[ECHO] Listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func serve(w http.ResponseWriter, r *http.Request, roomID string, broadcaster bool) {
	if roomID == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[ECHO] Upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	writeJSON(conn, protocol.ConnectionEstablished{
		Type:    protocol.MessageTypeConnectionEstablished,
		RoomID:  roomID,
		Message: "connected to " + roomID,
	})

	rm := join(roomID, conn, broadcaster)
	defer rm.leave(roomID, conn)

	fmt.Printf("[ECHO] %s joined room %s (broadcaster=%v)\n", conn.RemoteAddr(), roomID, broadcaster)
	rm.announceViewers()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("[ECHO] %s left room %s: %v\n", conn.RemoteAddr(), roomID, err)
			return
		}
		if kind == websocket.TextMessage && string(data) == protocol.TokenPing {
			rm.mu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, []byte(protocol.TokenPong))
			rm.mu.Unlock()
			if err != nil {
				return
			}
			continue
		}
		if broadcaster && kind == websocket.BinaryMessage {
			rm.caption(len(data))
		}
	}
}

func (rm *room) leave(id string, conn *websocket.Conn) {
	roomsMu.Lock()
	rm.mu.Lock()
	if rm.broadcaster == conn {
		rm.broadcaster = nil
	}
	delete(rm.viewers, conn)
	empty := rm.broadcaster == nil && len(rm.viewers) == 0
	if empty && rooms[id] == rm {
		delete(rooms, id)
	}
	rm.mu.Unlock()
	roomsMu.Unlock()

	if !empty {
		rm.announceViewers()
	}
}

func (rm *room) caption(size int) {
	text := fmt.Sprintf("received %d bytes of audio", size)
	msg := protocol.Caption{
		Type:        protocol.MessageTypeCaption,
		Original:    text,
		Translation: strings.ToUpper(text),
		TS:          float64(time.Now().UnixNano()) / float64(time.Second),
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.broadcaster != nil {
		writeJSON(rm.broadcaster, msg)
	}
	for v := range rm.viewers {
		writeJSON(v, msg)
	}
}

func (rm *room) announceViewers() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.broadcaster == nil {
		return
	}
	writeJSON(rm.broadcaster, protocol.ViewerCount{
		Type:  protocol.MessageTypeViewerCount,
		Count: len(rm.viewers),
	})
}

// writeJSON needs the room lock once conn is registered; gorilla connections
// allow one concurrent writer.
func writeJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Printf("[ECHO] Marshal error: %v\n", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		fmt.Printf("[ECHO] WriteMessage error: %v\n", err)
	}
}
