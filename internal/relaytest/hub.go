// Package relaytest provides an in-process room relay for tests. It behaves
// like the production relay: every text frame is forwarded to the other
// clients in the same room, and a client's disconnect is announced with a
// user-left envelope carrying the id it joined with.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	room string

	mu sync.Mutex // serializes writes
	id string     // learned from the first envelope with a "from" field
}

func (c *client) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is a running test relay.
type Hub struct {
	srv *httptest.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	frames  map[string][][]byte // room → every frame relayed, in order
	joined  chan string         // ids as they are learned
}

// NewHub starts a relay on a loopback port.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		frames:  make(map[string][][]byte),
		joined:  make(chan string, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", h.handleWS)
	h.srv = httptest.NewServer(mux)
	return h
}

// URL is the base URL to hand to signaling.BuildURL.
func (h *Hub) URL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

// Joined delivers each participant id the first time the hub sees it.
func (h *Hub) Joined() <-chan string {
	return h.joined
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimPrefix(r.URL.Path, "/ws/")
	if room == "" {
		http.Error(w, "missing room", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, room: room}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.serve(c)
}

func (h *Hub) serve(c *client) {
	defer h.drop(c)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.learnID(c, data)
		h.broadcast(c.room, c, data)
	}
}

func (h *Hub) learnID(c *client, data []byte) {
	var env struct {
		From string `json:"from"`
	}
	if json.Unmarshal(data, &env) != nil || env.From == "" {
		return
	}
	c.mu.Lock()
	first := c.id == ""
	if first {
		c.id = env.From
	}
	c.mu.Unlock()
	if first {
		select {
		case h.joined <- env.From:
		default:
		}
	}
}

// broadcast sends data to every client in room except from (nil = all).
func (h *Hub) broadcast(room string, from *client, data []byte) {
	h.mu.Lock()
	h.frames[room] = append(h.frames[room], data)
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c != from && c.room == room {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.write(data)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
	if !ok {
		return
	}

	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	if id == "" {
		return
	}
	left, _ := json.Marshal(map[string]string{"type": "user-left", "id": id})
	h.broadcast(c.room, c, left)
}

// Frames returns a copy of every frame relayed in room so far.
func (h *Hub) Frames(room string) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.frames[room]))
	copy(out, h.frames[room])
	return out
}

// Kick drops every connection in room, as a relay restart would.
func (h *Hub) Kick(room string) {
	h.mu.Lock()
	var targets []*client
	for c := range h.clients {
		if c.room == room {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.conn.Close()
	}
}

// Close shuts the relay down.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.Unlock()
	h.srv.Close()
}
