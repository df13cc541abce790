// Package messaging pushes realtime events to websocket clients grouped in
// rooms, one room per negotiation thread.
package messaging

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
)

var log = logging.Logger("messaging")

const (
	writeWait = 10 * time.Second
	// events queued per connection before a slow client is dropped
	sendBuffer = 32
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client owns one connection. Only writeLoop writes to conn.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer), closed: make(chan struct{})}
}

// kick closes the connection so the read loop in Serve ends.
func (c *client) kick() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) writeLoop() {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debugw("write to client", "error", err)
			c.kick()
			for range c.send {
			}
			return
		}
	}
}

type room struct {
	mu      sync.RWMutex
	clients map[*client]string
}

// Hub fans events out to the clients of a room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) room(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

func (h *Hub) join(id string, c *client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		r = &room{clients: make(map[*client]string)}
		h.rooms[id] = r
	}
	r.mu.Lock()
	r.clients[c] = userID
	r.mu.Unlock()
}

func (h *Hub) leave(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.clients, c)
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, id)
	}
}

// Broadcast queues an event for everyone in the room without waiting on the
// sockets. A client whose queue is full is dropped. Rooms nobody joined are
// skipped.
func (h *Hub) Broadcast(roomID, typ string, data any) {
	r := h.room(roomID)
	if r == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: typ, Data: data})
	if err != nil {
		log.Warnw("encode event", "room", roomID, "type", typ, "error", err)
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c, user := range r.clients {
		select {
		case c.send <- payload:
		default:
			log.Warnw("client too slow, dropping", "room", roomID, "user", user)
			c.kick()
		}
	}
}

// Members returns how many connections are in the room.
func (h *Hub) Members(roomID string) int {
	r := h.room(roomID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Serve upgrades the request and keeps the connection in the room until the
// client goes away. Callers check access before calling Serve. The protocol
// is server push; client frames are discarded.
func (h *Hub) Serve(c echo.Context, roomID, userID string) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := newClient(conn)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cl.writeLoop()
	}()

	h.join(roomID, cl, userID)
	h.Broadcast(roomID, "presence_join", echo.Map{"user": userID})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.leave(roomID, cl)
	// no Broadcast can reach cl once it has left the room
	close(cl.send)
	<-done
	cl.kick()
	h.Broadcast(roomID, "presence_leave", echo.Map{"user": userID})
	return nil
}
