package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"psp.com/species-quiz/backend/internal/quiz"
)

type MessageType string

const MessageTypeImage = MessageType("image")

// Message is what the server pushes to every connected player. Messages are
// sent outside the session lock, so one for an older generation can arrive
// after a newer one; clients keep the highest generation they have seen and
// ignore anything below it.
type Message struct {
	Type        MessageType `json:"type"`
	Generation  uint64      `json:"generation"`
	URL         string      `json:"url"`
	Placeholder bool        `json:"placeholder"`
}

func (m Message) Bytes() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal event message")
	}
	return b
}

type connection struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serialises writes
}

// Hub keeps the open websocket connections and fans messages out to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	upgrader    websocket.Upgrader
	log         *logrus.Entry
}

// NewHub returns an empty hub. checkOrigin may be nil to accept same-origin
// requests only.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		connections: map[string]*connection{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: logrus.WithField("component", "events"),
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &connection{id: uuid.NewString(), conn: ws}
	h.register(c)
	go h.read(c)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
	h.log.WithField("connection", c.id).Debug("registered connection")
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	c, ok := h.connections[id]
	delete(h.connections, id)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		h.log.WithField("connection", id).Debug("unregistered connection")
	}
}

// read drains client frames so control messages are processed and a closed
// socket is noticed.
func (h *Hub) read(c *connection) {
	defer h.unregister(c.id)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
	}
}

// snapshot copies the registry so writes happen without the lock held.
func (h *Hub) snapshot() []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload to every connection, dropping the ones that fail.
func (h *Hub) Broadcast(payload []byte) {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			h.log.WithError(err).WithField("connection", c.id).Warn("failed to send message")
			h.unregister(c.id)
		}
	}
}

// PublishImage is the session's image-ready listener.
func (h *Hub) PublishImage(img quiz.Image) {
	if img.Loading {
		return
	}
	h.Broadcast(Message{
		Type:        MessageTypeImage,
		Generation:  img.Generation,
		URL:         img.URL,
		Placeholder: img.Placeholder,
	}.Bytes())
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		h.unregister(c.id)
	}
}
