package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event names pushed over the status socket.
const (
	EventTaskUpdate    = "task_update"
	EventLogMessage    = "log_message"
	EventSystemMessage = "system_message"
	EventFileAdded     = "file_added"
	EventFileRemoved   = "file_removed"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

// Envelope is the wire frame for every pushed event.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// client owns one observer connection. Every frame goes through the
// send channel to a single writer goroutine; the websocket connection
// does not allow concurrent writers.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans task status events out to connected websocket observers.
// Delivery is fire-and-forget: a slow or dead client is dropped, and
// emit failures are logged, never surfaced to the worker.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Status events are broadcast-only and carry no secrets.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades an HTTP request to a websocket observer connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	go h.writeLoop(cl)
	go h.readLoop(cl)

	log.Info().Int("clients", count).Msg("status observer connected")
	if data, ok := marshalEnvelope(EventSystemMessage, map[string]string{
		"message": "connected to transcription status stream",
	}); ok {
		h.deliver(cl, data)
	}
}

// Emit broadcasts one event to every connected observer.
func (h *Hub) Emit(event string, payload any) {
	data, ok := marshalEnvelope(event, payload)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			// Backed-up observer; disconnect it rather than block the
			// worker or the HTTP handlers.
			log.Debug().Msg("dropping slow status observer")
			h.dropLocked(cl)
		}
	}
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all observers and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.dropLocked(cl)
	}
}

// deliver queues one frame for a single client.
func (h *Hub) deliver(cl *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- data:
	default:
		h.dropLocked(cl)
	}
}

// writeLoop is the sole writer for one connection. It exits when the
// send channel is closed by drop, then closes the socket.
func (h *Hub) writeLoop(cl *client) {
	defer cl.conn.Close()
	for data := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("dropping status observer")
			h.drop(cl)
			// Drain whatever Emit buffered before the drop.
			for range cl.send {
			}
			return
		}
	}
}

// readLoop notices closes; observers never send application data.
func (h *Hub) readLoop(cl *client) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(512)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(cl)
}

// dropLocked unregisters a client and closes its send channel, which
// terminates the writer. The hub mutex serializes channel close against
// every sender, so no send can hit a closed channel.
func (h *Hub) dropLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

func marshalEnvelope(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal status event")
		return nil, false
	}
	return data, true
}
