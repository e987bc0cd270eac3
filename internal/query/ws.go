package query

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

// upgrader mirrors internal/api/sfu_ws_handlers.go's settings; this feed is
// read-only to the UI so CheckOrigin stays permissive rather than gated on
// a token like the teacher's SFU signaling channel.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans out committed ChangeRecord payloads (as published by
// internal/change.Engine on ChangeSubject) to every connected
// /changes/stream client. Unlike sfu_ws_handlers.go's ServeWS, which loops
// on ReadMessage to consume client-sent events, this connection only writes
// payloads; frames a client sends are read and discarded.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte

	sub *nats.Subscription
}

// NewHub subscribes to conn's ChangeSubject if conn is non-nil (NATS_URL
// unset disables the live feed without affecting paged reads, same
// best-effort posture as internal/change.Publisher).
func NewHub(conn *nats.Conn, subject string) (*Hub, error) {
	h := &Hub{clients: make(map[*websocket.Conn]chan []byte)}
	if conn == nil {
		return h, nil
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		h.broadcast(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	h.sub = sub
	return h, nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- data:
		default:
			log.Printf("[query] ws client send buffer full, dropping message")
		}
	}
}

// ServeWS upgrades the request and streams ChangeRecord JSON payloads
// until the client disconnects or a write fails.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[query] ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Drain client-sent frames (pings, close) so the connection doesn't
	// look stalled to intermediaries; any payload they send is ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Close unsubscribes from NATS; open client connections are left to close
// on their own read/write errors.
func (h *Hub) Close() {
	if h.sub != nil {
		h.sub.Unsubscribe()
	}
}
