// Broadcast serves decoded readings over HTTP and pushes every new reading
// to the connected websocket clients.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	latest  *types.MeterReading
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler exposes /, /latest and /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleStatus)
	mux.HandleFunc("/latest", h.handleLatest)
	mux.HandleFunc("/ws", h.handleWebsocket)
	return mux
}

// Publish stores a copy of reading as the latest one and sends it to every
// client. Clients that cannot be written to are dropped.
func (h *Hub) Publish(reading *types.MeterReading) {
	data := reading.ToJsonBytes()
	if data == nil {
		return
	}
	latest := *reading

	h.mu.Lock()
	h.latest = &latest
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, wmu := range h.clients {
		clients[c] = wmu
	}
	h.mu.Unlock()

	for c, wmu := range clients {
		if err := send(c, wmu, data); err != nil {
			h.log.Debugf("Dropping websocket client %s: %v", c.RemoteAddr(), err)
			h.remove(c)
		}
	}
}

func (h *Hub) Latest() *types.MeterReading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for c := range clients {
		c.Close()
	}
}

func send(c *websocket.Conn, wmu *sync.Mutex, data []byte) error {
	wmu.Lock()
	defer wmu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Meter Telegram API",
		"status":  "running",
	})
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading := h.Latest()
	if reading == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "No readings available yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	wmu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = wmu
	latest := h.latest
	h.mu.Unlock()
	h.log.Debugf("WebSocket client connected from %s", conn.RemoteAddr())

	// Send current reading immediately if available
	if latest != nil {
		if err := send(conn, wmu, latest.ToJsonBytes()); err != nil {
			h.remove(conn)
			return
		}
	}

	// Clients only listen, reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
