package station

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/internal/metrics"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

var errViewerNotFound = errors.New("viewer not found")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512 // viewers only send control frames
	sendQueueSize  = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The station serves LAN dashboards from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Viewer is one connected dashboard socket.
type Viewer struct {
	ID          string
	Label       string
	ConnectedAt time.Time

	allowed bool
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

// ViewerInfo is the API representation of a viewer.
type ViewerInfo struct {
	ViewerID    string `json:"viewer_id"`
	Label       string `json:"label"`
	Allowed     bool   `json:"allowed"`
	ConnectedAt string `json:"connected_at"`
}

// Hub owns all viewer connections: admission against the connection
// limit, frame fanout, and the allow/revoke registry. Revoking a
// viewer stops its frames but deliberately keeps the socket open.
type Hub struct {
	maxViewers int
	m          *metrics.Metrics

	mu      sync.RWMutex
	viewers map[string]*Viewer
}

// NewHub creates a hub admitting at most maxViewers concurrent
// viewers. metrics may be nil.
func NewHub(maxViewers int, m *metrics.Metrics) *Hub {
	if maxViewers <= 0 {
		maxViewers = 1
	}
	return &Hub{
		maxViewers: maxViewers,
		m:          m,
		viewers:    make(map[string]*Viewer),
	}
}

// HandleStream upgrades /ws/stream requests. Over-limit connections
// are told why before being closed instead of failing the handshake.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Hub", "Upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if len(h.viewers) >= h.maxViewers {
		h.mu.Unlock()
		h.reject(conn)
		return
	}

	v := &Viewer{
		ID:          uuid.NewString(),
		Label:       r.URL.Query().Get("label"),
		ConnectedAt: time.Now(),
		allowed:     true,
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
	}
	h.viewers[v.ID] = v
	h.updateCountsLocked()
	h.mu.Unlock()

	if h.m != nil {
		h.m.TotalViewers.Add(1)
	}
	logger.Info("Hub", "Viewer connected: %s (label %q) from %s", v.ID, v.Label, r.RemoteAddr)

	greeting, err := telemetry.EncodeSystem("connected", "WebSocket connection established", nil)
	if err == nil {
		v.enqueue(greeting)
	}

	go h.writePump(v)
	go h.readPump(v)
}

// reject tells an over-limit client why before closing, so dashboards
// can distinguish "station busy" from a network failure.
func (h *Hub) reject(conn *websocket.Conn) {
	logger.Warn("Hub", "Rejecting viewer from %s: connection limit reached", conn.RemoteAddr())
	msg, err := telemetry.EncodeSystem("error", "Connection limit reached", nil)
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit reached"),
		time.Now().Add(writeWait))
	conn.Close()
}

// Broadcast fans a pre-serialized message out to all allowed viewers.
// Slow viewers drop the message rather than stalling the stream.
// Returns how many viewers received it and how many dropped it.
func (h *Hub) Broadcast(data []byte) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, v := range h.viewers {
		if !v.allowed {
			continue
		}
		if v.enqueue(data) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// Allow restores frame delivery for a revoked viewer.
func (h *Hub) Allow(id string) error {
	return h.setAllowed(id, true, "allowed", "Viewing permission restored")
}

// Revoke stops frame delivery to a viewer while keeping its socket
// open, so permission can be restored without a reconnect.
func (h *Hub) Revoke(id string) error {
	return h.setAllowed(id, false, "revoked", "Viewing permission revoked")
}

func (h *Hub) setAllowed(id string, allowed bool, status, note string) error {
	h.mu.Lock()
	v, ok := h.viewers[id]
	if !ok {
		h.mu.Unlock()
		return errViewerNotFound
	}
	changed := v.allowed != allowed
	v.allowed = allowed
	h.updateCountsLocked()
	h.mu.Unlock()

	if changed {
		if msg, err := telemetry.EncodeSystem(status, note, nil); err == nil {
			v.enqueue(msg)
		}
		logger.Info("Hub", "Viewer %s %s", id, status)
	}
	return nil
}

// Snapshot returns all viewers ordered by connection time.
func (h *Hub) Snapshot() []ViewerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ViewerInfo, 0, len(h.viewers))
	for _, v := range h.viewers {
		out = append(out, ViewerInfo{
			ViewerID:    v.ID,
			Label:       v.Label,
			Allowed:     v.allowed,
			ConnectedAt: v.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt != out[j].ConnectedAt {
			return out[i].ConnectedAt < out[j].ConnectedAt
		}
		return out[i].ViewerID < out[j].ViewerID
	})
	return out
}

// Counts returns total, allowed and blocked viewer counts.
func (h *Hub) Counts() (total, allowed, blocked int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total = len(h.viewers)
	for _, v := range h.viewers {
		if v.allowed {
			allowed++
		}
	}
	return total, allowed, total - allowed
}

// CloseAll disconnects every viewer, e.g. on shutdown or when the
// scenario is swapped and the stream epoch restarts.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	viewers := make([]*Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
			time.Now().Add(writeWait))
		h.unregister(v)
	}
}

func (h *Hub) unregister(v *Viewer) {
	h.mu.Lock()
	_, present := h.viewers[v.ID]
	if present {
		delete(h.viewers, v.ID)
		h.updateCountsLocked()
	}
	h.mu.Unlock()

	v.once.Do(func() { close(v.send) })
	v.conn.Close()
	if present {
		logger.Info("Hub", "Viewer disconnected: %s", v.ID)
	}
}

// updateCountsLocked refreshes the viewer gauges. Callers hold h.mu.
func (h *Hub) updateCountsLocked() {
	if h.m == nil {
		return
	}
	blocked := 0
	for _, v := range h.viewers {
		if !v.allowed {
			blocked++
		}
	}
	h.m.ActiveViewers.Store(uint64(len(h.viewers)))
	h.m.BlockedViewers.Store(uint64(blocked))
}

// enqueue queues a message without blocking. Reports whether the
// message was accepted.
func (v *Viewer) enqueue(data []byte) bool {
	select {
	case v.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) readPump(v *Viewer) {
	defer h.unregister(v)

	v.conn.SetReadLimit(maxInboundSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Viewers have nothing to say; reads only surface pongs,
		// closes and errors.
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Hub", "Viewer %s read error: %v", v.ID, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(v *Viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if h.m != nil {
					h.m.SendErrors.Add(1)
				}
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
