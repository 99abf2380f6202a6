package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// HubOptions bound the per-subscriber queue and inbound frame size.
type HubOptions struct {
	// SendQueue is the number of events buffered per subscriber before
	// the oldest is dropped.
	SendQueue int
	// MaxEventBytes caps inbound frames; oversized frames close the
	// connection.
	MaxEventBytes int64
	// CheckOrigin overrides the upgrader origin policy. Nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// Hub fans events out to a room's websocket subscribers. Delivery per
// subscriber is FIFO and at-least-once; a slow subscriber loses its
// oldest buffered events and receives a GapDetected signal telling it
// to resync rather than trust its local view.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader

	// OnEvent receives events sent by connected participants.
	OnEvent func(roomID string, ev models.Event)
	// OnPresence is called with +1/-1 as subscribers join and leave.
	OnPresence func(roomID string, delta int)

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	room string
	conn *websocket.Conn

	mu      sync.Mutex
	send    chan *bytebufferpool.ByteBuffer
	dropped int64

	once sync.Once
	done chan struct{}
}

func NewHub(opts HubOptions) *Hub {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.MaxEventBytes <= 0 {
		opts.MaxEventBytes = 256 << 10
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Hub{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: check},
		rooms:    map[string]map[*subscriber]struct{}{},
	}
}

// Broadcast delivers ev to every subscriber of roomID. It never blocks
// on a slow connection: the subscriber's oldest buffered event is
// dropped instead and accounted for in its next GapDetected signal.
func (h *Hub) Broadcast(roomID string, ev models.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("event_marshal_failed", "room", roomID, "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.rooms[roomID]))
	for s := range h.rooms[roomID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(b)
	}
}

// Subscribers reports the current subscriber count for a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (s *subscriber) enqueue(b []byte) {
	buf := bytebufferpool.Get()
	_, _ = buf.Write(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		bytebufferpool.Put(buf)
		return
	default:
	}
	for {
		select {
		case s.send <- buf:
			return
		default:
		}
		// full: evict the oldest queued event and retry
		select {
		case old := <-s.send:
			bytebufferpool.Put(old)
			atomic.AddInt64(&s.dropped, 1)
			telemetry.EventsDropped.Inc()
		default:
		}
	}
}

// ServeWS upgrades the request and attaches the connection to roomID.
// It returns once the upgrade completes; pumps run on their own
// goroutines for the life of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, roomID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "room", roomID, "error", err)
		return
	}
	s := &subscriber{
		room: roomID,
		conn: conn,
		send: make(chan *bytebufferpool.ByteBuffer, h.opts.SendQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = map[*subscriber]struct{}{}
	}
	h.rooms[roomID][s] = struct{}{}
	h.mu.Unlock()

	telemetry.Subscribers.Inc()
	if h.OnPresence != nil {
		h.OnPresence(roomID, 1)
	}
	logger.Info("ws_subscriber_joined", "room", roomID, "remote", conn.RemoteAddr().String())

	go h.writePump(s)
	go h.readPump(s)
}

func (h *Hub) detach(s *subscriber) {
	s.once.Do(func() {
		close(s.done)
		h.mu.Lock()
		if subs := h.rooms[s.room]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.rooms, s.room)
			}
		}
		h.mu.Unlock()
		_ = s.conn.Close()

		s.mu.Lock()
		for {
			select {
			case buf := <-s.send:
				bytebufferpool.Put(buf)
				continue
			default:
			}
			break
		}
		s.mu.Unlock()

		telemetry.Subscribers.Dec()
		if h.OnPresence != nil {
			h.OnPresence(s.room, -1)
		}
		logger.Info("ws_subscriber_left", "room", s.room)
	})
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.detach(s)
	}()
	for {
		select {
		case <-s.done:
			return
		case buf := <-s.send:
			// a gap signal precedes the event that follows the drop
			if n := atomic.SwapInt64(&s.dropped, 0); n > 0 {
				telemetry.GapSignals.Inc()
				gap, _ := json.Marshal(models.NewGapDetected(s.room, int(n)))
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, gap); err != nil {
					bytebufferpool.Put(buf)
					return
				}
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.TextMessage, buf.B)
			bytebufferpool.Put(buf)
			if err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(s *subscriber) {
	defer h.detach(s)
	s.conn.SetReadLimit(h.opts.MaxEventBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_failed", "room", s.room, "error", err)
			}
			return
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("ws_bad_frame", "room", s.room, "error", err)
			continue
		}
		if h.OnEvent != nil {
			h.OnEvent(s.room, ev)
		}
	}
}

// Shutdown closes every connection. Subscribers observe a normal close.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*subscriber, 0)
	for _, subs := range h.rooms {
		for s := range subs {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range all {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(writeWait))
		h.detach(s)
	}
}
