package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/telemetry"
)

// ChannelConfig configures a consumer-side dispatch channel.
type ChannelConfig struct {
	// URL is the full websocket endpoint, e.g. ws://host/ws/debate/room-1.
	URL string
	// Room labels events synthesized locally (gap signals).
	Room string
	// Buffer is the number of events held for a slow consumer before the
	// oldest is discarded.
	Buffer int
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
	// Header is passed to the websocket handshake (auth, origin).
	Header map[string][]string
}

// Channel is the consumer side of the realtime dispatch: it maintains a
// websocket to the hub, reconnects with exponential backoff, and hands
// events to the subscriber in arrival order. Both directions are
// buffered and never block the socket: overflow drops the oldest
// buffered events and injects a GapDetected signal so the other side
// knows to resync.
type Channel struct {
	cfg    ChannelConfig
	dialer *websocket.Dialer

	mu      sync.Mutex
	ring    []models.Event
	dropped int
	notify  chan struct{}

	// outbox holds events published while disconnected (or faster than
	// the socket drains); replayed in publish order on reconnect.
	outMu      sync.Mutex
	outbox     []models.Event
	outDropped int
	outNotify  chan struct{}

	out      chan models.Event
	done     chan struct{}
	stopOnce sync.Once

	conn   *websocket.Conn
	connMu sync.Mutex

	connected func(bool)
}

// NewChannel starts the channel immediately. Subscribe for events,
// Close to stop.
func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	c := &Channel{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		notify:    make(chan struct{}, 1),
		outNotify: make(chan struct{}, 1),
		out:       make(chan models.Event),
		done:      make(chan struct{}),
	}
	go c.run()
	go c.deliver()
	return c
}

// OnConnected registers a callback invoked with the connection state on
// every transition. Must be set before events matter to the caller.
func (c *Channel) OnConnected(fn func(bool)) { c.connected = fn }

// Subscribe returns the ordered event stream. The channel is closed
// only by Close.
func (c *Channel) Subscribe() <-chan models.Event { return c.out }

// Publish queues ev for delivery to the hub and returns immediately.
// While disconnected, events accumulate in a bounded outbox and are
// replayed in publish order once the connection is back; on overflow
// the oldest queued events are dropped and the hub receives a
// GapDetected signal covering them.
func (c *Channel) Publish(ev models.Event) {
	c.outMu.Lock()
	if len(c.outbox) >= c.cfg.Buffer {
		copy(c.outbox, c.outbox[1:])
		c.outbox = c.outbox[:len(c.outbox)-1]
		c.outDropped++
		telemetry.EventsDropped.Inc()
	}
	c.outbox = append(c.outbox, ev)
	c.outMu.Unlock()
	select {
	case c.outNotify <- struct{}{}:
	default:
	}
}

// Pending reports how many published events are waiting for delivery.
func (c *Channel) Pending() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return len(c.outbox)
}

// Close tears the channel down; Subscribe's stream ends.
func (c *Channel) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

func (c *Channel) run() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever

	for {
		select {
		case <-c.done:
			return
		default:
		}
		conn, _, err := c.dialer.DialContext(context.Background(), c.cfg.URL, c.cfg.Header)
		if err != nil {
			wait := bo.NextBackOff()
			logger.Warn("channel_dial_failed", "url", c.cfg.URL, "retry_in", wait.String(), "error", err)
			select {
			case <-c.done:
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		logger.Info("channel_connected", "url", c.cfg.URL)

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		if c.connected != nil {
			c.connected(true)
		}

		closed := make(chan struct{})
		go c.writeLoop(conn, closed)
		c.readLoop(conn)
		close(closed)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		if c.connected != nil {
			c.connected(false)
		}
		select {
		case <-c.done:
			return
		default:
			logger.Warn("channel_disconnected", "url", c.cfg.URL)
		}
	}
}

// writeLoop drains the outbox over one connection. An event is removed
// from the outbox only after its write succeeds, so a mid-flight
// connection loss replays it on the next connection (at-least-once).
func (c *Channel) writeLoop(conn *websocket.Conn, closed <-chan struct{}) {
	for {
		if !c.flushOutbox(conn) {
			return
		}
		select {
		case <-c.done:
			return
		case <-closed:
			return
		case <-c.outNotify:
		}
	}
}

func (c *Channel) flushOutbox(conn *websocket.Conn) bool {
	for {
		c.outMu.Lock()
		if c.outDropped > 0 {
			n := c.outDropped
			c.outDropped = 0
			c.outMu.Unlock()
			if err := writeEvent(conn, models.NewGapDetected(c.cfg.Room, n)); err != nil {
				c.outMu.Lock()
				c.outDropped += n
				c.outMu.Unlock()
				return false
			}
			telemetry.GapSignals.Inc()
			continue
		}
		if len(c.outbox) == 0 {
			c.outMu.Unlock()
			return true
		}
		ev := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.outMu.Unlock()

		if err := writeEvent(conn, ev); err != nil {
			// back to the front; the next connection replays it
			c.outMu.Lock()
			c.outbox = append([]models.Event{ev}, c.outbox...)
			c.outMu.Unlock()
			return false
		}
	}
}

func writeEvent(conn *websocket.Conn, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("channel_bad_frame", "error", err)
			continue
		}
		c.push(ev)
	}
}

// push buffers an event for the consumer, evicting the oldest when the
// ring is full.
func (c *Channel) push(ev models.Event) {
	c.mu.Lock()
	if len(c.ring) >= c.cfg.Buffer {
		copy(c.ring, c.ring[1:])
		c.ring = c.ring[:len(c.ring)-1]
		c.dropped++
		telemetry.EventsDropped.Inc()
	}
	c.ring = append(c.ring, ev)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Channel) deliver() {
	defer close(c.out)
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}
		for {
			c.mu.Lock()
			if len(c.ring) == 0 {
				c.mu.Unlock()
				break
			}
			var gap *models.Event
			if c.dropped > 0 {
				g := models.NewGapDetected(c.cfg.Room, c.dropped)
				gap = &g
				c.dropped = 0
				telemetry.GapSignals.Inc()
			}
			ev := c.ring[0]
			copy(c.ring, c.ring[1:])
			c.ring = c.ring[:len(c.ring)-1]
			c.mu.Unlock()

			if gap != nil {
				select {
				case <-c.done:
					return
				case c.out <- *gap:
				}
			}
			select {
			case <-c.done:
				return
			case c.out <- ev:
			}
		}
	}
}
