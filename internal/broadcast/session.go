package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamline/gateway/internal/hlc"
	"github.com/streamline/gateway/internal/syncstore"
)

// Message type discriminators for the real-time session wire protocol
// (spec.md §6).
const (
	msgWatchlistUpdate = "watchlist_update"
	msgProgressUpdate  = "progress_update"
	msgDeviceCommand   = "device_command"
	msgDeviceHeartbeat = "device_heartbeat"
	msgPing            = "ping"
	msgPong            = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 64 * 1024
)

// DeviceCommand is the payload of a device_command message, constructed
// from a device.CommandMessage by Hub.PublishCommand.
type DeviceCommand struct {
	Target    string         `json:"target"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// outboundMessage is what the hub enqueues onto a session's send channel.
type outboundMessage struct {
	Type    string                `json:"type"`
	Delta   *syncstore.Delta      `json:"delta,omitempty"`
	Command *DeviceCommand        `json:"command,omitempty"`
}

// inboundMessage is what a session reads off the wire: client-originated
// deltas, heartbeats, and pongs.
type inboundMessage struct {
	Type       string             `json:"type"`
	Kind       syncstore.DeltaKind `json:"kind,omitempty"`
	Collection string             `json:"collection,omitempty"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	TS         *hlc.Timestamp     `json:"ts,omitempty"`
}

// ApplyLocalFunc is the subset of syncstore.Manager a Session needs to
// apply inbound client deltas. Defined as a narrow function type (rather
// than importing syncstore.SyncStore directly) so sessions can be unit
// tested without a real Manager.
type ApplyLocalFunc func(ctx context.Context, userID, originDeviceID string, kind syncstore.DeltaKind, collection string, payload any, ts *hlc.Timestamp) (syncstore.Delta, error)

// Session wraps one client WebSocket connection: one goroutine reads, one
// writes, matching the single-writer-per-conn rule gorilla/websocket
// imposes.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	userID   string
	deviceID string

	send      chan outboundMessage
	applyFunc ApplyLocalFunc

	closeOnce chan struct{}
}

// NewSession registers a new session and starts its read/write pumps. The
// caller owns conn's lifecycle up to this call; Session takes over close
// on either pump's exit.
func NewSession(hub *Hub, conn *websocket.Conn, userID, deviceID string, applyFunc ApplyLocalFunc) *Session {
	s := &Session{
		hub:       hub,
		conn:      conn,
		userID:    userID,
		deviceID:  deviceID,
		send:      make(chan outboundMessage, sessionQueueSize),
		applyFunc: applyFunc,
		closeOnce: make(chan struct{}),
	}
	hub.register(s)
	go s.writePump()
	go s.readPump()
	return s
}

// enqueue delivers msg to the session's send buffer without blocking
// (spec.md §4.4 backpressure policy). When the buffer is full, a droppable
// msg (progress_update) is itself dropped and the queued entries stay as
// they are. A non-droppable msg (OR-Set delta, device command) takes the
// slot of the entry at the head of the buffer if that entry is droppable;
// if the head is non-droppable, it is re-queued at the tail and msg is
// counted as dropped. Only the head entry is examined.
func (s *Session) enqueue(msg outboundMessage, m *Metrics) {
	select {
	case s.send <- msg:
		return
	default:
	}

	if msg.droppable() {
		m.dropped(msg.Type)
		return
	}

	// Channel is full and msg is non-droppable: evict the head entry if it
	// is droppable to make room for msg.
	select {
	case evicted := <-s.send:
		if !evicted.droppable() {
			// Nothing droppable was sitting at the head; put it back and
			// drop msg's kind's counter as a last resort rather than
			// silently losing the evicted entry.
			select {
			case s.send <- evicted:
			default:
			}
			m.dropped(msg.Type)
			return
		}
		m.dropped(evicted.Type)
		select {
		case s.send <- msg:
		default:
			m.dropped(msg.Type)
		}
	default:
		select {
		case s.send <- msg:
		default:
			m.dropped(msg.Type)
		}
	}
}

func (s *Session) Close() {
	select {
	case <-s.closeOnce:
	default:
		close(s.closeOnce)
		s.conn.Close()
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		s.hub.unregister(s)
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			start := time.Now()
			if err := s.conn.WriteJSON(msg); err != nil {
				slog.Warn("broadcast: write failed", "user_id", s.userID, "device_id", s.deviceID, "error", err)
				return
			}
			s.hub.metrics.observeRelayLatency(time.Since(start))

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(outboundMessage{Type: msgPing}); err != nil {
				return
			}

		case <-s.closeOnce:
			return
		}
	}
}

func (s *Session) readPump() {
	defer func() {
		s.Close()
		s.hub.unregister(s)
	}()

	s.conn.SetReadLimit(maxMessage)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in inboundMessage
		if err := s.conn.ReadJSON(&in); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch in.Type {
		case msgPong, msgDeviceHeartbeat:
			continue
		case msgWatchlistUpdate, msgProgressUpdate:
			if s.applyFunc == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			var payload any = in.Payload
			if _, err := s.applyFunc(ctx, s.userID, s.deviceID, in.Kind, in.Collection, payload, in.TS); err != nil {
				slog.Warn("broadcast: apply_local from session failed",
					"user_id", s.userID, "device_id", s.deviceID, "error", err)
			}
			cancel()
		}
	}
}
