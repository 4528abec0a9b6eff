// Package broadcast implements the user-scoped pub/sub fabric (spec.md
// §4.4) that relays sync deltas and device commands to live client
// sessions over WebSocket. The teacher has no realtime surface of its own;
// this package is modeled on the hub/session shape common across the wider
// corpus (register/unregister channels, one broadcast loop per hub, one
// send channel per connection) rather than adapted from a specific teacher
// file.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/streamline/gateway/internal/device"
	"github.com/streamline/gateway/internal/syncstore"
)

// sessionQueueSize bounds how many pending deltas a single session may
// buffer before backpressure kicks in.
const sessionQueueSize = 256

// Hub fans deltas out to every live session for a user_id. One Hub serves
// the whole process; sessions register themselves on connect.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{} // user_id -> session set

	metrics *Metrics
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		metrics:  newMetrics(),
	}
}

// Metrics exposes the hub's counters for the stats/health endpoint.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// register adds a session to its user's fan-out set. Called by Session
// once its read/write pumps are running.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.userID] = set
	}
	set[s] = struct{}{}
	h.metrics.sessionRegistered()
	slog.Info("broadcast: session registered", "user_id", s.userID, "device_id", s.deviceID)
}

// unregister removes a session, pruning the user's set if it becomes empty.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.userID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.userID)
	}
	h.metrics.sessionUnregistered()
	slog.Info("broadcast: session unregistered", "user_id", s.userID, "device_id", s.deviceID)
}

// Publish implements syncstore.Broadcaster. It fans delta out to every live
// session for userID, applying per-session backpressure independently so
// one slow consumer never blocks another.
func (h *Hub) Publish(ctx context.Context, userID string, delta syncstore.Delta) error {
	h.mu.RLock()
	set := h.sessions[userID]
	sessions := make([]*Session, 0, len(set))
	for s := range set {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	msg := outboundMessage{Type: msgTypeForDelta(delta.Kind), Delta: &delta}
	for _, s := range sessions {
		s.enqueue(msg, h.metrics)
	}
	return nil
}

// PublishCommand delivers a device command to a specific target device,
// bypassing the per-user fan-out (internal/device routes by device, not
// by collection delta). Returns false if the target has no live session.
// Implements device.Dispatcher.
func (h *Hub) PublishCommand(userID, targetDeviceID string, cmd device.CommandMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		if s.deviceID == targetDeviceID {
			wire := DeviceCommand{Target: cmd.Target, Name: cmd.Name, Args: cmd.Args, ExpiresAt: cmd.ExpiresAt}
			s.enqueue(outboundMessage{Type: msgDeviceCommand, Command: &wire}, h.metrics)
			return true
		}
	}
	return false
}

// IsOnline reports whether deviceID has a live session for userID, used by
// DeviceRegistry's command precondition checks.
func (h *Hub) IsOnline(userID, deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		if s.deviceID == deviceID {
			return true
		}
	}
	return false
}

var (
	_ syncstore.Broadcaster = (*Hub)(nil)
	_ device.Dispatcher     = (*Hub)(nil)
)

func msgTypeForDelta(kind syncstore.DeltaKind) string {
	switch kind {
	case syncstore.DeltaPositionUpdate:
		return msgProgressUpdate
	default:
		return msgWatchlistUpdate
	}
}

// droppable reports whether a message may be discarded under backpressure
// (spec.md §4.4): progress_update messages may be; OR-Set deltas and
// device commands may not.
func (m outboundMessage) droppable() bool {
	if m.Type != msgProgressUpdate {
		return false
	}
	return true
}
