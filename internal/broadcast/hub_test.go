package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/streamline/gateway/internal/hlc"
	"github.com/streamline/gateway/internal/syncstore"
)

func TestHub_PublishFansOutToAllSessionsForUser(t *testing.T) {
	hub := NewHub()
	s1 := &Session{hub: hub, userID: "user1", deviceID: "a", send: make(chan outboundMessage, sessionQueueSize)}
	s2 := &Session{hub: hub, userID: "user1", deviceID: "b", send: make(chan outboundMessage, sessionQueueSize)}
	other := &Session{hub: hub, userID: "user2", deviceID: "c", send: make(chan outboundMessage, sessionQueueSize)}
	hub.register(s1)
	hub.register(s2)
	hub.register(other)

	delta := syncstore.Delta{Kind: syncstore.DeltaWatchlistAdd, TS: hlc.Timestamp{Physical: 1, Origin: "a"}}
	if err := hub.Publish(context.Background(), "user1", delta); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-s1.send:
		if msg.Delta == nil || msg.Delta.Kind != syncstore.DeltaWatchlistAdd {
			t.Fatalf("unexpected message on s1: %+v", msg)
		}
	default:
		t.Fatal("expected message queued on s1")
	}
	select {
	case <-s2.send:
	default:
		t.Fatal("expected message queued on s2")
	}
	select {
	case <-other.send:
		t.Fatal("did not expect message queued on a different user's session")
	default:
	}
}

func TestHub_UnregisterPrunesEmptyUserSet(t *testing.T) {
	hub := NewHub()
	s := &Session{hub: hub, userID: "user1", deviceID: "a", send: make(chan outboundMessage, 1)}
	hub.register(s)
	if !hub.IsOnline("user1", "a") {
		t.Fatal("expected session to be online after register")
	}
	hub.unregister(s)
	if hub.IsOnline("user1", "a") {
		t.Fatal("expected session offline after unregister")
	}
	if _, ok := hub.sessions["user1"]; ok {
		t.Fatal("expected empty user set to be pruned")
	}
}

func TestEnqueue_DropsIncomingPositionUpdateWhenQueueFull(t *testing.T) {
	hub := NewHub()
	s := &Session{hub: hub, userID: "user1", deviceID: "a", send: make(chan outboundMessage, 2)}
	m := newMetrics()

	s.enqueue(outboundMessage{Type: msgProgressUpdate}, m)
	s.enqueue(outboundMessage{Type: msgProgressUpdate}, m)
	// queue now full with 2 droppable entries; a 3rd droppable message
	// should be dropped outright rather than evicting.
	s.enqueue(outboundMessage{Type: msgProgressUpdate}, m)

	if len(s.send) != 2 {
		t.Fatalf("expected queue to remain at capacity 2, got %d", len(s.send))
	}
	snap := m.Snapshot()
	if snap.DropsByType[msgProgressUpdate] == 0 {
		t.Fatal("expected at least one progress_update drop recorded")
	}
}

func TestEnqueue_NeverDropsWatchlistDelta(t *testing.T) {
	hub := NewHub()
	s := &Session{hub: hub, userID: "user1", deviceID: "a", send: make(chan outboundMessage, 1)}
	m := newMetrics()

	s.enqueue(outboundMessage{Type: msgProgressUpdate}, m)
	s.enqueue(outboundMessage{Type: msgWatchlistUpdate}, m)

	select {
	case msg := <-s.send:
		if msg.Type != msgWatchlistUpdate {
			t.Fatalf("expected the watchlist_update to survive eviction, got %q", msg.Type)
		}
	default:
		t.Fatal("expected a message in queue")
	}
}

func TestEnqueue_KeepsQueuedDeviceCommandWhenQueueFullOfCommands(t *testing.T) {
	hub := NewHub()
	s := &Session{hub: hub, userID: "user1", deviceID: "a", send: make(chan outboundMessage, 1)}
	m := newMetrics()

	cmd1 := DeviceCommand{Target: "a", Name: "Play", ExpiresAt: time.Now().Add(5 * time.Second)}
	cmd2 := DeviceCommand{Target: "a", Name: "Pause", ExpiresAt: time.Now().Add(5 * time.Second)}
	s.enqueue(outboundMessage{Type: msgDeviceCommand, Command: &cmd1}, m)
	s.enqueue(outboundMessage{Type: msgDeviceCommand, Command: &cmd2}, m)

	// Both are non-droppable; the second can't evict the first, so it is
	// counted as dropped rather than silently discarding the queued one.
	if len(s.send) != 1 {
		t.Fatalf("expected exactly 1 queued command, got %d", len(s.send))
	}
	snap := m.Snapshot()
	if snap.DropsByType[msgDeviceCommand] == 0 {
		t.Fatal("expected the unqueueable device_command to be counted as dropped, not silently lost")
	}
}

func TestMsgTypeForDelta(t *testing.T) {
	if got := msgTypeForDelta(syncstore.DeltaPositionUpdate); got != msgProgressUpdate {
		t.Fatalf("expected progress_update, got %q", got)
	}
	if got := msgTypeForDelta(syncstore.DeltaWatchlistAdd); got != msgWatchlistUpdate {
		t.Fatalf("expected watchlist_update, got %q", got)
	}
	if got := msgTypeForDelta(syncstore.DeltaWatchlistRemove); got != msgWatchlistUpdate {
		t.Fatalf("expected watchlist_update, got %q", got)
	}
}
