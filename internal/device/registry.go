// Package device implements DeviceRegistry (spec.md §4.5): tracking
// registered devices and routing control commands to them. The in-memory
// map+RWMutex shape follows internal/multistore.StoreManager's structure
// (internal/multistore/manager.go), simplified to a flat key since a
// device population needs no lazy per-entry backing file the way a store
// does.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/types"
)

// Dispatcher is the narrow capability Registry needs from the realtime
// fabric to hand off a validated command, mirroring the syncstore.Broadcaster
// narrow-interface pattern (spec.md §9 REDESIGN FLAGS) so internal/device
// never imports internal/broadcast directly.
type Dispatcher interface {
	PublishCommand(userID, targetDeviceID string, cmd CommandMessage) bool
	IsOnline(userID, deviceID string) bool
}

// CommandMessage is the wire shape a Dispatcher relays to a live session.
type CommandMessage struct {
	Target    string
	Name      string
	Args      map[string]any
	ExpiresAt time.Time
}

// Registry tracks every device registered across all users and routes
// commands through a Dispatcher. One process-wide Registry backs the
// whole gateway; per-user SyncStore device membership (syncstore.Manager's
// own devices table) is updated alongside registration so origin
// validation in syncstore stays in sync without a circular import between
// the two packages.
type Registry struct {
	syncStore syncstore.SyncStore
	dispatch Dispatcher
	wallClock func() time.Time

	mu      sync.RWMutex
	devices map[string]*types.Device // device_id -> Device
	byUser  map[string]map[string]struct{}
}

// NewRegistry creates a Registry. store is the syncstore.Manager used to
// mirror registration so its origin-device check recognizes newly
// registered devices; dispatch routes commands to live sessions.
func NewRegistry(store syncstore.SyncStore, dispatch Dispatcher, wallClock func() time.Time) *Registry {
	if wallClock == nil {
		wallClock = time.Now
	}
	return &Registry{
		syncStore: store,
		dispatch:  dispatch,
		wallClock: wallClock,
		devices:   make(map[string]*types.Device),
		byUser:    make(map[string]map[string]struct{}),
	}
}

// Register upserts a device record and mirrors membership into the user's
// SyncStore so future apply_local calls from this device_id are accepted
// as a registered origin.
func (r *Registry) Register(ctx context.Context, d types.Device) error {
	if d.DeviceID == "" || d.UserID == "" {
		return apperr.New(apperr.KindInvalidInput, "device_id and user_id are required")
	}
	d.LastSeen = r.wallClock()

	r.mu.Lock()
	r.devices[d.DeviceID] = &d
	set, ok := r.byUser[d.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[d.UserID] = set
	}
	set[d.DeviceID] = struct{}{}
	r.mu.Unlock()

	if r.syncStore != nil {
		if err := r.syncStore.RegisterDevice(ctx, d.UserID, d.DeviceID); err != nil {
			return apperr.Wrap(apperr.KindDependencyFailure, "mirror device registration into sync store", err)
		}
	}
	return nil
}

// Heartbeat refreshes a device's last_seen. Returns apperr NotFound if the
// device has never been registered.
func (r *Registry) Heartbeat(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "device not registered").WithCode("device_not_found")
	}
	d.LastSeen = r.wallClock()
	return nil
}

// Get returns a copy of the device record, or apperr NotFound.
func (r *Registry) Get(deviceID string) (types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return types.Device{}, apperr.New(apperr.KindNotFound, "device not registered")
	}
	return *d, nil
}

// ListForUser returns every device registered for userID.
func (r *Registry) ListForUser(userID string) []types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Device, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		if d, ok := r.devices[id]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// Command validates and dispatches cmd to cmd.TargetDeviceID on behalf of
// userID (spec.md §4.5): fails if the target is offline, lacks the
// command's required capability, or the command has already expired.
func (r *Registry) Command(ctx context.Context, userID string, cmd types.Command) error {
	now := r.wallClock()
	if cmd.Expired(now) {
		return apperr.New(apperr.KindInvalidInput, "command already expired").WithCode("command_expired")
	}

	target, err := r.Get(cmd.TargetDeviceID)
	if err != nil {
		return err
	}
	if target.UserID != userID {
		return apperr.New(apperr.KindForbidden, "target device belongs to a different user")
	}
	if !target.Online(now) {
		return apperr.New(apperr.KindConflict, "target device is offline").WithCode("device_offline")
	}
	if r.dispatch != nil && !r.dispatch.IsOnline(userID, cmd.TargetDeviceID) {
		return apperr.New(apperr.KindConflict, "target device has no live session").WithCode("device_offline")
	}
	if cap := cmd.RequiredCapability(); cap != "" && !target.HasCapability(cap) {
		return apperr.New(apperr.KindForbidden, "target device lacks required capability").WithCode("capability_missing")
	}

	msg := CommandMessage{
		Target:    cmd.TargetDeviceID,
		Name:      string(cmd.Kind),
		Args:      commandArgs(cmd),
		ExpiresAt: cmd.ExpiresAt,
	}
	if r.dispatch == nil {
		return apperr.New(apperr.KindDependencyFailure, "no dispatcher configured")
	}
	if !r.dispatch.PublishCommand(userID, cmd.TargetDeviceID, msg) {
		return apperr.New(apperr.KindConflict, "target device session closed during dispatch").WithCode("device_offline")
	}
	return nil
}

func commandArgs(cmd types.Command) map[string]any {
	switch cmd.Kind {
	case types.CommandSeek:
		return map[string]any{"position": cmd.SeekPosition}
	case types.CommandVolumeSet:
		return map[string]any{"level": cmd.VolumeLevel}
	case types.CommandLoadContent:
		return map[string]any{"content_id": cmd.ContentID, "start_position": cmd.StartPosition}
	case types.CommandCastTo:
		return map[string]any{"cast_target_id": cmd.CastTargetID}
	default:
		return nil
	}
}
