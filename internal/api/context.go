package api

import (
	"context"
	"errors"
)

// userIDContextKey and deviceIDContextKey carry the caller's identity,
// extracted by UserContextMiddleware from request headers. The gateway
// has no per-user token scheme (spec.md §6: "auth: {api_key}" is a single
// shared credential) — caller identity is asserted by the client and
// carried in headers, the way the teacher's StoreIDFromContext carries a
// path-derived store_id rather than an authenticated identity.
type userIDContextKey struct{}
type deviceIDContextKey struct{}

// ErrNoUserInContext indicates no user ID was found in the context.
var ErrNoUserInContext = errors.New("no user id in context")

// WithUserID returns a new context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the caller's user ID.
// Returns ErrNoUserInContext if absent or empty.
func UserIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoUserInContext
	}
	return id, nil
}

// WithDeviceID returns a new context carrying deviceID.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, deviceID)
}

// DeviceIDFromContext extracts the caller's device ID, or "" if absent.
func DeviceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDContextKey{}).(string)
	return id
}
