package api

import (
	"context"
	"testing"
)

func TestWithUserID_UserIDFromContext_RoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")

	got, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext returned error: %v", err)
	}
	if got != "user-1" {
		t.Errorf("got %q, want %q", got, "user-1")
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err != ErrNoUserInContext {
		t.Errorf("error = %v, want ErrNoUserInContext", err)
	}
}

func TestUserIDFromContext_EmptyString(t *testing.T) {
	ctx := WithUserID(context.Background(), "")
	_, err := UserIDFromContext(ctx)
	if err != ErrNoUserInContext {
		t.Errorf("error = %v, want ErrNoUserInContext for empty user id", err)
	}
}

func TestWithDeviceID_DeviceIDFromContext_RoundTrip(t *testing.T) {
	ctx := WithDeviceID(context.Background(), "device-1")

	if got := DeviceIDFromContext(ctx); got != "device-1" {
		t.Errorf("got %q, want %q", got, "device-1")
	}
}

func TestDeviceIDFromContext_Missing(t *testing.T) {
	if got := DeviceIDFromContext(context.Background()); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestUserAndDeviceID_IndependentOfEachOther(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	ctx = WithDeviceID(ctx, "device-1")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext returned error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("UserIDFromContext() = %q, want %q", userID, "user-1")
	}
	if got := DeviceIDFromContext(ctx); got != "device-1" {
		t.Errorf("DeviceIDFromContext() = %q, want %q", got, "device-1")
	}
}
