package policy

import (
	"errors"
	"testing"

	"github.com/sourcebazaar/realtime/internal/auth"
)

func TestRequireRole(t *testing.T) {
	supplier := auth.Identity{UserID: "s1", Role: auth.RoleSupplier}
	vendor := auth.Identity{UserID: "v1", Role: auth.RoleVendor}

	if err := RequireRole(supplier, auth.RoleSupplier, "start a market"); err != nil {
		t.Fatalf("matching role rejected: %v", err)
	}

	err := RequireRole(vendor, auth.RoleSupplier, "start a market")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRequirePresident(t *testing.T) {
	if err := RequirePresident("u1", "u1", "start a poll"); err != nil {
		t.Fatalf("president rejected: %v", err)
	}
	var perr *Error
	if err := RequirePresident("u1", "u2", "start a poll"); !errors.As(err, &perr) || perr.Kind != KindPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRequireOwner(t *testing.T) {
	if err := RequireOwner("s1", "s1"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	var perr *Error
	if err := RequireOwner("s1", "s2"); !errors.As(err, &perr) || perr.Kind != KindPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestUpstreamNamesTheAction(t *testing.T) {
	err := Upstream(errors.New("connection refused"), "join the room")
	if err.Kind != KindUpstream {
		t.Fatalf("expected upstream kind, got %v", err.Kind)
	}
	if got := err.Error(); got != "failed to join the room: connection refused" {
		t.Fatalf("unexpected message: %q", got)
	}
}
