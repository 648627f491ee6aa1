// Package policy centralizes the authorization checks and the domain error
// taxonomy shared by the governance and market engines. Every action-level
// check returns a typed *Error so callers can route it to the right scoped
// error event without inspecting message text.
package policy

import (
	"fmt"

	"github.com/sourcebazaar/realtime/internal/auth"
)

// Kind classifies a domain error.
type Kind int

const (
	KindPermission Kind = iota
	KindConflict
	KindValidation
	KindNotFound
	KindWindow
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindWindow:
		return "window"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error is a typed domain error. It is reported only to the connection that
// caused it, never broadcast, and never mutates shared state.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Window(format string, args ...any) *Error {
	return &Error{Kind: KindWindow, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps an external collaborator failure. The caller may retry;
// the connection stays open.
func Upstream(err error, action string) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf("failed to %s: %v", action, err)}
}

// RequireRole checks that the actor holds the given role.
func RequireRole(id auth.Identity, role, action string) *Error {
	if id.Role != role {
		return Permission("only %s accounts can %s", roleNoun(role), action)
	}
	return nil
}

// RequirePresident checks that the actor is the community president.
func RequirePresident(presidentID, userID, action string) *Error {
	if presidentID == "" || presidentID != userID {
		return Permission("only the community president can %s", action)
	}
	return nil
}

// RequireOwner checks that the actor owns the auction.
func RequireOwner(supplierID, userID string) *Error {
	if supplierID != userID {
		return Permission("only the supplier who started the market can accept bids")
	}
	return nil
}

func roleNoun(role string) string {
	switch role {
	case auth.RoleSupplier:
		return "supplier"
	case auth.RoleVendor:
		return "vendor"
	}
	return role
}
