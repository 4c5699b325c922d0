package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of the authenticated user as the
// coordinator last observed them.
type Identity struct {
	ID          string   `json:"id,omitempty"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasRole checks if the identity carries a specific role
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission checks if the identity carries a specific permission
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity's role set intersects the
// required set in at least one element. An empty required set matches.
func (i *Identity) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if i.HasRole(r) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the identity's permission set
// intersects the required set in at least one element. An empty required
// set matches.
func (i *Identity) HasAnyPermission(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, p := range required {
		if i.HasPermission(p) {
			return true
		}
	}
	return false
}

// Session is the authoritative authentication state. It is mutated only
// by the Coordinator; views read copies via Coordinator.Snapshot.
type Session struct {
	Authenticated bool      `json:"authenticated"`
	Loading       bool      `json:"-"`
	Error         string    `json:"-"`
	User          *Identity `json:"user,omitempty"`
}

func (s Session) String() string {
	user := "<nil>"
	if s.User != nil {
		user = s.User.Username
	}
	return fmt.Sprintf("session(authenticated=%t user=%s)", s.Authenticated, user)
}

// LoginResult is what the identity provider hands back on a successful
// credential exchange.
type LoginResult struct {
	Token string
	User  *Identity
}

// IdentityProvider is the external authority that issues and renews
// bearer credentials.
type IdentityProvider interface {
	Login(ctx context.Context, identifier, password string) (*LoginResult, error)
	Refresh(ctx context.Context) (string, error)
	Me(ctx context.Context) (*Identity, error)
}

// LoginPayload carries user supplied credentials into Coordinator.Login.
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
}

// Navigator performs the redirect side effect for a Guard. Implementations
// belong to the host application (router push, window.location, etc).
type Navigator interface {
	Navigate(path string)
	CurrentPath() string
}

// TokenSource fetches a fresh anti-forgery token from the backend.
type TokenSource interface {
	Refresh(ctx context.Context) (string, error)
}

// Config holds subsystem options
type Config interface {
	GetLoginPath() string
	GetBypassAuthorization() bool
	GetMaxPinAttempts() int
	GetPinLockoutDuration() time.Duration
	GetPinHistorySize() int
	GetCSRFHeaderName() string
}

// Clock injection point, defaults to time.Now.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
