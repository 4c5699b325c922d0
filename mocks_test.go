package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIdentityProvider implements session.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) Login(ctx context.Context, identifier, password string) (*session.LoginResult, error) {
	args := m.Called(ctx, identifier, password)
	result, _ := args.Get(0).(*session.LoginResult)
	return result, args.Error(1)
}

func (m *MockIdentityProvider) Refresh(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) Me(ctx context.Context) (*session.Identity, error) {
	args := m.Called(ctx)
	identity, _ := args.Get(0).(*session.Identity)
	return identity, args.Error(1)
}

// MockLoginPayload implements session.LoginPayload
type MockLoginPayload struct {
	Identifier string
	Password   string
}

func (m MockLoginPayload) GetIdentifier() string {
	return m.Identifier
}

func (m MockLoginPayload) GetPassword() string {
	return m.Password
}

// stubNavigator records navigation side effects.
type stubNavigator struct {
	mu      sync.Mutex
	path    string
	targets []string
}

func (n *stubNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, path)
}

func (n *stubNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *stubNavigator) setPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

func (n *stubNavigator) navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// countingTransport returns scripted responses and counts calls.
type countingTransport struct {
	mu        sync.Mutex
	responses []*session.Response
	errs      []error
	calls     []*session.Request
}

func (t *countingTransport) Do(ctx context.Context, req *session.Request) (*session.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.calls)
	t.calls = append(t.calls, req)

	var err error
	if idx < len(t.errs) {
		err = t.errs[idx]
	}
	var res *session.Response
	if idx < len(t.responses) {
		res = t.responses[idx]
	}
	return res, err
}

func (t *countingTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// countingTokenSource hands out CSRF tokens and counts refreshes.
type countingTokenSource struct {
	mu     sync.Mutex
	token  string
	err    error
	calls  int
	block  chan struct{}
}

func (s *countingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.err
}

func (s *countingTokenSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeHasher avoids bcrypt cost in tests.
type fakeHasher struct{}

func (fakeHasher) Hash(pin string) (string, error) {
	return "hashed:" + pin, nil
}

func (fakeHasher) Compare(pin, hash string) bool {
	return hash == "hashed:"+pin
}

// eventRecorder captures bus events in arrival order.
type eventRecorder struct {
	mu     sync.Mutex
	events []session.AuthEvent
	seen   map[session.AuthEvent]chan struct{}
}

func recordEvents(t *testing.T, bus *session.Bus) *eventRecorder {
	t.Helper()

	r := &eventRecorder{seen: map[session.AuthEvent]chan struct{}{}}
	for _, event := range []session.AuthEvent{
		session.EventLoginSuccess,
		session.EventLogout,
		session.EventUnauthorized,
		session.EventForbidden,
		session.EventTokenRefreshed,
	} {
		event := event
		r.seen[event] = make(chan struct{}, 16)
		_, err := bus.Subscribe(event, func() {
			r.mu.Lock()
			r.events = append(r.events, event)
			r.mu.Unlock()
			r.seen[event] <- struct{}{}
		})
		require.NoError(t, err)
	}
	return r
}

func (r *eventRecorder) recorded() []session.AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.AuthEvent(nil), r.events...)
}

func (r *eventRecorder) count(event session.AuthEvent) int {
	n := 0
	for _, e := range r.recorded() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *eventRecorder) wait(t *testing.T, event session.AuthEvent) {
	t.Helper()
	select {
	case <-r.seen[event]:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", event)
	}
}

// signToken builds a bearer token the way the external authority would.
func signToken(t *testing.T, claims session.CredentialClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func userToken(t *testing.T, username string, permissions []string, expiresIn time.Duration) string {
	t.Helper()

	return signToken(t, session.CredentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-" + username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		UID:         "user-" + username,
		Username:    username,
		Roles:       []string{"member"},
		Permissions: permissions,
	})
}
