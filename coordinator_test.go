package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T) (*session.Coordinator, *MockIdentityProvider, *session.Bus, *session.MemoryStore, *session.MemoryStore) {
	t.Helper()

	provider := &MockIdentityProvider{}
	bus := session.NewBus()
	device := session.NewMemoryStore()
	ephemeral := session.NewMemoryStore()

	coordinator := session.NewCoordinator(provider, bus, device,
		session.WithSessionStore(ephemeral),
	)
	return coordinator, provider, bus, device, ephemeral
}

func loginAlice(t *testing.T, coordinator *session.Coordinator, provider *MockIdentityProvider, permissions ...string) {
	t.Helper()

	token := userToken(t, "alice", permissions, time.Hour)
	provider.On("Login", mock.Anything, "alice", "secret").
		Return(&session.LoginResult{Token: token}, nil).Once()

	_, err := coordinator.Login(context.Background(), MockLoginPayload{Identifier: "alice", Password: "secret"})
	require.NoError(t, err)
}

func TestLoginSuccessReplacesSession(t *testing.T) {
	coordinator, provider, bus, device, ephemeral := newCoordinator(t)
	recorder := recordEvents(t, bus)

	loginAlice(t, coordinator, provider, "read:orders")

	state := coordinator.Snapshot()
	assert.True(t, state.Authenticated)
	require.NotNil(t, state.User)
	assert.Equal(t, "alice", state.User.Username)
	assert.True(t, state.User.HasPermission("read:orders"))
	assert.Empty(t, state.Error)

	// every authenticated transition is mirrored to storage
	token, err := device.Get(context.Background(), session.StorageKeyCredential)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	raw, err := ephemeral.Get(context.Background(), session.StorageKeySnapshot)
	require.NoError(t, err)
	persisted := session.Session{}
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.True(t, persisted.Authenticated)

	assert.Equal(t, []session.AuthEvent{session.EventLoginSuccess}, recorder.recorded())
	provider.AssertExpectations(t)
}

func TestLoginFailureKeepsSessionUnauthenticated(t *testing.T) {
	coordinator, provider, bus, _, _ := newCoordinator(t)
	recorder := recordEvents(t, bus)

	provider.On("Login", mock.Anything, "alice", "wrong").
		Return(nil, errors.New("invalid credentials")).Once()

	state, err := coordinator.Login(context.Background(), MockLoginPayload{Identifier: "alice", Password: "wrong"})
	assert.Error(t, err)
	assert.False(t, state.Authenticated)
	assert.Contains(t, state.Error, "invalid credentials")
	assert.Empty(t, recorder.recorded())
}

func TestLoginRejectsMalformedToken(t *testing.T) {
	coordinator, provider, _, _, _ := newCoordinator(t)

	provider.On("Login", mock.Anything, "alice", "secret").
		Return(&session.LoginResult{Token: "not-a-token"}, nil).Once()

	_, err := coordinator.Login(context.Background(), MockLoginPayload{Identifier: "alice", Password: "secret"})
	assert.True(t, session.IsMalformedCredential(err))
	assert.False(t, coordinator.IsAuthenticated())
}

func TestLoginValidatesPayload(t *testing.T) {
	coordinator, _, _, _, _ := newCoordinator(t)

	_, err := coordinator.Login(context.Background(), MockLoginPayload{Identifier: "", Password: ""})
	assert.Error(t, err)
	assert.False(t, coordinator.IsAuthenticated())
}

func TestSessionFollowsMostRecentTerminalOperation(t *testing.T) {
	coordinator, provider, _, _, _ := newCoordinator(t)

	loginAlice(t, coordinator, provider)
	assert.True(t, coordinator.IsAuthenticated())

	coordinator.Logout(context.Background())
	assert.False(t, coordinator.IsAuthenticated())

	loginAlice(t, coordinator, provider)
	assert.True(t, coordinator.IsAuthenticated())
}

func TestLogoutIsIdempotent(t *testing.T) {
	coordinator, provider, bus, device, _ := newCoordinator(t)

	loginAlice(t, coordinator, provider)
	recorder := recordEvents(t, bus)

	coordinator.Logout(context.Background())
	coordinator.Logout(context.Background())

	assert.False(t, coordinator.IsAuthenticated())
	assert.Nil(t, coordinator.CurrentUser())

	_, err := device.Get(context.Background(), session.StorageKeyCredential)
	assert.True(t, session.IsKeyNotFound(err))

	assert.Equal(t, 2, recorder.count(session.EventLogout))
}

func TestRefreshReplacesSessionAndPublishes(t *testing.T) {
	coordinator, provider, bus, _, _ := newCoordinator(t)

	loginAlice(t, coordinator, provider, "read:orders")
	recorder := recordEvents(t, bus)

	// the refreshed token carries different permissions
	refreshed := userToken(t, "alice", []string{"write:orders"}, time.Hour)
	provider.On("Refresh", mock.Anything).Return(refreshed, nil).Once()

	ok, err := coordinator.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	user := coordinator.CurrentUser()
	require.NotNil(t, user)
	assert.True(t, user.HasPermission("write:orders"))
	assert.False(t, user.HasPermission("read:orders"))

	assert.Equal(t, 1, recorder.count(session.EventTokenRefreshed))
	provider.AssertExpectations(t)
}

func TestRefreshFailureDoesNotClearSession(t *testing.T) {
	coordinator, provider, bus, _, _ := newCoordinator(t)

	loginAlice(t, coordinator, provider)
	recorder := recordEvents(t, bus)

	provider.On("Refresh", mock.Anything).Return("", errors.New("refresh rejected")).Once()

	ok, err := coordinator.Refresh(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)

	// the caller decides whether failure means logout
	assert.True(t, coordinator.IsAuthenticated())
	assert.Empty(t, recorder.recorded())
}

func TestStaleRefreshDoesNotResurrectClearedSession(t *testing.T) {
	coordinator, provider, _, _, _ := newCoordinator(t)

	loginAlice(t, coordinator, provider)

	started := make(chan struct{})
	release := make(chan struct{})
	refreshed := userToken(t, "alice", nil, time.Hour)

	provider.On("Refresh", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
		}).
		Return(refreshed, nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, err := coordinator.Refresh(context.Background())
		assert.False(t, ok)
		assert.NoError(t, err)
	}()

	<-started
	coordinator.Logout(context.Background())
	close(release)
	<-done

	assert.False(t, coordinator.IsAuthenticated())
}

func TestRestoreRejectsMissingOrMalformedSnapshots(t *testing.T) {
	coordinator, _, _, _, ephemeral := newCoordinator(t)

	_, ok := coordinator.Restore(context.Background())
	assert.False(t, ok)

	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, "{{{"))
	_, ok = coordinator.Restore(context.Background())
	assert.False(t, ok)

	// authenticated flag without a user is not well formed
	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, `{"authenticated":true}`))
	_, ok = coordinator.Restore(context.Background())
	assert.False(t, ok)
	assert.False(t, coordinator.IsAuthenticated())
}

func TestRestoreShowsSessionThenValidatesInBackground(t *testing.T) {
	coordinator, provider, bus, device, ephemeral := newCoordinator(t)
	recorder := recordEvents(t, bus)

	snapshot, err := json.Marshal(session.Session{
		Authenticated: true,
		User:          &session.Identity{ID: "user-alice", Username: "alice"},
	})
	require.NoError(t, err)
	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, string(snapshot)))

	// persisted credential is already expired; restore keeps it and
	// lets the background refresh decide
	expired := userToken(t, "alice", nil, -time.Minute)
	require.NoError(t, device.Set(context.Background(), session.StorageKeyCredential, expired))

	provider.On("Refresh", mock.Anything).Return("", errors.New("session revoked")).Once()

	restored, ok := coordinator.Restore(context.Background())
	require.True(t, ok)
	assert.True(t, restored.Authenticated)
	assert.Equal(t, "alice", restored.User.Username)

	// the failed background refresh tears the session down
	recorder.wait(t, session.EventLogout)
	assert.False(t, coordinator.IsAuthenticated())
	provider.AssertExpectations(t)
}

func TestRestoreSurvivesSuccessfulValidation(t *testing.T) {
	coordinator, provider, bus, _, ephemeral := newCoordinator(t)
	recorder := recordEvents(t, bus)

	snapshot, err := json.Marshal(session.Session{
		Authenticated: true,
		User:          &session.Identity{ID: "user-alice", Username: "alice"},
	})
	require.NoError(t, err)
	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, string(snapshot)))

	refreshed := userToken(t, "alice", []string{"read:orders"}, time.Hour)
	provider.On("Refresh", mock.Anything).Return(refreshed, nil).Once()

	_, ok := coordinator.Restore(context.Background())
	require.True(t, ok)

	recorder.wait(t, session.EventTokenRefreshed)
	assert.True(t, coordinator.IsAuthenticated())
	user := coordinator.CurrentUser()
	require.NotNil(t, user)
	assert.True(t, user.HasPermission("read:orders"))
}

func TestLoginDuringRestoreValidationIsKept(t *testing.T) {
	coordinator, provider, bus, _, ephemeral := newCoordinator(t)
	recorder := recordEvents(t, bus)

	snapshot, err := json.Marshal(session.Session{
		Authenticated: true,
		User:          &session.Identity{ID: "user-bob", Username: "bob"},
	})
	require.NoError(t, err)
	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, string(snapshot)))

	started := make(chan struct{})
	release := make(chan struct{})
	stale := userToken(t, "bob", nil, time.Hour)

	provider.On("Refresh", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
		}).
		Return(stale, nil).Once()

	_, ok := coordinator.Restore(context.Background())
	require.True(t, ok)

	// a fresh login lands while the validation refresh is in flight
	<-started
	loginAlice(t, coordinator, provider)
	close(release)

	// the superseded validation must leave the newer session alone
	assert.Never(t, func() bool { return !coordinator.IsAuthenticated() },
		300*time.Millisecond, 20*time.Millisecond)
	assert.Zero(t, recorder.count(session.EventLogout))

	user := coordinator.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
}

func TestRestoreValidationOutlivesCallerContext(t *testing.T) {
	coordinator, provider, bus, _, ephemeral := newCoordinator(t)
	recorder := recordEvents(t, bus)

	snapshot, err := json.Marshal(session.Session{
		Authenticated: true,
		User:          &session.Identity{ID: "user-alice", Username: "alice"},
	})
	require.NoError(t, err)
	require.NoError(t, ephemeral.Set(context.Background(), session.StorageKeySnapshot, string(snapshot)))

	started := make(chan struct{})
	release := make(chan struct{})
	var refreshCtxErr error
	refreshed := userToken(t, "alice", nil, time.Hour)

	provider.On("Refresh", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
			ctx, _ := args.Get(0).(context.Context)
			refreshCtxErr = ctx.Err()
		}).
		Return(refreshed, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	_, ok := coordinator.Restore(ctx)
	require.True(t, ok)

	// the caller tears down its startup context mid-validation
	<-started
	cancel()
	close(release)

	recorder.wait(t, session.EventTokenRefreshed)
	assert.NoError(t, refreshCtxErr)
	assert.True(t, coordinator.IsAuthenticated())
}
