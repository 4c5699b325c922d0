package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// Coordinator owns the authoritative Session. All mutations go through
// it; views only ever read snapshots and subscribe to the Bus.
type Coordinator struct {
	provider  IdentityProvider
	bus       *Bus
	device    Store
	ephemeral Store
	logger    Logger
	now       Clock

	mu    sync.RWMutex
	state Session
	cred  *Credential
	// epoch increments on every login and logout so a refresh that
	// completes after the session changed underneath it is discarded
	// instead of resurrecting cleared state.
	epoch uint64

	refreshGroup singleflight.Group
}

// CoordinatorOption customizes Coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithLogger overrides the default stdout logger.
func WithLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock Clock) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithSessionStore sets the session-lifetime store used for the
// ephemeral snapshot. Defaults to an in-process MemoryStore.
func WithSessionStore(store Store) CoordinatorOption {
	return func(c *Coordinator) {
		if store != nil {
			c.ephemeral = store
		}
	}
}

// NewCoordinator wires the coordinator to the identity provider, the
// event bus, and the device-scoped store holding the bearer credential.
func NewCoordinator(provider IdentityProvider, bus *Bus, device Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		provider:  provider,
		bus:       bus,
		device:    device,
		ephemeral: NewMemoryStore(),
		logger:    defLogger{},
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyStateLocked()
}

// IsAuthenticated reports whether a user session is active.
func (c *Coordinator) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Authenticated
}

// CurrentUser returns a copy of the authenticated identity, or nil.
func (c *Coordinator) CurrentUser() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyIdentity(c.state.User)
}

// BearerToken returns the raw credential for request decoration. The
// boolean is false when no credential is held.
func (c *Coordinator) BearerToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil {
		return "", false
	}
	return c.cred.Token, true
}

// Restore hydrates the session from the persisted snapshot. It accepts
// only well-formed snapshots (authenticated with a non-empty user); on
// acceptance it commits the restored state immediately and schedules an
// out-of-band refresh to validate against the server without blocking
// the restored UI. Malformed snapshots are logged and treated as no
// session, never surfaced as a failure.
func (c *Coordinator) Restore(ctx context.Context) (Session, bool) {
	raw, err := c.ephemeral.Get(ctx, StorageKeySnapshot)
	if err != nil {
		if !IsKeyNotFound(err) {
			c.logger.Warn("restore: unable to read persisted snapshot", "error", err)
		}
		return Session{}, false
	}

	snapshot := Session{}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		c.logger.Warn("restore: discarding unparseable snapshot", "error", err)
		_ = c.ephemeral.Delete(ctx, StorageKeySnapshot)
		return Session{}, false
	}

	if !snapshot.Authenticated || snapshot.User == nil || snapshot.User.ID == "" {
		c.logger.Debug("restore: snapshot not well formed, ignoring")
		return Session{}, false
	}

	var cred *Credential
	if token, err := c.device.Get(ctx, StorageKeyCredential); err == nil {
		// An expired credential is still restored; the background
		// refresh decides whether the session survives.
		if parsed, perr := ParseCredential(token); perr == nil {
			cred = parsed
			if !cred.Usable(c.now()) {
				c.logger.Debug("restore: persisted credential expired, relying on refresh")
			}
		} else {
			c.logger.Warn("restore: persisted credential is malformed", "error", perr)
		}
	}

	c.mu.Lock()
	c.state = Session{
		Authenticated: true,
		User:          copyIdentity(snapshot.User),
	}
	c.cred = cred
	startEpoch := c.epoch
	restored := c.copyStateLocked()
	c.mu.Unlock()

	// The validation must outlive the caller's startup context; a
	// cancellation there is not a verdict on the session.
	go c.validateRestored(context.WithoutCancel(ctx), startEpoch)

	return restored, true
}

// validateRestored runs the post-restore refresh. A restored session
// that the server no longer honors is torn down here; this is the
// designated listener for that decision. A validation superseded by a
// login or logout that landed while it was in flight has no effect: the
// newer session stands, whatever the refresh returned.
func (c *Coordinator) validateRestored(ctx context.Context, startEpoch uint64) {
	ok, err := c.Refresh(ctx)
	if ok {
		return
	}

	c.mu.Lock()
	if c.epoch != startEpoch {
		c.mu.Unlock()
		c.logger.Debug("restore validation superseded, leaving session untouched")
		return
	}
	c.epoch++
	c.state = Session{}
	c.cred = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("restored session failed validation, logging out", "error", err)
	}
	c.purgeAndAnnounce(ctx)
}

// Login exchanges user credentials for a session. On success the
// session is replaced wholesale, persisted, and LOGIN_SUCCESS is
// published. On failure the session stays unauthenticated, Error holds
// the provider's message, and nothing is published.
func (c *Coordinator) Login(ctx context.Context, payload LoginPayload) (Session, error) {
	if err := validateLoginPayload(payload); err != nil {
		return c.failLogin(err)
	}

	c.setLoading(true)

	result, err := c.provider.Login(ctx, payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		return c.failLogin(err)
	}

	cred, err := ParseCredential(result.Token)
	if err != nil {
		return c.failLogin(err)
	}

	user := result.User
	if user == nil {
		user = cred.Identity()
	}
	if user == nil {
		user, err = c.provider.Me(ctx)
		if err != nil {
			return c.failLogin(wrapNetwork(err, "login could not resolve identity"))
		}
	}

	if err := c.persist(ctx, cred, user); err != nil {
		return c.failLogin(err)
	}

	c.mu.Lock()
	c.epoch++
	c.state = Session{
		Authenticated: true,
		User:          copyIdentity(user),
	}
	c.cred = cred
	committed := c.copyStateLocked()
	c.mu.Unlock()

	c.bus.Publish(EventLoginSuccess)

	return committed, nil
}

// Refresh requests a new credential using the current refresh material.
// Concurrent callers share one in-flight attempt. On success the session
// is replaced, persisted, and TOKEN_REFRESHED is published. On failure
// it returns false and does not clear the session; callers decide
// whether failure means logout.
func (c *Coordinator) Refresh(ctx context.Context) (bool, error) {
	type refreshResult struct {
		ok bool
	}

	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		ok, err := c.doRefresh(ctx)
		return refreshResult{ok: ok}, err
	})

	result, _ := v.(refreshResult)
	return result.ok, err
}

func (c *Coordinator) doRefresh(ctx context.Context) (bool, error) {
	c.mu.RLock()
	startEpoch := c.epoch
	c.mu.RUnlock()

	token, err := c.provider.Refresh(ctx)
	if err != nil {
		c.logger.Debug("refresh rejected by identity provider", "error", err)
		return false, wrapNetwork(err, "credential refresh failed")
	}

	cred, err := ParseCredential(token)
	if err != nil {
		return false, err
	}

	// A refreshed token may carry different permissions; re-derive the
	// user from it, falling back to the identity endpoint.
	user := cred.Identity()
	if user == nil {
		user, err = c.provider.Me(ctx)
		if err != nil {
			return false, wrapNetwork(err, "refresh could not resolve identity")
		}
	}

	c.mu.RLock()
	stale := c.epoch != startEpoch
	c.mu.RUnlock()
	if stale {
		c.logger.Debug("discarding stale refresh result")
		return false, nil
	}

	if err := c.persist(ctx, cred, user); err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.epoch != startEpoch {
		// Session changed between persist and commit; undo the write
		// so the purge performed by logout stays effective.
		c.mu.Unlock()
		c.logger.Debug("discarding stale refresh result")
		_ = c.device.Delete(ctx, StorageKeyCredential)
		_ = c.ephemeral.Delete(ctx, StorageKeySnapshot)
		return false, nil
	}
	c.state = Session{
		Authenticated: true,
		User:          copyIdentity(user),
	}
	c.cred = cred
	c.mu.Unlock()

	c.bus.Publish(EventTokenRefreshed)

	return true, nil
}

// Logout clears the session, purges storage, and publishes LOGOUT.
// Idempotent.
func (c *Coordinator) Logout(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.state = Session{}
	c.cred = nil
	c.mu.Unlock()

	c.purgeAndAnnounce(ctx)
}

func (c *Coordinator) purgeAndAnnounce(ctx context.Context) {
	if err := c.device.Delete(ctx, StorageKeyCredential); err != nil {
		c.logger.Warn("logout: failed to purge credential", "error", err)
	}
	if err := c.ephemeral.Delete(ctx, StorageKeySnapshot); err != nil {
		c.logger.Warn("logout: failed to purge snapshot", "error", err)
	}

	c.bus.Publish(EventLogout)
}

// persist mirrors the authenticated transition to storage before the
// in-memory state commits, so a restart never observes an authenticated
// snapshot it cannot attempt to refresh.
func (c *Coordinator) persist(ctx context.Context, cred *Credential, user *Identity) error {
	snapshot, err := json.Marshal(Session{Authenticated: true, User: user})
	if err != nil {
		return wrapStorage(err, "failed to encode session snapshot")
	}

	if err := c.device.Set(ctx, StorageKeyCredential, cred.Token); err != nil {
		return err
	}
	if err := c.ephemeral.Set(ctx, StorageKeySnapshot, string(snapshot)); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) failLogin(err error) (Session, error) {
	c.mu.Lock()
	c.state.Loading = false
	c.state.Error = err.Error()
	failed := c.copyStateLocked()
	c.mu.Unlock()
	return failed, err
}

func (c *Coordinator) setLoading(loading bool) {
	c.mu.Lock()
	c.state.Loading = loading
	c.state.Error = ""
	c.mu.Unlock()
}

func (c *Coordinator) copyStateLocked() Session {
	out := c.state
	out.User = copyIdentity(c.state.User)
	return out
}

func copyIdentity(user *Identity) *Identity {
	if user == nil {
		return nil
	}
	out := *user
	out.Roles = append([]string(nil), user.Roles...)
	out.Permissions = append([]string(nil), user.Permissions...)
	return &out
}

func validateLoginPayload(payload LoginPayload) error {
	if payload == nil {
		return goerrors.New("login payload is required", goerrors.CategoryBadInput)
	}

	err := validation.Errors{
		"identifier": validation.Validate(payload.GetIdentifier(), validation.Required),
		"password":   validation.Validate(payload.GetPassword(), validation.Required),
	}.Filter()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid login payload")
	}
	return nil
}
