package session

import (
	"sync"
)

// GuardState is the verification state of one mounted protected view.
type GuardState string

const (
	GuardIdle        GuardState = "idle"
	GuardVerifying   GuardState = "verifying"
	GuardGranted     GuardState = "granted"
	GuardDenied      GuardState = "denied"
	GuardRedirecting GuardState = "redirecting"
)

// GuardConfig is the per-view access requirement. Empty sets impose no
// requirement of that kind.
type GuardConfig struct {
	RequiredPermissions []string
	RequiredRoles       []string
	RedirectPath        string
	// OnTransition is invoked after every state change, outside the
	// guard's lock. Views use it to re-render.
	OnTransition func(GuardState)
}

// Guard gates one protected view. It consults the Coordinator on mount
// and re-runs the full rule sequence on every auth event; unmounting
// stops re-verification so no state lands afterwards.
type Guard struct {
	cfg         GuardConfig
	coordinator *Coordinator
	bus         *Bus
	navigator   Navigator
	config      Config
	logger      Logger

	mu         sync.Mutex
	state      GuardState
	mounted    bool
	redirected bool
	subs       []*Subscription
}

// GuardOption customizes Guard construction.
type GuardOption func(*Guard)

// WithGuardLogger overrides the default stdout logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard builds a guard for one protected view. The Config supplies
// the consolidated authorization bypass; no other component consults
// that flag.
func NewGuard(cfg GuardConfig, coordinator *Coordinator, bus *Bus, navigator Navigator, config Config, opts ...GuardOption) *Guard {
	if cfg.RedirectPath == "" {
		if config != nil {
			cfg.RedirectPath = config.GetLoginPath()
		} else {
			cfg.RedirectPath = DefaultLoginPath
		}
	}

	g := &Guard{
		cfg:         cfg,
		coordinator: coordinator,
		bus:         bus,
		navigator:   navigator,
		config:      config,
		logger:      defLogger{},
		state:       GuardIdle,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

var guardEvents = []AuthEvent{
	EventLoginSuccess,
	EventLogout,
	EventUnauthorized,
	EventForbidden,
	EventTokenRefreshed,
}

// Mount starts verification and subscribes to auth events.
func (g *Guard) Mount() {
	g.mu.Lock()
	if g.mounted {
		g.mu.Unlock()
		return
	}
	g.mounted = true
	g.state = GuardVerifying
	g.mu.Unlock()

	subs := make([]*Subscription, 0, len(guardEvents))
	for _, event := range guardEvents {
		sub, err := g.bus.Subscribe(event, g.reverify)
		if err != nil {
			g.logger.Error("guard failed to subscribe", "event", event, "error", err)
			continue
		}
		subs = append(subs, sub)
	}

	g.mu.Lock()
	g.subs = subs
	g.mu.Unlock()

	g.reverify()
}

// Unmount detaches the guard. No state update is applied after it
// returns.
func (g *Guard) Unmount() {
	g.mu.Lock()
	if !g.mounted {
		g.mu.Unlock()
		return
	}
	g.mounted = false
	g.state = GuardIdle
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// State returns the guard's current verification state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// reverify runs the full rule sequence in fixed order. Rule order is a
// contract: bypass, loading, authentication, permissions, roles.
func (g *Guard) reverify() {
	session := g.coordinator.Snapshot()

	next, navigate := g.decide(session)

	g.mu.Lock()
	if !g.mounted {
		g.mu.Unlock()
		return
	}

	changed := g.state != next
	g.state = next

	// The navigation side effect fires once per entry into
	// Redirecting, not on every re-verification while still there.
	fireNavigate := navigate && !g.redirected
	if next == GuardRedirecting {
		g.redirected = true
	} else {
		g.redirected = false
	}
	g.mu.Unlock()

	if fireNavigate && g.navigator != nil {
		g.navigator.Navigate(g.cfg.RedirectPath)
	}

	if changed && g.cfg.OnTransition != nil {
		g.cfg.OnTransition(next)
	}
}

func (g *Guard) decide(session Session) (GuardState, bool) {
	if g.config != nil && g.config.GetBypassAuthorization() {
		return GuardGranted, false
	}

	if session.Loading {
		return GuardVerifying, false
	}

	if !session.Authenticated {
		if g.navigator != nil && g.navigator.CurrentPath() == g.cfg.RedirectPath {
			// Already at the login path; redirecting again would loop.
			return GuardRedirecting, false
		}
		return GuardRedirecting, true
	}

	if len(g.cfg.RequiredPermissions) > 0 && !session.User.HasAnyPermission(g.cfg.RequiredPermissions) {
		return GuardDenied, false
	}

	if len(g.cfg.RequiredRoles) > 0 && !session.User.HasAnyRole(g.cfg.RequiredRoles) {
		return GuardDenied, false
	}

	return GuardGranted, false
}
