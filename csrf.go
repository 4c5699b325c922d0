package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CSRFState is the read surface of the gate.
type CSRFState struct {
	HasToken bool
	Loading  bool
	Error    string
}

// CSRFGate ensures a usable anti-forgery token exists before
// state-changing calls, refreshing it lazily. Concurrent callers share
// one in-flight refresh.
type CSRFGate struct {
	source TokenSource
	logger Logger

	mu      sync.RWMutex
	token   string
	loading bool
	lastErr string
	// gen increments on Invalidate so a fetch that was already in
	// flight cannot commit its now-stale token over the invalidation.
	gen uint64

	group singleflight.Group
}

// CSRFGateOption customizes gate construction.
type CSRFGateOption func(*CSRFGate)

// WithCSRFLogger overrides the default stdout logger.
func WithCSRFLogger(logger Logger) CSRFGateOption {
	return func(g *CSRFGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewCSRFGate builds a gate over the backend token endpoint.
func NewCSRFGate(source TokenSource, opts ...CSRFGateOption) *CSRFGate {
	g := &CSRFGate{
		source: source,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Token returns the cached anti-forgery token, fetching one lazily when
// missing. Repeated calls without an intervening Invalidate perform at
// most one network call.
func (g *CSRFGate) Token(ctx context.Context) (string, error) {
	g.mu.RLock()
	token := g.token
	g.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	v, err, _ := g.group.Do("csrf", func() (any, error) {
		// A concurrent caller may have filled the cache while we
		// waited on the flight group.
		g.mu.RLock()
		cached := g.token
		startGen := g.gen
		g.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		g.setLoading(true)
		fresh, err := g.source.Refresh(ctx)
		if err != nil {
			g.fail(err)
			return "", wrapNetwork(err, "CSRF token refresh failed")
		}

		g.mu.Lock()
		// An Invalidate that landed mid-flight wins: the fetched token
		// is handed to the waiting callers but never cached.
		if g.gen == startGen {
			g.token = fresh
		}
		g.loading = false
		g.lastErr = ""
		g.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		return "", err
	}

	token, _ = v.(string)
	return token, nil
}

// Ensure reports whether a token is available, fetching one if needed.
// Consumers abort the state-changing request when it returns false.
func (g *CSRFGate) Ensure(ctx context.Context) bool {
	_, err := g.Token(ctx)
	return err == nil
}

// Invalidate drops the cached token; the next Token call refreshes.
func (g *CSRFGate) Invalidate() {
	g.mu.Lock()
	g.token = ""
	g.gen++
	g.mu.Unlock()
}

// State returns the gate's current readiness.
func (g *CSRFGate) State() CSRFState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return CSRFState{
		HasToken: g.token != "",
		Loading:  g.loading,
		Error:    g.lastErr,
	}
}

func (g *CSRFGate) setLoading(loading bool) {
	g.mu.Lock()
	g.loading = loading
	g.mu.Unlock()
}

func (g *CSRFGate) fail(err error) {
	g.mu.Lock()
	g.loading = false
	g.lastErr = err.Error()
	g.mu.Unlock()
	g.logger.Warn("CSRF token refresh failed", "error", err)
}
