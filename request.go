package session

import (
	"context"
	"net/http"
)

// Outcome is the boundary classification of a transport result. All
// "is this a 401" detection lives in one Classifier predicate instead of
// scattered status checks.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnauthorized
	OutcomeOther
)

// Request describes an outbound call independent of the transport.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// Response is the transport-level result of a Request.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Transport performs the actual call. Out of scope here; the host wires
// its HTTP client (or a fake) in.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Classifier tags a transport result as OK, protocol-level unauthorized,
// or anything else.
type Classifier func(res *Response, err error) Outcome

// DefaultClassifier treats a 401 status as unauthorized and any
// transport error as other; business-level failures are OK from this
// subsystem's point of view.
func DefaultClassifier(res *Response, err error) Outcome {
	if err != nil {
		return OutcomeOther
	}
	if res != nil && res.StatusCode == http.StatusUnauthorized {
		return OutcomeUnauthorized
	}
	return OutcomeOK
}

// AuthClient wraps outbound calls with bearer attachment and a hard
// retry-once-on-unauthorized ceiling: one refresh, one retry, no
// backoff, no queueing.
type AuthClient struct {
	coordinator *Coordinator
	transport   Transport
	bus         *Bus
	classify    Classifier
	gate        *CSRFGate
	csrfHeader  string
	logger      Logger
}

// AuthClientOption customizes AuthClient construction.
type AuthClientOption func(*AuthClient)

// WithClassifier overrides the unauthorized-detection predicate.
func WithClassifier(classify Classifier) AuthClientOption {
	return func(a *AuthClient) {
		if classify != nil {
			a.classify = classify
		}
	}
}

// WithCSRFGate makes the client ensure an anti-forgery token before
// state-changing requests, aborting with a retryable error when the
// token cannot be obtained.
func WithCSRFGate(gate *CSRFGate, headerName string) AuthClientOption {
	return func(a *AuthClient) {
		a.gate = gate
		if headerName != "" {
			a.csrfHeader = headerName
		}
	}
}

// WithAuthClientLogger overrides the default stdout logger.
func WithAuthClientLogger(logger Logger) AuthClientOption {
	return func(a *AuthClient) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthClient builds the authenticated request wrapper.
func NewAuthClient(coordinator *Coordinator, transport Transport, bus *Bus, opts ...AuthClientOption) *AuthClient {
	a := &AuthClient{
		coordinator: coordinator,
		transport:   transport,
		bus:         bus,
		classify:    DefaultClassifier,
		csrfHeader:  DefaultCSRFHeaderName,
		logger:      defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Do performs an authenticated call. Without an active session it
// short-circuits: the call is never attempted, UNAUTHORIZED is
// published, and ErrUnauthenticated is returned. On a protocol-level
// unauthorized response it refreshes exactly once and retries exactly
// once; if the refresh fails it publishes UNAUTHORIZED and returns
// ErrAuthenticationFailed without logging the user out (a designated
// listener owns that decision).
func (a *AuthClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if !a.coordinator.IsAuthenticated() {
		a.bus.Publish(EventUnauthorized)
		return nil, ErrUnauthenticated.WithMetadata(map[string]any{
			"method": req.Method,
			"path":   req.Path,
		})
	}

	if err := a.ensureCSRF(ctx, req); err != nil {
		return nil, err
	}

	res, err := a.send(ctx, req)
	switch a.classify(res, err) {
	case OutcomeUnauthorized:
		// fall through to the single refresh-and-retry below
	case OutcomeOther:
		if err != nil {
			return res, wrapNetwork(err, "request failed")
		}
		return res, nil
	default:
		a.signalForbidden(res)
		return res, nil
	}

	ok, refreshErr := a.coordinator.Refresh(ctx)
	if !ok {
		a.logger.Info("refresh after unauthorized response failed", "path", req.Path, "error", refreshErr)
		a.bus.Publish(EventUnauthorized)
		return nil, ErrAuthenticationFailed.WithMetadata(map[string]any{
			"method": req.Method,
			"path":   req.Path,
		})
	}

	// Retry exactly once with the new credential; the result is final
	// either way.
	res, err = a.send(ctx, req)
	if err != nil && a.classify(res, err) == OutcomeOther {
		return res, wrapNetwork(err, "request failed after refresh")
	}
	a.signalForbidden(res)
	return res, err
}

func (a *AuthClient) signalForbidden(res *Response) {
	if res != nil && res.StatusCode == http.StatusForbidden {
		a.bus.Publish(EventForbidden)
	}
}

func (a *AuthClient) send(ctx context.Context, req *Request) (*Response, error) {
	out := &Request{
		Method: req.Method,
		Path:   req.Path,
		Body:   req.Body,
		Header: http.Header{},
	}
	for k, vs := range req.Header {
		out.Header[k] = append([]string(nil), vs...)
	}

	if token, ok := a.coordinator.BearerToken(); ok {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	return a.transport.Do(ctx, out)
}

func (a *AuthClient) ensureCSRF(ctx context.Context, req *Request) error {
	if a.gate == nil || isSafeMethod(req.Method) {
		return nil
	}

	token, err := a.gate.Token(ctx)
	if err != nil {
		return ErrCSRFUnavailable.WithMetadata(map[string]any{
			"method": req.Method,
			"path":   req.Path,
		})
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set(a.csrfHeader, token)
	return nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
