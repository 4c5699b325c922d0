package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// HTTPProviderConfig points the reference provider at the identity
// endpoints. Paths are joined onto BaseURL.
type HTTPProviderConfig struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	MePath      string
	CSRFPath    string
	Client      *http.Client
}

func (c *HTTPProviderConfig) defaults() {
	if c.LoginPath == "" {
		c.LoginPath = "/auth/login"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/auth/refresh"
	}
	if c.MePath == "" {
		c.MePath = "/auth/me"
	}
	if c.CSRFPath == "" {
		c.CSRFPath = "/auth/csrf"
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
}

// HTTPProvider is the reference IdentityProvider over the backend's
// login/refresh/me endpoints. Refresh material (typically an http-only
// cookie) is carried by the injected http.Client.
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	logger Logger
}

var _ IdentityProvider = (*HTTPProvider)(nil)

// NewHTTPProvider builds the provider; zero-value paths get defaults.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	cfg.defaults()
	return &HTTPProvider{cfg: cfg, logger: defLogger{}}
}

// WithProviderLogger overrides the default stdout logger.
func (p *HTTPProvider) WithProviderLogger(logger Logger) *HTTPProvider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	Token string    `json:"token"`
	User  *Identity `json:"user,omitempty"`
}

type identityResponse struct {
	User *Identity `json:"user"`
}

func (p *HTTPProvider) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	body, err := json.Marshal(loginRequest{Identifier: identifier, Password: password})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode login request")
	}

	out := tokenResponse{}
	if err := p.call(ctx, http.MethodPost, p.cfg.LoginPath, body, &out); err != nil {
		return nil, err
	}

	return &LoginResult{Token: out.Token, User: out.User}, nil
}

func (p *HTTPProvider) Refresh(ctx context.Context) (string, error) {
	out := tokenResponse{}
	if err := p.call(ctx, http.MethodPost, p.cfg.RefreshPath, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (p *HTTPProvider) Me(ctx context.Context) (*Identity, error) {
	out := identityResponse{}
	if err := p.call(ctx, http.MethodGet, p.cfg.MePath, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (p *HTTPProvider) call(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.join(path), reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build identity request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.cfg.Client.Do(req)
	if err != nil {
		return wrapNetwork(err, "identity provider unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return goerrors.New("identity provider rejected credentials", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(map[string]any{"status": res.StatusCode})
	}
	if res.StatusCode >= 400 {
		return wrapNetwork(fmt.Errorf("unexpected status %d", res.StatusCode), "identity provider error")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode identity response")
	}
	return nil
}

func (p *HTTPProvider) join(path string) string {
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + path
}

// HTTPTokenSource fetches anti-forgery tokens from the backend's CSRF
// endpoint; plug it into a CSRFGate.
type HTTPTokenSource struct {
	provider *HTTPProvider
}

var _ TokenSource = (*HTTPTokenSource)(nil)

// NewHTTPTokenSource reuses the provider's client and base URL.
func NewHTTPTokenSource(provider *HTTPProvider) *HTTPTokenSource {
	return &HTTPTokenSource{provider: provider}
}

func (s *HTTPTokenSource) Refresh(ctx context.Context) (string, error) {
	out := tokenResponse{}
	if err := s.provider.call(ctx, http.MethodGet, s.provider.cfg.CSRFPath, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
