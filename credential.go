package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialClaims is the subset of token claims this subsystem reads.
// The token is issued and signed by an external authority; we decode it
// without verifying the signature and trust the issuer.
type CredentialClaims struct {
	jwt.RegisteredClaims
	UID         string   `json:"uid,omitempty"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Credential is a bearer token plus its decoded expiry.
type Credential struct {
	Token     string
	ExpiresAt *time.Time
	claims    *CredentialClaims
}

// ParseCredential decodes a raw bearer token. The token must split into
// exactly three dot-separated segments and the payload segment must
// decode; anything else is ErrMalformedCredential.
func ParseCredential(raw string) (*Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedCredential.WithMetadata(map[string]any{
			"reason": "empty token",
		})
	}

	if segments := strings.Split(raw, "."); len(segments) != 3 {
		return nil, ErrMalformedCredential.WithMetadata(map[string]any{
			"reason":   "wrong segment count",
			"segments": len(segments),
		})
	}

	claims := &CredentialClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, ErrMalformedCredential.WithMetadata(map[string]any{
			"reason": err.Error(),
		})
	}

	cred := &Credential{
		Token:  raw,
		claims: claims,
	}

	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		cred.ExpiresAt = &exp
	}

	return cred, nil
}

// Usable reports whether the credential is structurally valid and, when
// it carries an expiry claim, not yet expired.
func (c *Credential) Usable(now time.Time) bool {
	if c == nil || c.Token == "" {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Identity derives a user identity from the embedded claims, or nil when
// the token carries no subject (callers then fall back to the identity
// endpoint).
func (c *Credential) Identity() *Identity {
	if c == nil || c.claims == nil {
		return nil
	}

	id := c.claims.UID
	if id == "" {
		id = c.claims.RegisteredClaims.Subject
	}
	if id == "" {
		return nil
	}

	return &Identity{
		ID:          id,
		Username:    c.claims.Username,
		Roles:       append([]string(nil), c.claims.Roles...),
		Permissions: append([]string(nil), c.claims.Permissions...),
	}
}
