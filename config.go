package session

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Policy defaults exposed per the public configuration surface.
const (
	DefaultLoginPath          = "/login"
	DefaultMaxPinAttempts     = 5
	DefaultPinLockoutDuration = 15 * time.Minute
	DefaultPinHistorySize     = 5
	DefaultCSRFHeaderName     = "X-CSRF-Token"
)

// EnvConfig is the environment-backed Config implementation.
// The authorization bypass is the single consolidated dev-mode flag;
// only the Guard consumes it.
type EnvConfig struct {
	LoginPath           string        `env:"SESSION_LOGIN_PATH" envDefault:"/login"`
	BypassAuthorization bool          `env:"SESSION_BYPASS_AUTHORIZATION" envDefault:"false"`
	MaxPinAttempts      int           `env:"SESSION_PIN_MAX_ATTEMPTS" envDefault:"5"`
	PinLockoutDuration  time.Duration `env:"SESSION_PIN_LOCKOUT_DURATION" envDefault:"15m"`
	PinHistorySize      int           `env:"SESSION_PIN_HISTORY_SIZE" envDefault:"5"`
	CSRFHeaderName      string        `env:"SESSION_CSRF_HEADER" envDefault:"X-CSRF-Token"`
}

var _ Config = (*EnvConfig)(nil)

// NewConfigFromEnv parses environment variables into an EnvConfig.
func NewConfigFromEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse session environment variables")
	}
	return cfg, nil
}

// DefaultConfig returns a Config carrying the package defaults.
func DefaultConfig() *EnvConfig {
	return &EnvConfig{
		LoginPath:          DefaultLoginPath,
		MaxPinAttempts:     DefaultMaxPinAttempts,
		PinLockoutDuration: DefaultPinLockoutDuration,
		PinHistorySize:     DefaultPinHistorySize,
		CSRFHeaderName:     DefaultCSRFHeaderName,
	}
}

func (c *EnvConfig) GetLoginPath() string {
	if c.LoginPath == "" {
		return DefaultLoginPath
	}
	return c.LoginPath
}

func (c *EnvConfig) GetBypassAuthorization() bool {
	return c.BypassAuthorization
}

func (c *EnvConfig) GetMaxPinAttempts() int {
	if c.MaxPinAttempts <= 0 {
		return DefaultMaxPinAttempts
	}
	return c.MaxPinAttempts
}

func (c *EnvConfig) GetPinLockoutDuration() time.Duration {
	if c.PinLockoutDuration <= 0 {
		return DefaultPinLockoutDuration
	}
	return c.PinLockoutDuration
}

func (c *EnvConfig) GetPinHistorySize() int {
	if c.PinHistorySize <= 0 {
		return DefaultPinHistorySize
	}
	return c.PinHistorySize
}

func (c *EnvConfig) GetCSRFHeaderName() string {
	if c.CSRFHeaderName == "" {
		return DefaultCSRFHeaderName
	}
	return c.CSRFHeaderName
}
