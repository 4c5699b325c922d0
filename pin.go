package session

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

var pinFormat = regexp.MustCompile(`^[0-9]{4,6}$`)

// PinHasher hashes quick-login PINs for the reuse history. Plaintext
// PINs never leave the process.
type PinHasher interface {
	Hash(pin string) (string, error)
	Compare(pin, hash string) bool
}

type bcryptPinHasher struct{}

func (bcryptPinHasher) Hash(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash PIN")
	}
	return string(h), nil
}

func (bcryptPinHasher) Compare(pin, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// PinStatus summarizes the lockout state for one username.
type PinStatus struct {
	Locked      bool
	Remaining   time.Duration
	Attempts    int
	MaxAttempts int
}

// PinPolicy enforces the quick-login lockout and reuse rules. It is
// local: no operation touches the network.
type PinPolicy struct {
	store  LockoutStore
	hasher PinHasher
	logger Logger
	now    Clock

	maxAttempts     int
	lockoutDuration time.Duration
	historySize     int
}

// PinPolicyOption customizes PinPolicy construction.
type PinPolicyOption func(*PinPolicy)

// WithPinHasher overrides the bcrypt hasher (tests use a fast stub).
func WithPinHasher(hasher PinHasher) PinPolicyOption {
	return func(p *PinPolicy) {
		if hasher != nil {
			p.hasher = hasher
		}
	}
}

// WithPinClock injects a custom clock.
func WithPinClock(clock Clock) PinPolicyOption {
	return func(p *PinPolicy) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithPinLogger overrides the default stdout logger.
func WithPinLogger(logger Logger) PinPolicyOption {
	return func(p *PinPolicy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPinPolicy builds the policy from the shared Config constants
// (maxAttempts, lockoutDuration, historySize).
func NewPinPolicy(store LockoutStore, cfg Config, opts ...PinPolicyOption) *PinPolicy {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &PinPolicy{
		store:           store,
		hasher:          bcryptPinHasher{},
		logger:          defLogger{},
		now:             time.Now,
		maxAttempts:     cfg.GetMaxPinAttempts(),
		lockoutDuration: cfg.GetPinLockoutDuration(),
		historySize:     cfg.GetPinHistorySize(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Status reports the lockout state for a username. Unknown usernames
// report zero attempts and no lock.
func (p *PinPolicy) Status(ctx context.Context, username string) (PinStatus, error) {
	record, err := p.store.GetByUsername(ctx, username)
	if err != nil {
		return PinStatus{}, err
	}

	now := p.now()
	status := PinStatus{MaxAttempts: p.maxAttempts}
	if record != nil {
		status.Attempts = record.Attempts
		status.Locked = record.IsLocked(now)
		status.Remaining = record.Remaining(now)
	}
	return status, nil
}

// EnsureNotLocked rejects attempts for a locked username with one
// consistent error carrying only the remaining wait. It never reveals
// whether the PIN or the username was wrong.
func (p *PinPolicy) EnsureNotLocked(ctx context.Context, username string) error {
	status, err := p.Status(ctx, username)
	if err != nil {
		return err
	}
	if status.Locked {
		return ErrPinLocked.WithMetadata(map[string]any{
			"remaining_ms": status.Remaining.Milliseconds(),
		})
	}
	return nil
}

// RecordFailure increments the attempt count. Reaching maxAttempts
// starts (or extends) the lockout window; the count does not reset
// until a success or an explicit reset is recorded, even after the
// window expires on its own.
func (p *PinPolicy) RecordFailure(ctx context.Context, username string) (*PinLockoutRecord, error) {
	record, err := p.loadOrCreate(ctx, username)
	if err != nil {
		return nil, err
	}

	record.Attempts++
	if record.Attempts >= p.maxAttempts {
		lockedUntil := p.now().Add(p.lockoutDuration)
		record.LockedUntil = &lockedUntil
	}

	return p.store.Save(ctx, record)
}

// RecordSuccess clears the attempt count and any lockout window. The
// reuse history is kept.
func (p *PinPolicy) RecordSuccess(ctx context.Context, username string) (*PinLockoutRecord, error) {
	record, err := p.loadOrCreate(ctx, username)
	if err != nil {
		return nil, err
	}

	record.Attempts = 0
	record.LockedUntil = nil

	return p.store.Save(ctx, record)
}

// Reset clears attempts and lockout unconditionally. It is a privileged
// operation: the policy does not check the caller's role, the Guard in
// front of the admin surface does.
func (p *PinPolicy) Reset(ctx context.Context, username string) error {
	record, err := p.store.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	record.Attempts = 0
	record.LockedUntil = nil
	_, err = p.store.Save(ctx, record)
	return err
}

// CheckHistory reports whether a candidate PIN is acceptable, i.e. its
// hash does not match any of the retained previous PINs.
func (p *PinPolicy) CheckHistory(ctx context.Context, username, candidatePin string) (bool, error) {
	record, err := p.store.GetByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}

	for _, hash := range record.History {
		if p.hasher.Compare(candidatePin, hash) {
			return false, nil
		}
	}
	return true, nil
}

// SetupPin validates and registers a new PIN at setup/change time:
// format, strength (Weak blocks, Medium is advisory), then reuse. On
// acceptance the hash is pushed into the history ring, evicting the
// oldest entry at capacity.
func (p *PinPolicy) SetupPin(ctx context.Context, username, pin string) error {
	if err := validatePinFormat(pin); err != nil {
		return err
	}

	if result := EvaluateStrength(pin); result.Strength == PinStrengthWeak {
		return ErrPinRejectedWeak.WithMetadata(map[string]any{
			"suggestions": result.Suggestions,
		})
	}

	acceptable, err := p.CheckHistory(ctx, username, pin)
	if err != nil {
		return err
	}
	if !acceptable {
		return ErrPinRejectedReused.WithMetadata(map[string]any{
			"history_size": p.historySize,
		})
	}

	record, err := p.loadOrCreate(ctx, username)
	if err != nil {
		return err
	}

	hash, err := p.hasher.Hash(pin)
	if err != nil {
		return err
	}

	record.History = append(record.History, hash)
	if overflow := len(record.History) - p.historySize; overflow > 0 {
		record.History = record.History[overflow:]
	}

	_, err = p.store.Save(ctx, record)
	return err
}

func (p *PinPolicy) loadOrCreate(ctx context.Context, username string) (*PinLockoutRecord, error) {
	record, err := p.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &PinLockoutRecord{Username: username}
	}
	return record, nil
}

func validatePinFormat(pin string) error {
	err := validation.Validate(pin,
		validation.Required,
		validation.Match(pinFormat),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "PIN must be 4 to 6 digits")
	}
	return nil
}
