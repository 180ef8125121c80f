package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBootstrapTimeout bounds the initial resolution; past it the
// coordinator reports ready with whatever partial state exists.
const DefaultBootstrapTimeout = 10 * time.Second

// Provider is the identity provider boundary. SessionChanges yields the
// current identity immediately on subscription and then every change of the
// authenticated principal, in order, until cancel is called. Only one
// subscription is taken per coordinator lifetime.
type Provider interface {
	SessionChanges(ctx context.Context) (<-chan *Identity, func(), error)
	AuthenticatePassword(ctx context.Context, email, password string) (Identity, error)
	CreateAccountPassword(ctx context.Context, email, password string) (Identity, error)
	AuthenticateInteractive(ctx context.Context, kind ProviderKind) (Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, uid, name string) error
}

// RecordStore is the user-record boundary. CreateIfAbsent must be a
// conditional create and reports whether a row was actually written, so
// callers can distinguish a fresh record from a lost race.
type RecordStore interface {
	Read(ctx context.Context, uid string) (Record, error)
	CreateIfAbsent(ctx context.Context, params CreateRecordParams) (bool, error)
}

// SignupParams carries the caller-supplied fields for account creation.
type SignupParams struct {
	Email         string
	Password      string
	DisplayName   string
	RequestedRole Role
	Extras        map[string]string
}

// AuthResult bundles the identity and effective role returned by commands.
// The authoritative session publish still happens through the notification
// path; callers should use this only for immediate redirect decisions.
type AuthResult struct {
	Identity Identity
	Role     Role
}

// Coordinator owns the process-wide session: it mediates between the identity
// provider and the user-record store and is the only writer of the published
// Snapshot. Consumers observe it through Subscribe or Snapshot.
type Coordinator struct {
	provider Provider
	records  RecordStore
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	snap    Snapshot
	phase   Phase
	seq     uint64
	started bool
	cancel  func()
	timer   *time.Timer
	subs    map[int]chan Snapshot
	nextSub int
}

// NewCoordinator wires a coordinator with the default bootstrap timeout.
func NewCoordinator(provider Provider, records RecordStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		provider: provider,
		records:  records,
		logger:   logger,
		timeout:  DefaultBootstrapTimeout,
		snap:     Snapshot{Initializing: true},
		subs:     make(map[int]chan Snapshot),
	}
}

// WithBootstrapTimeout overrides the initial-resolution bound.
func (c *Coordinator) WithBootstrapTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Snapshot returns the currently published session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Phase returns the coordinator's current state-machine phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Subscribe registers an observer. The channel immediately carries the current
// snapshot and then every subsequent publish, latest-wins: a slow consumer
// sees the newest state, never a backlog. The returned func unsubscribes.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- c.snap
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// Bootstrap registers the single long-lived provider subscription and starts
// processing identity-change notifications. It arms the bootstrap timeout,
// which is disarmed the moment the first resolution completes by any path.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	events, cancel, err := c.provider.SessionChanges(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("session: subscribe to provider: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.timer = time.AfterFunc(c.timeout, func() { c.forceReady() })
	c.mu.Unlock()

	c.logger.Info("session bootstrap started", "timeout", c.timeout)

	go func() {
		for ident := range events {
			c.handleChange(ctx, ident)
		}
	}()

	return nil
}

// Close tears down the provider subscription. Intended for process shutdown
// and tests; the published snapshot is left as-is.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.disarmTimerLocked()
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleChange processes one provider notification. Notifications arrive in
// order; each one bumps the sequence so that a resolution still in flight for
// an older notification cannot overwrite newer state.
func (c *Coordinator) handleChange(ctx context.Context, ident *Identity) {
	c.mu.Lock()
	c.seq++
	seq := c.seq

	if ident == nil {
		c.phase = PhaseResolved
		c.disarmTimerLocked()
		c.publishLocked(Snapshot{Ready: true})
		c.mu.Unlock()
		c.logger.Info("session resolved", "phase", "resolved", "seq", seq, "identity", "absent")
		return
	}

	c.phase = PhaseResolving
	// Identity is visible while the role resolves; the role stays empty so no
	// reader can pair this identity with a role from an older resolution.
	c.publishLocked(Snapshot{
		Identity:     ident,
		Initializing: c.snap.Initializing,
		Ready:        c.snap.Ready,
	})
	c.mu.Unlock()

	c.logger.Info("session resolving", "phase", "resolving", "seq", seq, "uid", ident.UID)
	go c.resolve(ctx, seq, ident)
}

// resolve performs the role lookup for one notification and publishes the
// identity/role pair together, unless a newer notification superseded it.
func (c *Coordinator) resolve(ctx context.Context, seq uint64, ident *Identity) {
	role := c.lookupRole(ctx, ident.UID)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug("session resolution superseded", "seq", seq, "latest", c.seq, "uid", ident.UID)
		return
	}
	c.phase = PhaseResolved
	c.disarmTimerLocked()
	c.publishLocked(Snapshot{Identity: ident, Role: role, Ready: true})
	c.mu.Unlock()

	c.logger.Info("session resolved", "phase", "resolved", "seq", seq, "uid", ident.UID, "role", string(role))
}

// forceReady fires when the bootstrap timeout elapses before the first
// resolution completes. Not an error: dependent UI must not block forever.
func (c *Coordinator) forceReady() {
	c.mu.Lock()
	if c.snap.Ready {
		c.mu.Unlock()
		return
	}
	snap := c.snap
	snap.Ready = true
	snap.Initializing = false
	c.publishLocked(snap)
	c.mu.Unlock()

	c.logger.Warn("session bootstrap timed out, forcing ready", "timeout", c.timeout)
}

// Signup creates a new provider identity and performs idempotent record
// creation. When a record already exists for the identity its role wins over
// the requested one; callers must not assume the requested role was honored.
func (c *Coordinator) Signup(ctx context.Context, params SignupParams) (AuthResult, error) {
	ident, err := c.provider.CreateAccountPassword(ctx, params.Email, params.Password)
	if err != nil {
		return AuthResult{}, err
	}

	if params.DisplayName != "" {
		if err := c.provider.UpdateDisplayName(ctx, ident.UID, params.DisplayName); err != nil {
			// The account exists at this point; a failed profile write is not
			// worth failing the signup over.
			c.logger.Warn("set display name failed", "uid", ident.UID, "error", err)
		} else {
			ident.DisplayName = params.DisplayName
		}
	}

	role := c.ensureRecord(ctx, ident, params.RequestedRole, params.Extras)
	c.logger.Info("signup completed", "uid", ident.UID, "role", string(role))
	return AuthResult{Identity: ident, Role: role}, nil
}

// Login authenticates an existing identity. It looks the role up for display
// only and never creates a record; only signup and interactive sign-in do.
func (c *Coordinator) Login(ctx context.Context, email, password string) (AuthResult, error) {
	ident, err := c.provider.AuthenticatePassword(ctx, email, password)
	if err != nil {
		return AuthResult{}, err
	}

	role := c.lookupRole(ctx, ident.UID)
	c.logger.Info("login completed", "uid", ident.UID, "role", string(role))
	return AuthResult{Identity: ident, Role: role}, nil
}

// SignInWithGoogle runs the interactive consent flow and then behaves like
// Signup: first-time social users get a record, returning users keep theirs.
func (c *Coordinator) SignInWithGoogle(ctx context.Context, requestedRole Role) (AuthResult, error) {
	ident, err := c.provider.AuthenticateInteractive(ctx, ProviderGoogle)
	if err != nil {
		return AuthResult{}, err
	}

	role := c.ensureRecord(ctx, ident, requestedRole, nil)
	c.logger.Info("interactive sign-in completed", "uid", ident.UID, "role", string(role))
	return AuthResult{Identity: ident, Role: role}, nil
}

// ResetPassword delegates to the provider. No session-state effect.
func (c *Coordinator) ResetPassword(ctx context.Context, email string) error {
	return c.provider.SendPasswordReset(ctx, email)
}

// Logout signs out at the provider and, on success, synchronously clears the
// published session rather than waiting for the provider notification: the
// two are not guaranteed to race favorably. On failure state is untouched.
func (c *Coordinator) Logout(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	// Bumping the sequence supersedes any resolution still in flight.
	c.seq++
	c.phase = PhaseResolved
	c.disarmTimerLocked()
	c.publishLocked(Snapshot{Ready: true})
	c.mu.Unlock()

	c.logger.Info("logout completed", "phase", "resolved")
	return nil
}

// lookupRole reads the user record for uid and collapses every failure mode
// to RoleRenter: a temporarily wrong role beats blocking sign-in on a
// secondary read. Read failures are logged, never propagated.
func (c *Coordinator) lookupRole(ctx context.Context, uid string) Role {
	rec, err := c.records.Read(ctx, uid)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			c.logger.Warn("role lookup failed, falling back", "uid", uid, "role", string(RoleRenter), "error", err)
		}
		return RoleRenter
	}

	role, ok := ParseRole(string(rec.Role))
	if !ok {
		return RoleRenter
	}
	return role
}

// ensureRecord implements idempotent record creation: read, conditionally
// create when absent, and always report the effective role. Store failures
// degrade to RoleRenter instead of failing the command.
func (c *Coordinator) ensureRecord(ctx context.Context, ident Identity, requested Role, extras map[string]string) Role {
	if requested == "" {
		requested = RoleRenter
	}
	if _, ok := ParseRole(string(requested)); !ok {
		requested = RoleRenter
	}

	rec, err := c.records.Read(ctx, ident.UID)
	switch {
	case err == nil:
		if role, ok := ParseRole(string(rec.Role)); ok {
			return role
		}
		return RoleRenter

	case errors.Is(err, ErrRecordNotFound):
		created, cerr := c.records.CreateIfAbsent(ctx, CreateRecordParams{
			UID:         ident.UID,
			DisplayName: ident.DisplayName,
			Email:       ident.Email,
			Role:        requested,
			Extras:      extras,
		})
		if cerr != nil {
			c.logger.Warn("record creation failed, falling back", "uid", ident.UID, "role", string(RoleRenter), "error", cerr)
			return RoleRenter
		}
		if created {
			c.logger.Info("user record created", "uid", ident.UID, "role", string(requested))
			return requested
		}
		// Lost a concurrent-create race; the existing record's role wins.
		return c.lookupRole(ctx, ident.UID)

	default:
		c.logger.Warn("record read failed, falling back", "uid", ident.UID, "role", string(RoleRenter), "error", err)
		return RoleRenter
	}
}

func (c *Coordinator) publishLocked(snap Snapshot) {
	if snap.Ready {
		snap.Initializing = false
	}
	c.snap = snap
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (c *Coordinator) disarmTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
