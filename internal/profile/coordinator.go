// Package profile owns the active tenant context and its cancellation token.
//
// A Coordinator is the single source of truth for which profile is active.
// Every switch invalidates the current Token before any subscriber runs, so
// work that captured the old token can observe that it no longer applies.
// Subscribers are called synchronously, in registration order, inside the
// call that triggered the event.
package profile

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/logging"
)

// ErrProfileSwitched is the cancellation cause attached to invalidated tokens.
var ErrProfileSwitched = stderrors.New("profile switched")

// ErrDisposed is the cancellation cause once the coordinator is disposed.
var ErrDisposed = stderrors.New("profile coordinator disposed")

// Type is the kind of profile.
type Type string

const (
	TypePersonal Type = "personal"
	TypeBusiness Type = "business"
)

// Context identifies the active profile. Empty strings mean "none".
type Context struct {
	ProfileID   string `json:"profile_id,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
	ProfileType Type   `json:"profile_type,omitempty"`
}

// State is the coordinator's switch state.
type State int

const (
	Idle State = iota
	Switching
)

func (s State) String() string {
	if s == Switching {
		return "switching"
	}
	return "idle"
}

// Token is a revocable capability handed to async work. It wraps a context
// that is cancelled when the profile switches away.
type Token struct {
	ctx        context.Context
	generation uint64
}

// Context returns the context to pass to blocking calls.
func (t Token) Context() context.Context {
	if t.ctx == nil {
		return cancelledCtx
	}
	return t.ctx
}

// Generation identifies which switch issued the token.
func (t Token) Generation() uint64 { return t.generation }

// Cancelled reports whether the token has been invalidated.
func (t Token) Cancelled() bool { return t.Context().Err() != nil }

// Err returns the cancellation cause, or nil while the token is live.
func (t Token) Err() error {
	if t.Context().Err() == nil {
		return nil
	}
	return context.Cause(t.Context())
}

var cancelledCtx = func() context.Context {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrDisposed)
	return ctx
}()

// Snapshot is a consistent read of the coordinator.
type Snapshot struct {
	Context Context
	Token   Token
	State   State
}

// Coordinator is explicitly constructed; call Initialize before use and
// Dispose when done.
type Coordinator struct {
	log zerolog.Logger

	mu         sync.Mutex
	root       context.Context
	state      State
	current    Context
	target     *Context
	tokenCtx   context.Context
	cancel     context.CancelCauseFunc
	generation uint64
	disposed   bool

	listeners []*listener
	nextID    uint64
}

// NewCoordinator creates an uninitialized coordinator.
func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{log: logging.Component(log, "coordinator")}
}

// Initialize adopts the initial context and issues the first token. Tokens
// are derived from parent, so cancelling parent cancels all issued tokens.
func (c *Coordinator) Initialize(parent context.Context, initial Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel(ErrProfileSwitched)
	}
	c.root = parent
	c.current = initial
	c.state = Idle
	c.target = nil
	c.disposed = false
	c.issueTokenLocked()

	c.log.Info().Str("profile_id", initial.ProfileID).Msg("coordinator initialized")
}

// Dispose invalidates the current token and drops all subscribers.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel(ErrDisposed)
	}
	c.disposed = true
	c.listeners = nil
}

func (c *Coordinator) issueTokenLocked() {
	parent := c.root
	if parent == nil {
		parent = context.Background()
	}
	c.tokenCtx, c.cancel = context.WithCancelCause(parent)
	c.generation++
}

// Current returns the active context, token and state together.
func (c *Coordinator) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Context: c.current,
		Token:   Token{ctx: c.tokenCtx, generation: c.generation},
		State:   c.state,
	}
}

// Token returns the current cancellation token.
func (c *Coordinator) Token() Token {
	return c.Current().Token
}

// State returns Idle or Switching.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSwitching reports whether a switch is in progress.
func (c *Coordinator) IsSwitching() bool {
	return c.State() == Switching
}

// IsProfileStale reports whether work captured for profileID must not proceed:
// either another profile is active or a switch is underway.
func (c *Coordinator) IsProfileStale(profileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Switching || c.disposed || profileID != c.current.ProfileID
}

// IsEntityStale is IsProfileStale for entity ids.
func (c *Coordinator) IsEntityStale(entityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Switching || c.disposed || entityID != c.current.EntityID
}

// IsTokenStale reports whether tok was issued before the latest switch.
func (c *Coordinator) IsTokenStale(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok.generation != c.generation || tok.Cancelled()
}

// OnProfileSwitchStart invalidates the current token, issues a fresh one,
// enters Switching and notifies SwitchStart subscribers before returning.
func (c *Coordinator) OnProfileSwitchStart(newProfileID, newEntityID string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel(ErrProfileSwitched)
	}
	c.issueTokenLocked()
	old := c.current
	c.state = Switching
	c.target = &Context{ProfileID: newProfileID, EntityID: newEntityID}
	ev := SwitchStart{
		OldProfileID: old.ProfileID,
		OldEntityID:  old.EntityID,
		NewProfileID: newProfileID,
		NewEntityID:  newEntityID,
		Generation:   c.generation,
	}
	c.mu.Unlock()

	c.log.Info().
		Str("old_profile_id", old.ProfileID).
		Str("new_profile_id", newProfileID).
		Uint64("generation", ev.Generation).
		Msg("profile switch started")
	c.dispatch(ev)
}

// OnProfileSwitchComplete commits the new context and notifies subscribers.
// Called without a preceding start, it performs the start first so that no
// token from the previous context survives.
func (c *Coordinator) OnProfileSwitchComplete(profileID, entityID string, profileType Type) {
	if !c.IsSwitching() {
		c.log.Warn().Str("profile_id", profileID).Msg("switch complete without start; starting implicitly")
		c.OnProfileSwitchStart(profileID, entityID)
	}

	c.mu.Lock()
	previous := c.current
	c.current = Context{ProfileID: profileID, EntityID: entityID, ProfileType: profileType}
	c.state = Idle
	c.target = nil
	ev := SwitchComplete{Previous: previous, Current: c.current, Generation: c.generation}
	c.mu.Unlock()

	c.log.Info().Str("profile_id", profileID).Str("profile_type", string(profileType)).Msg("profile switch complete")
	c.dispatch(ev)
}

// OnProfileSwitchFailed returns to Idle keeping the previous context.
// The token issued at switch start stays current; work cancelled by the
// start is not revived.
func (c *Coordinator) OnProfileSwitchFailed() {
	c.mu.Lock()
	if c.state != Switching {
		c.mu.Unlock()
		return
	}
	var attempted Context
	if c.target != nil {
		attempted = *c.target
	}
	c.state = Idle
	c.target = nil
	ev := SwitchFailed{Attempted: attempted, Current: c.current, Generation: c.generation}
	c.mu.Unlock()

	c.log.Warn().
		Str("attempted_profile_id", attempted.ProfileID).
		Str("profile_id", ev.Current.ProfileID).
		Msg("profile switch failed; keeping previous profile")
	c.dispatch(ev)
}

// SwitchProfile runs a full switch: start, fn with the new token, then
// complete on success or failed on error.
func (c *Coordinator) SwitchProfile(target Context, fn func(ctx context.Context) error) error {
	c.OnProfileSwitchStart(target.ProfileID, target.EntityID)

	if fn != nil {
		if err := fn(c.Token().Context()); err != nil {
			c.OnProfileSwitchFailed()
			return fmt.Errorf("switch to %s: %w", target.ProfileID, err)
		}
	}

	c.OnProfileSwitchComplete(target.ProfileID, target.EntityID, target.ProfileType)
	return nil
}
