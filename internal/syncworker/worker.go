// Package syncworker pushes pending outbox items to the remote system.
//
// The worker drains due items for the active profile on a ticker or on
// Trigger. Every remote call carries the coordinator's current token; a
// switch start cancels that token, pauses the worker, and any result that
// arrives for a stale token is discarded instead of written.
package syncworker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/logging"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/timeline"
)

// RemoteClient pushes one item and returns the server-assigned id.
// Implementations must abort when ctx is cancelled.
type RemoteClient interface {
	Push(ctx context.Context, item *timeline.Item) (serverID string, err error)
}

// Store is the subset of the outbox the worker writes through.
type Store interface {
	ListDue(ctx context.Context, profileID string, now time.Time, limit int) ([]*timeline.Item, error)
	MarkSynced(ctx context.Context, id, serverID string) error
	RecordFailure(ctx context.Context, id, lastError string, nextAttemptAt *int64, exhausted bool) error
}

// Coordinator is the subset of the profile coordinator the worker needs.
type Coordinator interface {
	Current() profile.Snapshot
	IsTokenStale(profile.Token) bool
	Subscribe(profile.Observer) func()
}

// Options configures a Worker. Zero values fall back to the defaults below.
type Options struct {
	Store       Store
	Remote      RemoteClient
	Coordinator Coordinator

	Interval    time.Duration
	BatchSize   int
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// OnSynced, when set, is called after an item is marked synced.
	OnSynced func(item *timeline.Item, serverID string)

	Now func() time.Time
	Log zerolog.Logger
}

const (
	DefaultInterval    = 5 * time.Second
	DefaultBatchSize   = 25
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// Stats counts drain outcomes since the worker was created.
type Stats struct {
	Synced      uint64 `json:"synced"`
	Rescheduled uint64 `json:"rescheduled"`
	Failed      uint64 `json:"failed"`
	Discarded   uint64 `json:"discarded"`
}

// Worker drains the outbox. It is safe for concurrent use; drains are
// serialized.
type Worker struct {
	store  Store
	remote RemoteClient
	coord  Coordinator

	interval    time.Duration
	batchSize   int
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	onSynced    func(*timeline.Item, string)
	now         func() time.Time
	log         zerolog.Logger

	trigger chan struct{}
	drainMu sync.Mutex
	paused  atomic.Bool

	synced      atomic.Uint64
	rescheduled atomic.Uint64
	failed      atomic.Uint64
	discarded   atomic.Uint64

	unsubscribe func()
}

// New creates a worker and subscribes it to profile lifecycle events.
func New(opts Options) *Worker {
	w := &Worker{
		store:       opts.Store,
		remote:      opts.Remote,
		coord:       opts.Coordinator,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		onSynced:    opts.OnSynced,
		now:         opts.Now,
		log:         logging.Component(opts.Log, "syncworker"),
		trigger:     make(chan struct{}, 1),
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.maxRetries <= 0 {
		w.maxRetries = DefaultMaxRetries
	}
	if w.baseBackoff <= 0 {
		w.baseBackoff = DefaultBaseBackoff
	}
	if w.maxBackoff <= 0 {
		w.maxBackoff = DefaultMaxBackoff
	}
	if w.now == nil {
		w.now = time.Now
	}
	w.unsubscribe = w.coord.Subscribe(profile.ObserverFunc(w.onProfileEvent))
	return w
}

func (w *Worker) onProfileEvent(ev profile.Event) {
	switch e := ev.(type) {
	case profile.SwitchStart:
		w.paused.Store(true)
		w.log.Debug().Str("new_profile_id", e.NewProfileID).Msg("paused for profile switch")
	case profile.SwitchComplete:
		w.paused.Store(false)
		w.log.Debug().Str("profile_id", e.Current.ProfileID).Msg("resumed after switch")
		w.Trigger()
	case profile.SwitchFailed:
		w.paused.Store(false)
		w.log.Debug().Str("profile_id", e.Current.ProfileID).Msg("resumed after failed switch")
		w.Trigger()
	}
}

// Run drains on every tick and on Trigger until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Dur("interval", w.interval).
		Int("max_retries", w.maxRetries).
		Msg("sync worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("sync worker stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-w.trigger:
		}
		if _, err := w.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("drain failed")
		}
	}
}

// Trigger requests a drain without waiting for the next tick. It never blocks.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Paused reports whether a profile switch is holding the worker.
func (w *Worker) Paused() bool { return w.paused.Load() }

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Synced:      w.synced.Load(),
		Rescheduled: w.rescheduled.Load(),
		Failed:      w.failed.Load(),
		Discarded:   w.discarded.Load(),
	}
}

// Dispose unsubscribes from the coordinator. Run must be stopped through its
// context.
func (w *Worker) Dispose() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}

// DrainOnce pushes one batch of due items for the active profile and returns
// how many items were attempted. It does nothing while a switch is underway.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	snap := w.coord.Current()
	if w.paused.Load() || snap.State == profile.Switching {
		return 0, nil
	}
	profileID := snap.Context.ProfileID
	if profileID == "" || snap.Token.Cancelled() {
		return 0, nil
	}

	items, err := w.store.ListDue(ctx, profileID, w.now(), w.batchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		if w.paused.Load() || w.coord.IsTokenStale(snap.Token) {
			w.log.Debug().Str("profile_id", profileID).Msg("token invalidated; drain abandoned")
			return attempted, nil
		}
		attempted++
		if !w.push(ctx, snap.Token, item) {
			return attempted, nil
		}
	}
	return attempted, nil
}

// push sends one item and records the outcome. It returns false when the
// drain must stop.
func (w *Worker) push(ctx context.Context, tok profile.Token, item *timeline.Item) bool {
	callCtx, cancel := context.WithCancel(tok.Context())
	stop := context.AfterFunc(ctx, cancel)
	serverID, pushErr := w.remote.Push(callCtx, item)
	stop()
	cancel()

	if w.coord.IsTokenStale(tok) {
		w.discarded.Add(1)
		w.log.Debug().
			Str("id", item.ID).
			Uint64("generation", tok.Generation()).
			Msg("stale push result discarded")
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	if pushErr == nil {
		if err := w.store.MarkSynced(ctx, item.ID, serverID); err != nil {
			// Cancelled by the user while the push was in flight.
			if errors.Is(err, errors.ErrConflict) {
				w.log.Info().Str("id", item.ID).Msg("item left pending before ack; ignoring")
				return true
			}
			w.log.Error().Err(err).Str("id", item.ID).Msg("mark synced failed")
			return true
		}
		w.synced.Add(1)
		w.log.Debug().Str("id", item.ID).Str("server_id", serverID).Msg("synced")
		if w.onSynced != nil {
			w.onSynced(item, serverID)
		}
		return true
	}

	attempts := item.RetryCount + 1
	exhausted := attempts >= w.maxRetries || !errors.IsRetryable(pushErr)
	var next *int64
	if !exhausted {
		at := w.now().Add(Backoff(attempts, w.baseBackoff, w.maxBackoff)).UnixMilli()
		next = &at
	}
	if err := w.store.RecordFailure(ctx, item.ID, pushErr.Error(), next, exhausted); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			w.log.Info().Err(pushErr).Str("id", item.ID).Msg("item left pending before failure was recorded; ignoring")
			return true
		}
		w.log.Error().Err(err).Str("id", item.ID).Msg("record failure failed")
		return true
	}

	if exhausted {
		w.failed.Add(1)
		w.log.Warn().Err(pushErr).Str("id", item.ID).Int("attempts", attempts).Msg("sync failed; item marked failed")
	} else {
		w.rescheduled.Add(1)
		w.log.Warn().Err(pushErr).Str("id", item.ID).Int("attempts", attempts).Msg("sync failed; rescheduled")
	}
	return true
}

// Backoff returns min(base*2^(attempt-1), max) for attempt >= 1.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
