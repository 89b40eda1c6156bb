// Package engine wires the outbox, coordinator, write service, sync worker,
// confirmation poller and cache bus into one explicitly owned unit.
//
// Nothing here is global: tests can run several engines side by side, each
// with its own database, scheduler and remote.
package engine

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/cache"
	"github.com/hpungsan/outpost/internal/config"
	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/ops"
	"github.com/hpungsan/outpost/internal/poller"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/remote"
	"github.com/hpungsan/outpost/internal/syncworker"
	"github.com/hpungsan/outpost/internal/timeline"
)

// ErrSyncDisabled is returned by Sync when no remote is configured.
var ErrSyncDisabled = stderrors.New("sync disabled: remote_url not configured")

var _ syncworker.RemoteClient = (*remote.Client)(nil)

// Options configures an Engine. DB is required.
type Options struct {
	Config *config.Config
	DB     *sql.DB

	// Remote overrides the HTTP client built from Config.
	Remote syncworker.RemoteClient

	Scheduler    poller.Scheduler
	Connectivity poller.Connectivity
	Now          func() time.Time
	Log          zerolog.Logger
}

// Engine owns one instance of every component.
//
// The engine arms a confirmation burst only when the server acknowledges a
// transaction, keyed by the server id. Callers that want a burst at
// submission time, before any acknowledgement, call Poller.StartPolling with
// the local id themselves.
type Engine struct {
	Store       *db.Store
	Coordinator *profile.Coordinator
	Writer      *ops.Service
	Worker      *syncworker.Worker
	Poller      *poller.Poller
	Cache       *cache.Bus

	cfg         *config.Config
	log         zerolog.Logger
	syncEnabled bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New builds an engine. Call Initialize before use and Dispose when done.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	e := &Engine{
		cfg: cfg,
		log: opts.Log,
	}

	rc := opts.Remote
	if rc == nil && cfg.RemoteURL != "" {
		rc = remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, cfg.RemoteTimeout.D())
	}
	e.syncEnabled = rc != nil
	if rc == nil {
		rc = disabledRemote{}
	}

	e.Store = db.NewStore(opts.DB, opts.Log)
	e.Coordinator = profile.NewCoordinator(opts.Log)
	e.Cache = cache.NewBus(opts.Log)
	e.Poller = poller.New(poller.Options{
		Coordinator:  e.Coordinator,
		Invalidator:  e.Cache,
		Scheduler:    opts.Scheduler,
		Connectivity: opts.Connectivity,
		Schedule:     cfg.PollSchedule(),
		Log:          opts.Log,
	})
	e.Worker = syncworker.New(syncworker.Options{
		Store:       e.Store,
		Remote:      rc,
		Coordinator: e.Coordinator,
		Interval:    cfg.SyncInterval.D(),
		BatchSize:   cfg.SyncBatchSize,
		MaxRetries:  cfg.SyncMaxRetries,
		BaseBackoff: cfg.SyncBaseBackoff.D(),
		MaxBackoff:  cfg.SyncMaxBackoff.D(),
		OnSynced:    e.onSynced,
		Now:         opts.Now,
		Log:         opts.Log,
	})
	e.Writer = ops.NewService(ops.Options{
		Store:    e.Store,
		Profiles: e.Coordinator,
		Notifier: e.Worker,
		Now:      opts.Now,
		Log:      opts.Log,
	})
	return e
}

// onSynced refreshes caches for every acknowledged item and arms a
// confirmation burst for transactions.
func (e *Engine) onSynced(item *timeline.Item, serverID string) {
	e.Cache.Invalidate(cache.TimelineKey(item.InteractionID))
	if item.Type() != timeline.TypeTransaction {
		return
	}
	txID := serverID
	if txID == "" {
		txID = item.ID
	}
	e.Poller.StartPolling(txID, item.InteractionID)
}

// Initialize adopts the initial profile. Cancelling ctx invalidates every
// token the coordinator issues.
func (e *Engine) Initialize(ctx context.Context, initial profile.Context) {
	e.Coordinator.Initialize(ctx, initial)
}

// SyncEnabled reports whether a remote is configured.
func (e *Engine) SyncEnabled() bool { return e.syncEnabled }

// Start runs the sync worker in the background until Dispose. It is a no-op
// when sync is disabled or already started.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || !e.syncEnabled {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		_ = e.Worker.Run(runCtx)
	}()
	e.Worker.Trigger()
}

// Sync drains one batch in the foreground.
func (e *Engine) Sync(ctx context.Context) (int, error) {
	if !e.syncEnabled {
		return 0, ErrSyncDisabled
	}
	return e.Worker.DrainOnce(ctx)
}

// Dispose stops the worker, drops all polls and invalidates the active token.
func (e *Engine) Dispose() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.started = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.Poller.Dispose()
	e.Worker.Dispose()
	e.Coordinator.Dispose()
	e.log.Debug().Msg("engine disposed")
}

// SwitchProfile runs a full switch. fn performs whatever the switch needs
// (authentication, loading the new profile) under the fresh token.
func (e *Engine) SwitchProfile(target profile.Context, fn func(ctx context.Context) error) error {
	return e.Coordinator.SwitchProfile(target, fn)
}

// Counts is the outbox summary for one profile.
type Counts struct {
	ProfileID string `json:"profile_id"`
	Pending   int    `json:"pending"`
	Failed    int    `json:"failed"`
}

// Counts returns pending and failed counts for profileID.
func (e *Engine) Counts(ctx context.Context, profileID string) Counts {
	return Counts{
		ProfileID: profileID,
		Pending:   e.Writer.GetPendingCount(ctx, profileID),
		Failed:    e.Writer.GetFailedCount(ctx, profileID),
	}
}

type disabledRemote struct{}

func (disabledRemote) Push(context.Context, *timeline.Item) (string, error) {
	return "", ErrSyncDisabled
}
