// Package poller runs short confirmation bursts for submitted transactions.
//
// A burst fires a fixed number of cache invalidations at increasing offsets
// from StartPolling and then ends. Every active burst is dropped when the
// profile starts switching; interrupted bursts are never resumed.
package poller

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/cache"
	"github.com/hpungsan/outpost/internal/logging"
	"github.com/hpungsan/outpost/internal/profile"
)

// DefaultSchedule is the burst schedule, as offsets from StartPolling.
var DefaultSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// Coordinator is the slice of the profile coordinator the poller needs.
type Coordinator interface {
	Current() profile.Snapshot
	IsTokenStale(profile.Token) bool
	OnSwitchStart(func(profile.SwitchStart)) func()
}

// Connectivity reports whether the device can reach the remote system.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

// Online implements Connectivity.
func (f ConnectivityFunc) Online() bool { return f() }

// AlwaysOnline never reports offline.
var AlwaysOnline Connectivity = ConnectivityFunc(func() bool { return true })

// Options configures a Poller. Coordinator is required.
type Options struct {
	Coordinator  Coordinator
	Invalidator  cache.Invalidator
	Scheduler    Scheduler
	Connectivity Connectivity
	// Schedule holds non-decreasing offsets from StartPolling.
	Schedule []time.Duration
	Log      zerolog.Logger
}

type activePoll struct {
	transactionID string
	interactionID string
	profileID     string
	token         profile.Token
	attempt       int
	timer         Timer
}

// Poller owns the set of active bursts.
type Poller struct {
	coord    Coordinator
	inv      cache.Invalidator
	sched    Scheduler
	online   Connectivity
	schedule []time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	polls    map[string]*activePoll
	disposed bool

	unsubscribe func()
}

// New creates a Poller and subscribes it to switch-start notifications.
func New(opts Options) *Poller {
	p := &Poller{
		coord:    opts.Coordinator,
		inv:      opts.Invalidator,
		sched:    opts.Scheduler,
		online:   opts.Connectivity,
		schedule: normalizeSchedule(opts.Schedule),
		log:      logging.Component(opts.Log, "poller"),
		polls:    make(map[string]*activePoll),
	}
	if p.inv == nil {
		p.inv = cache.Nop
	}
	if p.sched == nil {
		p.sched = RealScheduler{}
	}
	if p.online == nil {
		p.online = AlwaysOnline
	}
	p.unsubscribe = p.coord.OnSwitchStart(func(e profile.SwitchStart) {
		n := p.StopAllPolls()
		p.log.Debug().Int("stopped", n).Str("new_profile_id", e.NewProfileID).Msg("switch started; polls dropped")
	})
	return p
}

// normalizeSchedule drops non-positive offsets and keeps the rest non-decreasing.
func normalizeSchedule(in []time.Duration) []time.Duration {
	if len(in) == 0 {
		return append([]time.Duration(nil), DefaultSchedule...)
	}
	out := make([]time.Duration, 0, len(in))
	var last time.Duration
	for _, d := range in {
		if d <= 0 {
			continue
		}
		if d < last {
			d = last
		}
		out = append(out, d)
		last = d
	}
	if len(out) == 0 {
		return append([]time.Duration(nil), DefaultSchedule...)
	}
	return out
}

// StartPolling arms a confirmation burst for transactionID. interactionID
// may be empty. It does nothing if the transaction is already polling, a
// profile switch is in progress, or the device is offline.
func (p *Poller) StartPolling(transactionID, interactionID string) {
	if transactionID == "" {
		p.log.Warn().Msg("start polling without transaction id")
		return
	}
	snap := p.coord.Current()
	if snap.State == profile.Switching {
		p.log.Debug().Str("transaction_id", transactionID).Msg("switch in progress; not polling")
		return
	}
	if !p.online.Online() {
		p.log.Debug().Str("transaction_id", transactionID).Msg("offline; not polling")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	if _, ok := p.polls[transactionID]; ok {
		return
	}
	if p.coord.IsTokenStale(snap.Token) {
		return
	}
	ap := &activePoll{
		transactionID: transactionID,
		interactionID: interactionID,
		profileID:     snap.Context.ProfileID,
		token:         snap.Token,
	}
	p.polls[transactionID] = ap
	p.armLocked(ap)

	p.log.Debug().
		Str("transaction_id", transactionID).
		Str("interaction_id", interactionID).
		Int("attempts", len(p.schedule)).
		Msg("polling started")
}

// armLocked schedules the next attempt relative to the previous offset.
func (p *Poller) armLocked(ap *activePoll) {
	delay := p.schedule[ap.attempt]
	if ap.attempt > 0 {
		delay -= p.schedule[ap.attempt-1]
	}
	ap.timer = p.sched.AfterFunc(delay, func() { p.fire(ap) })
}

func (p *Poller) fire(ap *activePoll) {
	p.mu.Lock()
	if p.polls[ap.transactionID] != ap {
		// Stopped or replaced after the timer was already running.
		p.mu.Unlock()
		return
	}
	if p.coord.IsTokenStale(ap.token) {
		delete(p.polls, ap.transactionID)
		p.mu.Unlock()
		p.log.Debug().
			Str("transaction_id", ap.transactionID).
			Str("profile_id", ap.profileID).
			Msg("stale poll dropped")
		return
	}
	ap.attempt++
	attempt := ap.attempt
	p.mu.Unlock()

	p.inv.Invalidate(cache.TransactionsKey())
	if ap.interactionID != "" {
		p.inv.Invalidate(cache.TimelineKey(ap.interactionID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polls[ap.transactionID] != ap {
		return
	}
	if attempt >= len(p.schedule) {
		delete(p.polls, ap.transactionID)
		p.log.Debug().Str("transaction_id", ap.transactionID).Int("attempts", attempt).Msg("polling finished")
		return
	}
	p.armLocked(ap)
}

// StopPolling cancels the burst for transactionID, if any.
func (p *Poller) StopPolling(transactionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(transactionID)
}

func (p *Poller) stopLocked(transactionID string) bool {
	ap, ok := p.polls[transactionID]
	if !ok {
		return false
	}
	if ap.timer != nil {
		ap.timer.Stop()
	}
	delete(p.polls, transactionID)
	return true
}

// StopAllPolls cancels every burst and returns how many were active.
func (p *Poller) StopAllPolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id := range p.polls {
		if p.stopLocked(id) {
			n++
		}
	}
	return n
}

// IsPolling reports whether transactionID has an active burst.
func (p *Poller) IsPolling(transactionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.polls[transactionID]
	return ok
}

// ActivePollsCount returns the number of active bursts.
func (p *Poller) ActivePollsCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.polls)
}

// Schedule returns a copy of the burst offsets.
func (p *Poller) Schedule() []time.Duration {
	return append([]time.Duration(nil), p.schedule...)
}

// Dispose stops every burst and unsubscribes from the coordinator. Later
// StartPolling calls are ignored.
func (p *Poller) Dispose() {
	p.StopAllPolls()
	p.mu.Lock()
	p.disposed = true
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
