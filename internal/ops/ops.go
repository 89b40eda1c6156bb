// Package ops is the timeline write service: the public surface callers use
// to put messages and transactions into the outbox and to inspect it.
//
// Writes are local-first. A successful Send returns as soon as the item is
// durable in the outbox; the sync worker delivers it later.
package ops

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/logging"
)

// List limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// StaleChecker reports whether a profile is no longer the active one.
type StaleChecker interface {
	IsProfileStale(profileID string) bool
}

// Notifier is nudged after every successful write.
type Notifier interface {
	Trigger()
}

// Options configures a Service. Store is required; the rest are optional.
type Options struct {
	Store *db.Store
	// Profiles, when set, rejects writes for a profile that is not active.
	Profiles StaleChecker
	Notifier Notifier
	Now      func() time.Time
	Log      zerolog.Logger
}

// Service implements the write and read operations over the outbox.
type Service struct {
	store    *db.Store
	profiles StaleChecker
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		profiles: opts.Profiles,
		notifier: opts.Notifier,
		now:      opts.Now,
		log:      logging.Component(opts.Log, "writer"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) isStale(profileID string) bool {
	return s.profiles != nil && s.profiles.IsProfileStale(profileID)
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Trigger()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
