package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxace/ajax-sync-core/internal/transport"
)

// Logger is the minimal logging interface the scheduler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Phase is a hub loop's current state.
type Phase string

// Phase constants.
const (
	PhaseLightPoll   Phase = "light_poll"
	PhaseFullRefresh Phase = "full_refresh_due"
	PhaseCacheBypass Phase = "cache_bypass_pending"
	PhaseBackoff     Phase = "backoff"
)

// PollResult carries scheduling feedback from one light poll.
type PollResult struct {
	// SuggestedInterval is the cloud's pacing hint; zero when absent.
	SuggestedInterval time.Duration
}

// Syncer is the work the scheduler drives. Implemented by the engine.
type Syncer interface {
	// LightPoll fetches and applies hub plus device state. bypass requests
	// that intermediate caches be skipped.
	LightPoll(ctx context.Context, hubID string, bypass bool) (PollResult, error)

	// FullRefresh fetches and applies the hub's complete metadata.
	FullRefresh(ctx context.Context, hubID string) error

	// Armed reports whether the hub is in an armed mode, selecting the
	// slower poll cadence.
	Armed(hubID string) bool
}

// Options configures a Scheduler.
type Options struct {
	// LightPollDisarmed and LightPollArmed are the base poll intervals.
	LightPollDisarmed time.Duration
	LightPollArmed    time.Duration

	// FullRefreshEvery is the metadata refresh period.
	FullRefreshEvery time.Duration

	// MinInterval and MaxInterval clamp cloud-suggested intervals.
	// Default 10s and 15m.
	MinInterval time.Duration
	MaxInterval time.Duration

	// BackoffBase and BackoffCap shape the per-hub failure backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Clock  Clock
	Logger Logger
}

// hubLoop is the per-hub scheduling state.
type hubLoop struct {
	id string

	// dirty marks the next light poll to bypass intermediate caches.
	dirty atomic.Bool

	// refresh wakes the loop for an immediate full refresh.
	refresh chan struct{}

	// hintNanos is the last clamped cloud-suggested interval.
	hintNanos atomic.Int64
}

// Scheduler runs one reconciliation loop per hub.
//
// Thread Safety:
//   - All public methods are thread-safe.
type Scheduler struct {
	opts   Options
	syncer Syncer
	clock  Clock
	logger Logger

	mu     sync.Mutex
	hubs   map[string]*hubLoop
	phases map[string]Phase
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a Scheduler. Hubs are added with AddHub; loops start once
// Run is called.
func New(opts Options, syncer Syncer) *Scheduler {
	if opts.LightPollDisarmed <= 0 {
		opts.LightPollDisarmed = 30 * time.Second
	}
	if opts.LightPollArmed <= 0 {
		opts.LightPollArmed = 60 * time.Second
	}
	if opts.FullRefreshEvery <= 0 {
		opts.FullRefreshEvery = time.Hour
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 10 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 15 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Scheduler{
		opts:   opts,
		syncer: syncer,
		clock:  opts.Clock,
		logger: opts.Logger,
		hubs:   make(map[string]*hubLoop),
		phases: make(map[string]Phase),
	}
}

// Run starts the loops for every added hub and blocks until ctx is
// cancelled and all loops have drained.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	for _, h := range s.hubs {
		s.startLocked(h)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.wg.Wait()
	return ctx.Err()
}

// AddHub registers a hub. If Run is already active the loop starts
// immediately; otherwise it starts when Run is called.
func (s *Scheduler) AddHub(hubID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hubs[hubID]; ok {
		return
	}
	h := &hubLoop{id: hubID, refresh: make(chan struct{}, 1)}
	s.hubs[hubID] = h
	s.phases[hubID] = PhaseLightPoll
	if s.ctx != nil {
		s.startLocked(h)
	}
}

func (s *Scheduler) startLocked(h *hubLoop) {
	s.wg.Add(1)
	go s.runHub(s.ctx, h)
}

// MarkDirty flags the hub so its next light poll bypasses any
// intermediate caching layer. Called after a state-changing event arrives
// via stream or queue; the subsequent poll must read the freshly-changed
// state, not a stale cached value.
func (s *Scheduler) MarkDirty(hubID string) {
	s.mu.Lock()
	h, ok := s.hubs[hubID]
	if ok {
		s.phases[hubID] = PhaseCacheBypass
	}
	s.mu.Unlock()
	if ok {
		h.dirty.Store(true)
	}
}

// ForceRefresh wakes the hub's loop for an immediate metadata refresh.
func (s *Scheduler) ForceRefresh(hubID string) {
	s.mu.Lock()
	h, ok := s.hubs[hubID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// ForceRefreshAll wakes every hub loop for a metadata refresh. Called
// after a stream reconnect: the disconnect window may have dropped events.
func (s *Scheduler) ForceRefreshAll() {
	s.mu.Lock()
	hubs := make([]*hubLoop, 0, len(s.hubs))
	for _, h := range s.hubs {
		hubs = append(hubs, h)
	}
	s.mu.Unlock()

	for _, h := range hubs {
		select {
		case h.refresh <- struct{}{}:
		default:
		}
	}
}

// Phase returns the hub loop's current phase.
func (s *Scheduler) Phase(hubID string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases[hubID]
}

func (s *Scheduler) setPhase(hubID string, p Phase) {
	s.mu.Lock()
	s.phases[hubID] = p
	s.mu.Unlock()
}

// runHub is one hub's reconciliation loop.
func (s *Scheduler) runHub(ctx context.Context, h *hubLoop) {
	defer s.wg.Done()

	bo := transport.NewBackoff(s.opts.BackoffBase, s.opts.BackoffCap)
	inBackoff := false
	lastFull := s.clock.Now()

	for {
		var wait time.Duration
		if inBackoff {
			wait = bo.Next()
			s.setPhase(h.id, PhaseBackoff)
		} else {
			wait = s.interval(h)
		}

		forced := false
		ticker := s.clock.Ticker(wait)
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.Chan():
		case <-h.refresh:
			forced = true
		}
		ticker.Stop()

		now := s.clock.Now()
		if forced || now.Sub(lastFull) >= s.opts.FullRefreshEvery {
			s.setPhase(h.id, PhaseFullRefresh)
			if err := s.syncer.FullRefresh(ctx, h.id); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("full refresh failed", "hub_id", h.id, "error", err)
				inBackoff = true
				continue
			}
			lastFull = s.clock.Now()
		}

		bypass := h.dirty.Swap(false)
		res, err := s.syncer.LightPoll(ctx, h.id, bypass)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if bypass {
				// Keep the bypass promise for the retry.
				h.dirty.Store(true)
			}
			s.logger.Warn("light poll failed", "hub_id", h.id, "error", err, "next_delay", bo.Current())
			inBackoff = true
			continue
		}

		if inBackoff {
			s.logger.Info("hub polling recovered", "hub_id", h.id)
		}
		inBackoff = false
		bo.Reset()
		h.hintNanos.Store(int64(s.clamp(res.SuggestedInterval)))
		s.setPhase(h.id, PhaseLightPoll)
	}
}

// interval selects the next light-poll delay: cloud hint when present,
// else the armed-aware base interval.
func (s *Scheduler) interval(h *hubLoop) time.Duration {
	if hint := time.Duration(h.hintNanos.Load()); hint > 0 {
		return hint
	}
	if s.syncer.Armed(h.id) {
		return s.opts.LightPollArmed
	}
	return s.opts.LightPollDisarmed
}

// clamp bounds a cloud-suggested interval to the safe range. Zero stays
// zero: no hint.
func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < s.opts.MinInterval {
		return s.opts.MinInterval
	}
	if d > s.opts.MaxInterval {
		return s.opts.MaxInterval
	}
	return d
}
