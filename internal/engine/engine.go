package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/event"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/config"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/logging"
	"github.com/foxace/ajax-sync-core/internal/journal"
	"github.com/foxace/ajax-sync-core/internal/scheduler"
	"github.com/foxace/ajax-sync-core/internal/state"
	"github.com/foxace/ajax-sync-core/internal/transport/rest"
)

// staleCheckInterval is how often the staleness monitor samples hub ages.
const staleCheckInterval = 30 * time.Second

// journalQueueSize bounds the write-behind journal buffer. When full,
// further entries are dropped with a warning rather than stalling the
// pipeline.
const journalQueueSize = 256

// journalWriteTimeout bounds each journal write.
const journalWriteTimeout = 5 * time.Second

// Poller is the REST transport surface the engine drives. *rest.Client
// satisfies it; tests substitute a fake.
type Poller interface {
	ListHubs(ctx context.Context) ([]rest.HubRef, rest.Hints, error)
	LightPoll(ctx context.Context, hubID string, bypassCache bool) ([]byte, rest.Hints, error)
	FullMetadata(ctx context.Context, hubID string) ([]byte, rest.Hints, error)
}

// Publisher fans engine outputs onto the MQTT bus. *bus.Publisher satisfies it.
type Publisher interface {
	PublishHubState(hub *ajax.HubState) error
	PublishNotification(n *ajax.NotificationEvent) error
	PublishChangeSet(cs ajax.ChangeSet) error
}

// Broadcaster pushes events to connected WebSocket clients. *api.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HealthRecorder samples diagnostics into the telemetry sink.
// *telemetry.Client satisfies it.
type HealthRecorder interface {
	RecordSnapshot(hub *ajax.HubState)
}

// Broadcast channel names, mirroring the API's WebSocket channels.
const (
	channelState         = "state"
	channelNotifications = "notifications"
)

// Deps holds the dependencies required by the engine. Poller, Store,
// Config, and Logger are required; the listeners are optional.
type Deps struct {
	Config *config.Config
	Logger *logging.Logger
	Store  *state.Store
	Poller Poller

	Journal   journal.Repository
	Publisher Publisher
	Broadcast Broadcaster
	Health    HealthRecorder

	// Clock overrides the scheduler clock, mainly for tests.
	Clock scheduler.Clock
}

// Engine drives the full synchronization pipeline for one account.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *state.Store
	poller Poller

	normalizer *event.Normalizer
	dedup      *event.Deduplicator
	debounce   *event.Debouncer
	sched      *scheduler.Scheduler

	journal   journal.Repository
	publisher Publisher
	broadcast Broadcaster
	health    HealthRecorder
	listeners *listeners

	// lastModes tracks the previously seen armed mode per hub for
	// transition journaling.
	lastModes map[string]ajax.ArmedMode
	modeMu    sync.Mutex

	journalOps chan func(ctx context.Context)

	wg sync.WaitGroup
}

// New creates an engine and its internal pipeline stages.
//
// Parameters:
//   - deps: Wiring; Config, Logger, Store, and Poller are required
//
// Returns:
//   - *Engine: Ready to Run
//   - error: If a required dependency is missing
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}

	e := &Engine{
		cfg:        deps.Config,
		logger:     deps.Logger,
		store:      deps.Store,
		poller:     deps.Poller,
		journal:    deps.Journal,
		publisher:  deps.Publisher,
		broadcast:  deps.Broadcast,
		health:     deps.Health,
		lastModes:  make(map[string]ajax.ArmedMode),
		listeners:  newListeners(),
		journalOps: make(chan func(ctx context.Context), journalQueueSize),
	}

	e.normalizer = event.NewNormalizer(deps.Logger)
	e.dedup = event.NewDeduplicator(deps.Config.Sync.Dedup())
	e.debounce = event.NewDebouncer(deps.Config.Sync.Debounce(), e.fireChangeSet)

	e.sched = scheduler.New(scheduler.Options{
		LightPollDisarmed: deps.Config.Sync.LightPoll(),
		LightPollArmed:    deps.Config.Sync.ArmedPoll(),
		FullRefreshEvery:  deps.Config.Sync.FullRefresh(),
		BackoffBase:       deps.Config.Sync.Backoff.BaseDelay(),
		BackoffCap:        deps.Config.Sync.Backoff.CapDelay(),
		Clock:             deps.Clock,
		Logger:            deps.Logger,
	}, e)

	return e, nil
}

// Scheduler exposes the poll scheduler for out-of-band refresh wiring.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// SetBroadcast wires the WebSocket broadcaster after construction. The API
// server only creates its hub on Start, after the engine exists. Must be
// called before Run.
func (e *Engine) SetBroadcast(b Broadcaster) {
	e.broadcast = b
}

// Run discovers the account's hubs, performs the initial metadata sync,
// and drives the poll loops until the context is cancelled.
//
// Parameters:
//   - ctx: Cancellation stops the engine
//
// Returns:
//   - error: If hub discovery fails; cancellation returns nil
func (e *Engine) Run(ctx context.Context) error {
	hubs, _, err := e.poller.ListHubs(ctx)
	if err != nil {
		return fmt.Errorf("discovering hubs: %w", err)
	}
	if len(hubs) == 0 {
		e.logger.Warn("account has no hubs; engine idle until restart")
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.journalLoop(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.staleLoop(ctx)
	}()

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- e.sched.Run(ctx)
	}()

	for _, hub := range hubs {
		e.store.EnsureHub(hub.ID, hub.Name)
		e.sched.AddHub(hub.ID)
		// Startup metadata sync; the hourly cadence starts counting from now.
		e.sched.ForceRefresh(hub.ID)
		e.logger.Info("hub registered", "hub_id", hub.ID, "name", hub.Name)
	}

	<-ctx.Done()

	<-schedDone
	e.debounce.Close()
	e.listeners.closeAll()
	e.wg.Wait()

	e.logger.Info("engine stopped")
	return nil
}
