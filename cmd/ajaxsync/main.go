// Ajax Sync Core - Real-Time Security State Mirror
//
// This is the main entry point for the Ajax Sync Core service. It keeps a
// local mirror of an Ajax security account continuously reconciled across
// three unreliable cloud channels:
//   - REST polling (authoritative, rate-limited)
//   - SSE push stream (low latency, lossy across reconnects)
//   - Cloud message queue (at-least-once, may duplicate)
//
// Downstream consumers read the mirror over the HTTP/WebSocket API, the
// MQTT bus, or the InfluxDB telemetry sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/foxace/ajax-sync-core/migrations"

	"github.com/foxace/ajax-sync-core/internal/api"
	"github.com/foxace/ajax-sync-core/internal/bus"
	"github.com/foxace/ajax-sync-core/internal/engine"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/config"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/database"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/logging"
	"github.com/foxace/ajax-sync-core/internal/journal"
	"github.com/foxace/ajax-sync-core/internal/state"
	"github.com/foxace/ajax-sync-core/internal/telemetry"
	"github.com/foxace/ajax-sync-core/internal/transport"
	"github.com/foxace/ajax-sync-core/internal/transport/queue"
	"github.com/foxace/ajax-sync-core/internal/transport/rest"
	"github.com/foxace/ajax-sync-core/internal/transport/stream"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Journal database tuning. WAL keeps API reads flowing during journal
// writes; the busy timeout is in seconds.
const (
	journalWALMode     = true
	journalBusyTimeout = 5
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ajax Sync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the event journal (optional)
	var journalRepo journal.Repository
	var db *database.DB
	if cfg.Journal.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     journalWALMode,
			BusyTimeout: journalBusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running journal migrations: %w", migrateErr)
		}
		journalRepo = journal.NewSQLiteRepository(db.DB)
		log.Info("event journal ready", "path", cfg.Journal.Path)
	} else {
		log.Info("event journal disabled")
	}

	// Connect to the MQTT bus (optional)
	var busClient *bus.Client
	var publisher *bus.Publisher
	if cfg.MQTT.Enabled {
		busClient, err = bus.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := busClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)

		busClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		busClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher = bus.NewPublisher(busClient, byte(cfg.MQTT.QoS), log)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *telemetry.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = telemetry.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// State store: the exclusive owner of the mirrored device tree
	store := state.NewStore(state.Options{
		ProtectionWindow: cfg.Sync.Protection(),
		ProvisionalGrace: cfg.Sync.ProvisionalGraceCycles,
		Logger:           log,
	})

	// REST poller
	tokens := transport.StaticToken(cfg.Cloud.Token)
	poller, err := rest.New(rest.Options{
		BaseURL:      cfg.Cloud.BaseURL,
		AccountID:    cfg.Cloud.AccountID,
		Tokens:       tokens,
		RateRequests: cfg.Sync.RateLimit.Requests,
		RateWindow:   time.Duration(cfg.Sync.RateLimit.Window) * time.Second,
		BackoffBase:  cfg.Sync.Backoff.BaseDelay(),
		BackoffCap:   cfg.Sync.Backoff.CapDelay(),
		Timeout:      cfg.Cloud.Timeout(),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating REST client: %w", err)
	}

	// Synchronization engine
	engineDeps := engine.Deps{
		Config:  cfg,
		Logger:  log,
		Store:   store,
		Poller:  poller,
		Journal: journalRepo,
	}
	if publisher != nil {
		engineDeps.Publisher = publisher
	}
	if influxClient != nil {
		engineDeps.Health = influxClient
	}
	eng, err := engine.New(engineDeps)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// HTTP/WebSocket API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.API.WebSocket,
			Logger:  log,
			Store:   store,
			Journal: journalRepo,
			Refresh: eng.Scheduler(),
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()

		// The hub exists only after Start, so the broadcast wiring
		// happens here rather than in engine.New.
		eng.SetBroadcast(apiServer.WebSocketHub())
	} else {
		log.Info("API server disabled")
	}

	// SSE push stream
	streamReader, err := stream.New(stream.Options{
		URL:         cfg.Cloud.StreamURL,
		Tokens:      tokens,
		Handler:     eng.HandleStream,
		OnCatchup:   eng.HandleCatchup,
		BackoffBase: cfg.Sync.Backoff.BaseDelay(),
		BackoffCap:  cfg.Sync.Backoff.CapDelay(),
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating stream reader: %w", err)
	}

	// Cloud message queue (optional)
	var consumer *queue.Consumer
	if cfg.Queue.Enabled {
		consumer, err = queue.NewConsumer(queue.Options{
			URL:         cfg.Queue.URL,
			Stream:      cfg.Queue.Stream,
			Durable:     cfg.Queue.Consumer,
			Subject:     cfg.Queue.Subject,
			Handler:     eng.HandleQueue,
			BatchSize:   cfg.Queue.FetchBatch,
			FetchWait:   time.Duration(cfg.Queue.FetchWait) * time.Second,
			BackoffBase: cfg.Sync.Backoff.BaseDelay(),
			BackoffCap:  cfg.Sync.Backoff.CapDelay(),
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("creating queue consumer: %w", err)
		}
		if connectErr := consumer.Connect(ctx); connectErr != nil {
			return fmt.Errorf("connecting to queue: %w", connectErr)
		}
		defer func() {
			log.Info("closing queue consumer")
			consumer.Close()
		}()
		log.Info("queue consumer connected",
			"url", cfg.Queue.URL,
			"stream", cfg.Queue.Stream,
		)
	} else {
		log.Info("cloud queue disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, busClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Run the engine and the push transports until shutdown. The first
	// hard failure from any of them stops the service.
	errCh := make(chan error, 3)
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- streamReader.Run(ctx) }()
	if consumer != nil {
		go func() { errCh <- consumer.Run(ctx) }()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("component failed: %w", err)
		}
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Queue consumer (if enabled)
	// 2. API server (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Journal database (if enabled)

	log.Info("Ajax Sync Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AJAXSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AJAXSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// Components disabled by configuration are passed as nil and skipped.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (may be nil)
//   - busClient: MQTT client (may be nil)
//   - influxClient: InfluxDB client (may be nil)
//   - apiServer: API server (may be nil)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, busClient *bus.Client, influxClient *telemetry.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.Healthy(ctx); err != nil {
			return fmt.Errorf("journal database: %w", err)
		}
	}

	if busClient != nil {
		if err := busClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
