package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/foxace/ajax-sync-core/internal/transport"
)

// Logger is the minimal logging interface the consumer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const (
	defaultBatchSize  = 10
	defaultFetchWait  = 5 * time.Second
	defaultMaxDeliver = 3
	defaultAckWait    = 30 * time.Second
)

// fetcher is the slice of jetstream.Consumer the pull loop depends on.
type fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// Handler processes one raw queue payload. The message is acknowledged
// only when the handler returns nil; a non-nil error Naks the message
// for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Options configures a Consumer.
type Options struct {
	// URL is the NATS server address, e.g. "nats://localhost:4222".
	URL string

	// Stream and Durable name the JetStream stream and the durable pull
	// consumer bound to it. The consumer is created on connect if it does
	// not already exist.
	Stream  string
	Durable string

	// Subject optionally filters which subjects the consumer receives.
	Subject string

	// Handler receives each message payload. Required.
	Handler Handler

	// BatchSize bounds how many messages a single fetch may return.
	// Defaults to 10.
	BatchSize int

	// FetchWait bounds how long an empty fetch blocks before returning.
	// Defaults to 5s.
	FetchWait time.Duration

	// MaxDeliver caps redelivery attempts per message. A message that has
	// reached the cap is acknowledged and dropped instead of Naked again.
	// Defaults to 3.
	MaxDeliver int

	// BackoffBase and BackoffCap shape the retry delay applied after a
	// failed fetch. Defaults to 5s and 30s.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger Logger
}

// Consumer pulls messages from a JetStream stream and hands each payload
// to a Handler, acknowledging only on success.
//
// Thread Safety:
//   - Run must be called from a single goroutine.
//   - Close is safe to call concurrently with Run.
type Consumer struct {
	opts     Options
	conn     *nats.Conn
	consumer fetcher
	logger   Logger
}

// NewConsumer validates opts and returns an unconnected Consumer.
// Call Connect before Run.
func NewConsumer(opts Options) (*Consumer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConfig)
	}
	if opts.Stream == "" || opts.Durable == "" {
		return nil, fmt.Errorf("%w: stream and durable are required", ErrConfig)
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = defaultFetchWait
	}
	if opts.MaxDeliver <= 0 {
		opts.MaxDeliver = defaultMaxDeliver
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Consumer{opts: opts, logger: opts.Logger}, nil
}

// Connect dials the NATS server and binds the durable pull consumer,
// creating it when absent.
func (c *Consumer) Connect(ctx context.Context) error {
	conn, err := nats.Connect(c.opts.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("queue: connect %s: %w", c.opts.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("queue: jetstream context: %w", err)
	}

	consumer, err := js.Consumer(ctx, c.opts.Stream, c.opts.Durable)
	if err != nil {
		cfg := jetstream.ConsumerConfig{
			Durable:    c.opts.Durable,
			AckPolicy:  jetstream.AckExplicitPolicy,
			AckWait:    defaultAckWait,
			MaxDeliver: c.opts.MaxDeliver,
		}
		if c.opts.Subject != "" {
			cfg.FilterSubject = c.opts.Subject
		}
		consumer, err = js.CreateConsumer(ctx, c.opts.Stream, cfg)
		if err != nil {
			conn.Close()
			return fmt.Errorf("queue: create consumer %s/%s: %w", c.opts.Stream, c.opts.Durable, err)
		}
	}

	c.conn = conn
	c.consumer = consumer
	c.logger.Info("queue consumer bound",
		"stream", c.opts.Stream,
		"durable", c.opts.Durable,
	)
	return nil
}

// Run fetches and processes messages until ctx is cancelled. Fetch
// failures back off exponentially; a successful fetch resets the delay.
func (c *Consumer) Run(ctx context.Context) error {
	if c.consumer == nil {
		return fmt.Errorf("%w: not connected", ErrConfig)
	}

	bo := transport.NewBackoff(c.opts.BackoffBase, c.opts.BackoffCap)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := c.consumer.Fetch(c.opts.BatchSize, jetstream.FetchMaxWait(c.opts.FetchWait))
		if err != nil {
			c.logger.Warn("queue fetch failed", "error", err, "retry_in", bo.Current())
			if serr := bo.Sleep(ctx); serr != nil {
				return serr
			}
			continue
		}

		for msg := range batch.Messages() {
			c.handle(ctx, msg)
		}
		if ferr := batch.Error(); ferr != nil && !errors.Is(ferr, nats.ErrTimeout) {
			c.logger.Debug("queue batch error", "error", ferr)
		}
		bo.Reset()
	}
}

// handle processes a single message and settles its acknowledgement.
func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	meta, _ := msg.Metadata()

	if err := c.opts.Handler(ctx, msg.Data()); err != nil {
		if meta != nil && int(meta.NumDelivered) >= c.opts.MaxDeliver {
			// Poison message: drop it rather than wedge the queue.
			c.logger.Error("queue message dropped after max deliveries",
				"subject", msg.Subject(),
				"deliveries", meta.NumDelivered,
				"error", err,
			)
			_ = msg.Ack()
			return
		}
		c.logger.Warn("queue message handling failed, requeueing",
			"subject", msg.Subject(),
			"error", err,
		)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

// Close drains the NATS connection. Safe to call when never connected.
func (c *Consumer) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
