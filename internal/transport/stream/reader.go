package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foxace/ajax-sync-core/internal/transport"
)

// State is the reader's connection state.
type State string

// Connection states.
const (
	StateDisconnected   State = "disconnected"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
	StateCatchupPending State = "catchup_pending"
)

// Logger is the minimal logging interface the reader needs.
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

// Options configures a Reader.
type Options struct {
	// URL is the SSE endpoint.
	URL string

	// Tokens supplies session tokens.
	Tokens transport.TokenSource

	// Handler receives each pushed message payload as it arrives. Handler
	// errors are the normalizer's concern (logged there, message dropped);
	// the reader only delivers.
	Handler func(data []byte)

	// OnCatchup fires once after every successful reconnect, because the
	// disconnect window may have dropped events. The first connect does
	// not fire it; startup performs its own refresh.
	OnCatchup func()

	// BackoffBase/BackoffCap bound the reconnect delays.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// HTTPClient overrides the default client, mainly for tests. It must
	// not set an overall timeout; the connection is long-lived.
	HTTPClient *http.Client

	Logger Logger
}

// Reader holds one long-lived push connection and reconnects with backoff.
//
// Thread Safety:
//   - Run owns the connection; call it from exactly one goroutine.
//   - State and LastEventID are safe to call from any goroutine.
type Reader struct {
	url       string
	tokens    transport.TokenSource
	handler   func(data []byte)
	onCatchup func()
	backoff   *transport.Backoff
	client    *http.Client
	logger    Logger

	mu          sync.RWMutex
	state       State
	lastEventID string
}

const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffCap  = 30 * time.Second
)

// New creates a stream reader.
func New(opts Options) (*Reader, error) {
	if opts.URL == "" {
		return nil, errors.New("stream: URL is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("stream: token source is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("stream: handler is required")
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{} // no overall timeout: long-lived stream
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Reader{
		url:       opts.URL,
		tokens:    opts.Tokens,
		handler:   opts.Handler,
		onCatchup: opts.OnCatchup,
		backoff:   transport.NewBackoff(opts.BackoffBase, opts.BackoffCap),
		client:    opts.HTTPClient,
		logger:    opts.Logger,
		state:     StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (r *Reader) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reader) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// LastEventID returns the id of the last dispatched event, used as the
// resume hint on reconnect.
func (r *Reader) LastEventID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventID
}

func (r *Reader) setLastEventID(id string) {
	r.mu.Lock()
	r.lastEventID = id
	r.mu.Unlock()
}

// Run connects and reads until the context is cancelled. Transient
// disconnects reconnect with backoff internally; only authentication
// failures and cancellation end the loop.
//
// Returns:
//   - error: ctx.Err() on shutdown, or ErrAuthentication if the cloud
//     rejected the session
func (r *Reader) Run(ctx context.Context) error {
	defer r.setState(StateDisconnected)

	connects := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := r.connectAndRead(ctx, connects > 0)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, transport.ErrAuthentication):
			r.tokens.Invalidate()
			r.logger.Error("stream authentication rejected", "error", err)
			return err
		}
		connects++

		r.setState(StateReconnecting)
		r.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"delay", r.backoff.Current(),
		)
		if err := r.backoff.Sleep(ctx); err != nil {
			return err
		}
	}
}

// connectAndRead opens the SSE connection and dispatches events until the
// connection drops. reconnected marks this as a reconnect attempt, which
// schedules the catch-up signal after the connection is established.
func (r *Reader) connectAndRead(ctx context.Context, reconnected bool) error {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("stream: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("stream: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := r.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return transport.Classify(0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return transport.Classify(resp.StatusCode, nil)
	}

	if reconnected {
		r.setState(StateCatchupPending)
		if r.onCatchup != nil {
			r.onCatchup()
		}
	}
	r.setState(StateConnected)
	r.backoff.Reset()
	r.logger.Info("stream connected", "reconnect", reconnected)

	return r.readEvents(resp)
}

// readEvents parses the SSE wire format: "id:", "event:", and "data:"
// lines accumulate into one event dispatched at each blank line. Comment
// lines (leading colon) are keep-alives and are skipped.
func (r *Reader) readEvents(resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	var eventID string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				if eventID != "" {
					r.setLastEventID(eventID)
				}
				r.handler([]byte(data.String()))
				data.Reset()
				eventID = ""
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		default:
			// "event:" and unknown fields are irrelevant: the payload
			// carries its own event tag.
		}
	}

	if err := scanner.Err(); err != nil {
		return transport.Classify(0, err)
	}
	return fmt.Errorf("%w: stream closed by server", transport.ErrTransient)
}
