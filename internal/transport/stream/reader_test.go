package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxace/ajax-sync-core/internal/transport"
)

// collector gathers dispatched payloads thread-safely.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(data))
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func newTestReader(t *testing.T, url string, col *collector, onCatchup func()) *Reader {
	t.Helper()
	r, err := New(Options{
		URL:         url,
		Tokens:      transport.StaticToken("test-token"),
		Handler:     col.handle,
		OnCatchup:   onCatchup,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestReaderDispatchesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "id: 1\ndata: {\"eventTag\":\"Arm\"}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"eventTag\":\"Disarm\"}\n\n")
		flusher.Flush()
		// Hold the connection open so the reader does not reconnect and
		// re-receive the same events.
		<-r.Context().Done()
	}))
	defer srv.Close()

	col := &collector{}
	r := newTestReader(t, srv.URL, col, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	got := col.all()
	if len(got) != 2 {
		t.Fatalf("dispatched %d events, want 2: %v", len(got), got)
	}
	if got[0] != `{"eventTag":"Arm"}` || got[1] != `{"eventTag":"Disarm"}` {
		t.Errorf("payloads = %v", got)
	}
	if id := r.LastEventID(); id != "1" {
		t.Errorf("LastEventID() = %q, want 1", id)
	}
}

func TestReaderReconnectFiresCatchupOnce(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := conns.Add(1)
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"conn\":%d}\n\n", n)
		flusher.Flush()
		// Returning closes the connection, forcing a reconnect.
	}))
	defer srv.Close()

	var catchups atomic.Int32
	col := &collector{}
	r := newTestReader(t, srv.URL, col, func() { catchups.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// Wait for at least two connections (one reconnect).
	deadline := time.After(2 * time.Second)
	for conns.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("no reconnect within deadline")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := catchups.Load(); got < 1 {
		t.Errorf("catch-up fired %d times, want at least 1", got)
	}
	if got, want := catchups.Load(), conns.Load()-1; got > want {
		t.Errorf("catch-up fired %d times for %d reconnects", got, want)
	}
}

func TestReaderResumesWithLastEventID(t *testing.T) {
	var lastID atomic.Value
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		if n > 1 {
			lastID.Store(r.Header.Get("Last-Event-ID"))
		}
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "id: ev-%d\ndata: {}\n\n", n)
		flusher.Flush()
	}))
	defer srv.Close()

	col := &collector{}
	r := newTestReader(t, srv.URL, col, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = r.Run(ctx); close(done) }()

	deadline := time.After(2 * time.Second)
	for conns.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("no reconnect within deadline")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if got, _ := lastID.Load().(string); got != "ev-1" {
		t.Errorf("Last-Event-ID on reconnect = %q, want ev-1", got)
	}
}

func TestReaderAuthFailureIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	col := &collector{}
	r := newTestReader(t, srv.URL, col, nil)

	err := r.Run(context.Background())
	if !errors.Is(err, transport.ErrAuthentication) {
		t.Errorf("Run() = %v, want ErrAuthentication", err)
	}
	if r.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected after terminal error", r.State())
	}
}

func TestReaderStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": hello\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	col := &collector{}
	r := newTestReader(t, srv.URL, col, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return promptly after cancel")
	}
}

func TestReaderMultilineData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"a\":\ndata: 1}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	col := &collector{}
	r := newTestReader(t, srv.URL, col, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	got := col.all()
	if len(got) == 0 || got[0] != "{\"a\":\n1}" {
		t.Errorf("payloads = %q", got)
	}
}
