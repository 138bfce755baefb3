package engine

import (
	"context"
	"errors"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/event"
	"github.com/foxace/ajax-sync-core/internal/journal"
	"github.com/foxace/ajax-sync-core/internal/scheduler"
)

// LightPoll fetches hub and device state via REST and applies it.
//
// Implements scheduler.Syncer. The cloud's pacing hint, when present, is
// passed back so the scheduler can adjust the cadence.
func (e *Engine) LightPoll(ctx context.Context, hubID string, bypass bool) (scheduler.PollResult, error) {
	payload, hints, err := e.poller.LightPoll(ctx, hubID, bypass)
	if err != nil {
		return scheduler.PollResult{}, err
	}

	norm, err := e.normalizer.LightPoll(hubID, payload)
	if err != nil {
		return scheduler.PollResult{}, err
	}

	e.ingest(norm)
	e.markFresh(hubID)
	e.recordHealth(hubID)

	return scheduler.PollResult{SuggestedInterval: hints.SuggestedInterval}, nil
}

// FullRefresh fetches the hub's complete metadata via REST and applies it.
//
// Implements scheduler.Syncer.
func (e *Engine) FullRefresh(ctx context.Context, hubID string) error {
	payload, _, err := e.poller.FullMetadata(ctx, hubID)
	if err != nil {
		return err
	}

	norm, err := e.normalizer.Metadata(hubID, payload)
	if err != nil {
		return err
	}

	e.ingest(norm)
	e.markFresh(hubID)
	e.recordHealth(hubID)
	return nil
}

// Armed reports whether the hub is in an armed mode.
//
// Implements scheduler.Syncer.
func (e *Engine) Armed(hubID string) bool {
	snap, err := e.store.Snapshot(hubID)
	if err != nil {
		return false
	}
	return snap.ArmedMode.IsArmed()
}

// HandleStream processes one SSE push payload. Wire it as the stream
// reader's Handler.
func (e *Engine) HandleStream(data []byte) {
	norm, err := e.normalizer.Envelope(ajax.SourceStream, data)
	if err != nil {
		e.logger.Warn("stream payload dropped", "error", err)
		return
	}
	e.ingest(norm)
}

// HandleCatchup forces a metadata refresh on every hub after a stream
// reconnect, since events may have been dropped during the outage. Wire it
// as the stream reader's OnCatchup.
func (e *Engine) HandleCatchup() {
	e.logger.Info("stream reconnected, scheduling catch-up refresh")
	e.sched.ForceRefreshAll()
}

// HandleQueue processes one cloud-queue message. Wire it as the queue
// consumer's Handler.
//
// Malformed payloads return nil so the consumer acknowledges and discards
// them; redelivery cannot fix a parse failure.
func (e *Engine) HandleQueue(ctx context.Context, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	norm, err := e.normalizer.Envelope(ajax.SourceQueue, payload)
	if err != nil {
		if errors.Is(err, event.ErrNormalization) {
			e.logger.Warn("queue payload dropped", "error", err)
			return nil
		}
		return err
	}

	e.ingest(norm)
	return nil
}

// ingest runs a normalized batch through dedup, the store, and the
// listeners. Safe for concurrent use from all transports.
func (e *Engine) ingest(norm *event.Normalized) {
	// A push notification carrying user attribution applies to the mode
	// transitions in the same batch.
	var batchUser string
	for _, n := range norm.Notifications {
		if n.UserName != "" {
			batchUser = n.UserName
			break
		}
	}

	for _, ev := range norm.Updates {
		if !e.dedup.Admit(ev) {
			e.logger.Debug("duplicate suppressed",
				"entity_id", ev.EntityID,
				"source", ev.Source,
			)
			continue
		}

		res, err := e.store.Apply(ev)
		if err != nil {
			e.logger.Warn("update rejected",
				"entity_id", ev.EntityID,
				"error", err,
			)
			continue
		}
		if res.Protected {
			e.logger.Debug("poll update shadowed by push window", "hub_id", ev.HubID)
			continue
		}
		if !res.Changed {
			continue
		}

		e.debounce.Observe(ev.HubID, ev.EntityID)

		// A push-sourced change means the cloud cache may serve the next
		// poll a pre-change view; bypass it once.
		if ev.Source != ajax.SourcePoll {
			e.sched.MarkDirty(ev.HubID)
		}

		e.noteModeTransition(ev, batchUser)
	}

	// Notifications run through the same dedup cache under their own key:
	// an occurrence reported by both the stream and the queue fans out once.
	for i := range norm.Notifications {
		n := &norm.Notifications[i]
		if !e.dedup.AdmitKey(n.DedupKey()) {
			e.logger.Debug("duplicate notification suppressed",
				"hub_id", n.HubID,
				"tag", n.Tag,
			)
			continue
		}
		e.deliverNotification(n)
	}
}

// noteModeTransition journals hub armed-mode changes.
func (e *Engine) noteModeTransition(ev ajax.UpdateEvent, userName string) {
	if ev.EntityType != ajax.EntityHub || ev.Kind != ajax.KindState {
		return
	}
	mode, ok := ev.Fields.String(ajax.FieldArmedMode)
	if !ok {
		return
	}

	e.modeMu.Lock()
	prev := e.lastModes[ev.HubID]
	e.lastModes[ev.HubID] = ajax.ArmedMode(mode)
	e.modeMu.Unlock()

	if prev == ajax.ArmedMode(mode) {
		return
	}

	transition := journal.ModeTransition{
		HubID:      ev.HubID,
		From:       prev,
		To:         ajax.ArmedMode(mode),
		Source:     ev.Source,
		UserName:   userName,
		OccurredAt: ev.OccurredAt,
	}
	e.journalAsync(func(ctx context.Context) {
		if err := e.journal.RecordModeTransition(ctx, &transition); err != nil {
			e.logger.Warn("journal transition write failed", "error", err)
		}
	})
}

// deliverNotification fans one notification out to the journal, the bus,
// and connected WebSocket clients.
func (e *Engine) deliverNotification(n *ajax.NotificationEvent) {
	stored := *n
	e.journalAsync(func(ctx context.Context) {
		if err := e.journal.RecordNotification(ctx, &stored); err != nil {
			e.logger.Warn("journal notification write failed", "error", err)
		}
	})

	if e.publisher != nil {
		if err := e.publisher.PublishNotification(n); err != nil {
			e.logger.Warn("bus notification publish failed", "error", err)
		}
	}
	if e.broadcast != nil {
		e.broadcast.Broadcast(channelNotifications, *n)
	}
	e.listeners.fanOutNotification(*n)
}

// fireChangeSet is the debouncer's flush callback: one coalesced
// notification cycle covering every entity changed since the last cycle.
func (e *Engine) fireChangeSet(cs ajax.ChangeSet) {
	e.logger.Debug("change cycle fired",
		"hubs", len(cs.HubIDs),
		"entities", len(cs.EntityIDs),
	)

	if e.publisher != nil {
		for _, hubID := range cs.HubIDs {
			snap, err := e.store.Snapshot(hubID)
			if err != nil {
				continue
			}
			if err := e.publisher.PublishHubState(snap); err != nil {
				e.logger.Warn("bus snapshot publish failed", "hub_id", hubID, "error", err)
			}
		}
		if err := e.publisher.PublishChangeSet(cs); err != nil {
			e.logger.Warn("bus change set publish failed", "error", err)
		}
	}

	if e.broadcast != nil {
		e.broadcast.Broadcast(channelState, cs)
	}
	e.listeners.fanOutChangeSet(cs)
}

// markFresh clears the stale flag after any successful poll, including
// polls that changed nothing: contact with the cloud proves freshness.
func (e *Engine) markFresh(hubID string) {
	if e.store.SetStale(hubID, false) {
		e.logger.Info("hub data fresh again", "hub_id", hubID)
	}
}

// recordHealth samples the hub's diagnostics into the telemetry sink.
func (e *Engine) recordHealth(hubID string) {
	if e.health == nil {
		return
	}
	snap, err := e.store.Snapshot(hubID)
	if err != nil {
		return
	}
	e.health.RecordSnapshot(snap)
}

// staleLoop flags hubs whose last applied update is older than the
// staleness deadline. Entities are never removed on staleness; consumers
// see a last-known-good snapshot with the flag set.
func (e *Engine) staleLoop(ctx context.Context) {
	deadline := e.cfg.Sync.Stale()
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, hubID := range e.store.HubIDs() {
				last, ok := e.store.LastApplied(hubID)
				if !ok || time.Since(last) < deadline {
					continue
				}
				if e.store.SetStale(hubID, true) {
					e.logger.Warn("hub data stale, all transports silent",
						"hub_id", hubID,
						"last_applied", last,
					)
				}
			}
		}
	}
}

// journalAsync enqueues a journal write. The journal stays off the hot
// path: when the buffer is full the entry is dropped with a warning.
func (e *Engine) journalAsync(op func(ctx context.Context)) {
	if e.journal == nil {
		return
	}
	select {
	case e.journalOps <- op:
	default:
		e.logger.Warn("journal queue full, entry dropped")
	}
}

// journalLoop executes queued journal writes until the context ends, then
// drains whatever is already buffered.
func (e *Engine) journalLoop(ctx context.Context) {
	run := func(op func(ctx context.Context)) {
		opCtx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		op(opCtx)
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case op := <-e.journalOps:
					run(op)
				default:
					return
				}
			}
		case op := <-e.journalOps:
			run(op)
		}
	}
}
