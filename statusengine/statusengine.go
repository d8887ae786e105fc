// Package statusengine advances every election through its lifecycle
// by wall clock: Open -> InProgress at start_time, InProgress ->
// Finished at end_time. Cancelled is absorbing.
//
// Grounded on the teacher's service.ProcessMonitor: a ticker-driven
// goroutine bounded by a context.CancelFunc, started and stopped
// exactly once.
package statusengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/types"
)

// TickInterval is how often the engine re-evaluates every election's
// status against the wall clock.
const TickInterval = 30 * time.Second

// Announcer is implemented by the Publisher; the Status Engine only
// needs to request re-announcement on a status change.
type Announcer interface {
	PublishAnnouncement(ctx context.Context, electionID string) error
}

// Engine is C4: the periodic status-transition sweep.
type Engine struct {
	registry *registry.Registry
	store    *store.Store
	announce Announcer
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Status Engine. interval <= 0 selects TickInterval.
func New(reg *registry.Registry, st *store.Store, announce Announcer, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = TickInterval
	}
	return &Engine{registry: reg, store: st, announce: announce, interval: interval}
}

// Start begins the ticker loop in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("status engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(runCtx)
	log.Infow("status engine started", "interval", e.interval.String())
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(ctx, now)
		}
	}
}

// tick implements 4.4: snapshot ids, then per-id, compare now against
// start/end and mutate on mismatch. A missed tick is made up by the
// next one since transitions are a pure function of (now, start_time,
// end_time, status), never of history beyond Cancelled.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	for _, id := range e.registry.SnapshotIDs() {
		if err := e.tickOne(ctx, id, now); err != nil {
			log.Warnw("status tick failed, continuing", "electionId", id, "error", err.Error())
		}
	}
}

func (e *Engine) tickOne(ctx context.Context, id string, now time.Time) error {
	snap, err := e.registry.Snapshot(id)
	if err != nil {
		return err
	}
	target := NextStatus(now, snap.StartTime, snap.EndTime, snap.Status)
	if target == snap.Status {
		return nil
	}

	if err := e.store.UpdateStatus(id, target, now); err != nil {
		return fmt.Errorf("persist status: %w", err)
	}
	if err := e.registry.WithElection(id, func(el *types.Election) error {
		el.Status = target
		el.UpdatedAt = now
		return nil
	}); err != nil {
		return fmt.Errorf("update in-memory status: %w", err)
	}

	log.Infow("election status changed", "electionId", id, "status", string(target))
	if e.announce != nil {
		if err := e.announce.PublishAnnouncement(ctx, id); err != nil {
			log.Warnw("re-announce failed", "electionId", id, "error", err.Error())
		}
	}
	return nil
}

// NextStatus is the pure status-transition function: Open becomes
// InProgress at start_time, InProgress becomes Finished at end_time,
// Cancelled never changes.
func NextStatus(now, start, end time.Time, current types.Status) types.Status {
	switch current {
	case types.StatusCancelled, types.StatusFinished:
		return current
	case types.StatusInProgress:
		if !now.Before(end) {
			return types.StatusFinished
		}
		return current
	case types.StatusOpen:
		if !now.Before(end) {
			return types.StatusFinished
		}
		if !now.Before(start) {
			return types.StatusInProgress
		}
		return current
	default:
		return current
	}
}
