package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/store"
)

// Start begins background syncing: one run right away, then one per poll
// interval and one per nudge. Polling is the source of truth; nudges only
// shorten the wait. Ticks are skipped while backgrounded, while the user
// reorders and while a decision is pending.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("starting background sync", slog.Duration("interval", o.options.PollInterval))

	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.NewWithComponent(errors.OpSync, component, ErrClosed)
	}
	if o.pollStop != nil {
		return errors.NewWithComponent(errors.OpSync, component, fmt.Errorf("background sync is already running"))
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	o.pollStop = stop
	o.pollDone = done
	o.unsubscribe = o.store.Subscribe(o.onStoreChange)

	go o.loop(ctx, stop, done)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, stop, done chan struct{}) {
	ticker := time.NewTicker(o.options.PollInterval)
	defer func() {
		ticker.Stop()
		close(done)
		o.logger.Info("background sync stopped")
	}()

	o.tick(ctx, TriggerStart)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			o.tick(ctx, TriggerPoll)
		case <-o.nudge:
			o.tick(ctx, TriggerChange)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, trigger Trigger) {
	if reason := o.pausedBy(); reason != "" {
		o.logger.Debug("sync tick skipped", slog.String("trigger", string(trigger)), slog.String("reason", reason))
		return
	}
	// Failures are logged and recorded by the run itself.
	_, _ = o.run(ctx, trigger)

	// Triggers raised during the run are dropped.
	select {
	case <-o.nudge:
	default:
	}
}

func (o *Orchestrator) pausedBy() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	switch {
	case o.backgrounded:
		return "backgrounded"
	case o.reordering:
		return "reordering"
	case o.pending != nil:
		return "awaiting decision"
	case o.running:
		return "run in progress"
	}
	return ""
}

// Stop ends background syncing and waits for an active run to finish.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	stop, done, unsubscribe := o.pollStop, o.pollDone, o.unsubscribe
	o.pollStop, o.pollDone, o.unsubscribe = nil, nil, nil
	o.mu.Unlock()

	if stop == nil {
		return errors.NewWithComponent(errors.OpSync, component, fmt.Errorf("background sync is not running"))
	}
	unsubscribe()
	close(stop)
	<-done
	return nil
}

// Close stops background syncing and refuses further runs. It does not
// close the store or the remote service.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	polling := o.pollStop != nil
	o.mu.Unlock()

	if polling {
		return o.Stop()
	}
	return nil
}

// RemoteChanged signals that the remote may hold new state, for example
// after a push notification. It is dropped while a run is active.
func (o *Orchestrator) RemoteChanged() {
	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	if running {
		o.logger.Debug("change signal dropped, run in progress")
		return
	}
	select {
	case o.nudge <- struct{}{}:
	default:
	}
}

// onStoreChange nudges a run for commits that did not come from our own
// runs, so local edits reach the remote without waiting for the next poll.
func (o *Orchestrator) onStoreChange(ev store.ChangeEvent) {
	o.mu.RLock()
	ours := o.running || (!ev.At.Before(o.runStart) && !ev.At.After(o.runEnd))
	o.mu.RUnlock()
	if ours {
		return
	}
	o.RemoteChanged()
}

// SetBackgrounded pauses polling while the application is in the
// background. Returning to the foreground nudges a run.
func (o *Orchestrator) SetBackgrounded(backgrounded bool) {
	o.mu.Lock()
	was := o.backgrounded
	o.backgrounded = backgrounded
	o.mu.Unlock()

	o.logger.Debug("background state", slog.Bool("backgrounded", backgrounded))
	if was && !backgrounded {
		o.RemoteChanged()
	}
}

// BeginReorder marks the start of a user reorder. It fails with
// ErrSyncInProgress while a run is active so the user never sees a
// transient order. Runs are refused until EndReorder.
func (o *Orchestrator) BeginReorder() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.NewWithComponent(errors.OpSync, component, errors.ErrSyncInProgress)
	}
	o.reordering = true
	return nil
}

// EndReorder ends a reorder and nudges a run to push the new order.
func (o *Orchestrator) EndReorder() {
	o.mu.Lock()
	was := o.reordering
	o.reordering = false
	o.mu.Unlock()
	if was {
		o.RemoteChanged()
	}
}
