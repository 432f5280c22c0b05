// Package synckit drives reconciliation runs: the Orchestrator keeps the
// local store in sync with a remote replica and the Importer merges import
// documents into the local store.
package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/remote"
	"github.com/c0deZ3R0/listsync/store"
)

const component = "synckit"

// ErrClosed is returned by an Orchestrator after Close.
var ErrClosed = fmt.Errorf("orchestrator is closed")

// State is the orchestrator's position in its state machine.
type State string

const (
	StateIdle             State = "idle"
	StateCheckingAccount  State = "checkingAccount"
	StateUnavailable      State = "unavailable"
	StateAvailable        State = "available"
	StateSyncing          State = "syncing"
	StateAwaitingDecision State = "awaitingDecision"
	StateError            State = "error"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerStart   Trigger = "start"
	TriggerPoll    Trigger = "poll"
	TriggerChange  Trigger = "change"
	TriggerResolve Trigger = "resolve"
)

// Result describes one finished run.
type Result struct {
	RunID   string  `json:"run_id"`
	Trigger Trigger `json:"trigger"`

	// State is the orchestrator state the run ended in.
	State State `json:"state"`

	// Plan is nil when the run failed before planning.
	Plan *reconcile.MergePlan `json:"plan,omitempty"`

	// Applied is nil unless the plan was executed.
	Applied *reconcile.Result `json:"applied,omitempty"`

	// Pending holds the conflicts awaiting a decision.
	Pending []reconcile.Conflict `json:"pending,omitempty"`

	// Woke reports whether the merged state was pushed to the remote.
	Woke bool `json:"woke"`

	// Attempts counts remote calls made for the replica, retries included.
	Attempts int `json:"attempts"`

	Cancelled bool          `json:"cancelled"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State        State
	Running      bool
	Polling      bool
	Backgrounded bool
	Reordering   bool
	LastResult   *Result
	LastError    error
	LastSync     time.Time

	// PendingPlan is the plan awaiting a decision, if any.
	PendingPlan *reconcile.MergePlan
}

// pendingRun is a sync run parked until the user decides.
type pendingRun struct {
	replica *remote.Replica
	plan    *reconcile.MergePlan
}

// Orchestrator runs sync reconciliation between a local store and a remote
// service. At most one run is active at a time; triggers that arrive during a
// run are dropped, not queued.
type Orchestrator struct {
	store    store.Store
	remote   remote.Service
	planner  *reconcile.Planner
	executor *reconcile.Executor
	strategy reconcile.Strategy
	options  Options
	logger   *slog.Logger
	notify   observers

	nudge chan struct{}

	mu           sync.RWMutex
	state        State
	running      bool
	reordering   bool
	backgrounded bool
	closed       bool
	pending      *pendingRun
	lastResult   *Result
	lastErr      error
	lastSync     time.Time
	runStart     time.Time
	runEnd       time.Time
	pollStop     chan struct{}
	pollDone     chan struct{}
	unsubscribe  func()
}

// New creates an Orchestrator. Both collaborators are owned by the caller
// and are not closed by Close.
func New(s store.Store, r remote.Service, opts ...Option) (*Orchestrator, error) {
	if s == nil || r == nil {
		return nil, &errors.SyncError{
			Op:        errors.OpConfig,
			Component: component,
			Kind:      errors.KindInvalid,
			Err:       fmt.Errorf("store and remote service are required"),
		}
	}
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:    s,
		remote:   r,
		strategy: options.Strategy,
		options:  options,
		logger:   logging.OrDefault(options.Logger, component),
		nudge:    make(chan struct{}, 1),
		state:    StateIdle,
	}
	if o.strategy == nil {
		o.strategy = reconcile.LastWriteWins{}
	}
	o.notify = observers{list: options.Observers, logger: o.logger}
	o.planner = reconcile.NewPlanner(reconcile.WithPlannerLogger(o.logger))
	o.executor = reconcile.NewExecutor(s,
		reconcile.WithExecutorLogger(o.logger),
		reconcile.WithProgress(o.notify.progress),
	)
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a point-in-time view of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{
		State:        o.state,
		Running:      o.running,
		Polling:      o.pollStop != nil,
		Backgrounded: o.backgrounded,
		Reordering:   o.reordering,
		LastResult:   o.lastResult,
		LastError:    o.lastErr,
		LastSync:     o.lastSync,
	}
	if o.pending != nil {
		st.PendingPlan = o.pending.plan
	}
	return st
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if from == to {
		return
	}
	o.logger.Debug("sync state", slog.String("from", string(from)), slog.String("to", string(to)))
	o.options.Metrics.RecordState(string(to))
	o.notify.stateChange(from, to)
}

// acquire claims the single run slot.
func (o *Orchestrator) acquire(op errors.Operation) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return errors.NewWithComponent(op, component, ErrClosed)
	case o.running:
		return errors.NewWithComponent(op, component, errors.ErrSyncInProgress)
	case o.reordering:
		return errors.NewWithComponent(op, component, errors.ErrReorderInProgress)
	case op == errors.OpResolve && o.pending == nil:
		return &errors.SyncError{Op: op, Component: component, Kind: errors.KindInvalid, Err: errors.ErrNoPendingDecision}
	case op == errors.OpSync && o.pending != nil:
		return errors.NewConflictPending(op, len(o.pending.plan.Pending()))
	}
	o.running = true
	o.runStart = time.Now()
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.runEnd = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.options.Timeout > 0 {
		return context.WithTimeout(ctx, o.options.Timeout)
	}
	return context.WithCancel(ctx)
}

// SyncNow runs one sync immediately. It fails with ErrSyncInProgress when a
// run is active, ErrReorderInProgress while the user reorders, and with a
// ConflictPending error while a previous run awaits a decision.
//
// A run that produces conflicts needing the user ends in
// StateAwaitingDecision with a nil error; the conflicts are in
// Result.Pending and Resolve continues the run.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Result, error) {
	return o.run(ctx, TriggerManual)
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger) (*Result, error) {
	if err := o.acquire(errors.OpSync); err != nil {
		return nil, err
	}
	defer o.release()

	res := &Result{RunID: uuid.NewString(), Trigger: trigger, StartTime: time.Now()}
	logger := o.logger.With(slog.String("run_id", res.RunID), slog.String("trigger", string(trigger)))
	logger.Info("sync started")

	err := o.sync(ctx, res, logger)
	return o.finish(errors.OpSync, res, err, logger)
}

func (o *Orchestrator) sync(ctx context.Context, res *Result, logger *slog.Logger) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	o.setState(StateCheckingAccount)
	var status remote.AccountStatus
	_, err := withRetry(ctx, o.options.Retry, logger, func() error {
		var err error
		status, err = o.remote.AccountStatus(ctx)
		return classify(ctx, errors.OpAccount, err)
	})
	if err != nil {
		return err
	}
	if !status.Available() {
		o.setState(StateUnavailable)
		return (&errors.SyncError{
			Op:        errors.OpAccount,
			Component: component,
			Kind:      errors.KindRemote,
			Err:       fmt.Errorf("%w: %s", errors.ErrAccountUnavailable, status),
		}).WithMetadata("status", string(status))
	}
	o.setState(StateAvailable)
	o.setState(StateSyncing)

	var replica *remote.Replica
	res.Attempts, err = withRetry(ctx, o.options.Retry, logger, func() error {
		var err error
		replica, err = o.remote.FetchSnapshot(ctx)
		return classify(ctx, errors.OpFetch, err)
	})
	if err != nil {
		return err
	}
	logger.Debug("replica fetched",
		slog.String("revision", replica.Revision),
		slog.Bool("has_baseline", replica.Baseline != nil))

	local, err := o.store.Snapshot(ctx)
	if err != nil {
		return storeErr(ctx, errors.OpLoad, err)
	}

	plan, err := o.planner.Plan(ctx, reconcile.Request{
		Mode:     reconcile.ModeSync,
		Local:    local,
		Incoming: replica.Snapshot,
		Baseline: replica.Baseline,
		Strategy: o.strategy,
	})
	if err != nil {
		return planErr(ctx, err)
	}
	res.Plan = plan
	o.recordConflicts(plan)
	o.notify.planReady(plan)

	if plan.NeedsUserInput() {
		res.Pending = plan.Pending()
		o.mu.Lock()
		o.pending = &pendingRun{replica: replica, plan: plan}
		o.mu.Unlock()
		o.setState(StateAwaitingDecision)
		logger.Info("sync awaiting decision", slog.Int("conflict_count", len(res.Pending)))
		return nil
	}

	return o.apply(ctx, res, replica, plan, logger)
}

// apply executes plan and pushes the merged state to the remote.
func (o *Orchestrator) apply(ctx context.Context, res *Result, replica *remote.Replica, plan *reconcile.MergePlan, logger *slog.Logger) error {
	applied, err := o.executor.Execute(ctx, plan)
	if err != nil {
		return err
	}
	res.Applied = applied
	for kind, n := range applied.ByKind {
		o.options.Metrics.RecordOperations(string(kind), n)
	}

	merged, err := o.store.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("could not read merged state, remote not woken", slog.Any("error", err))
		return nil
	}
	o.wake(ctx, res, replica, merged, logger)
	return nil
}

// wake pushes merged to the remote unless the remote already holds it as
// both its state and this device's baseline. Failures are logged; the next
// run pushes again.
func (o *Orchestrator) wake(ctx context.Context, res *Result, replica *remote.Replica, merged *model.Snapshot, logger *slog.Logger) {
	if replica.Baseline != nil && replica.Snapshot.Equal(merged) && replica.Baseline.Equal(merged) {
		return
	}
	if err := o.remote.Wake(ctx, merged); err != nil {
		err = classify(ctx, errors.OpWake, err)
		logger.Warn("wake failed", slog.Any("error", err))
		o.options.Metrics.RecordSyncErrors(string(errors.OpWake), string(errors.KindOf(err)))
		return
	}
	res.Woke = true
}

// Resolve continues a run parked in StateAwaitingDecision. Confirm applies
// the plan with undecided conflicts going to the configured strategy, or to
// LastWriteWins when that strategy leaves them to the user. Decide
// applies per-conflict decisions, and Cancel drops the run and returns a
// cancelled error. The local store is read again so edits made while the
// run was parked are not lost.
func (o *Orchestrator) Resolve(ctx context.Context, resp reconcile.Response) (*Result, error) {
	switch resp.Action {
	case reconcile.ActionConfirm, reconcile.ActionDecide, reconcile.ActionCancel:
	default:
		return nil, &errors.SyncError{
			Op:        errors.OpResolve,
			Component: component,
			Kind:      errors.KindInvalid,
			Err:       fmt.Errorf("unknown action %q", resp.Action),
		}
	}
	if err := o.acquire(errors.OpResolve); err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	parked := o.pending
	o.pending = nil
	o.mu.Unlock()

	res := &Result{RunID: uuid.NewString(), Trigger: TriggerResolve, StartTime: time.Now(), Plan: parked.plan}
	logger := o.logger.With(slog.String("run_id", res.RunID), slog.String("action", string(resp.Action)))

	err := o.resolve(ctx, res, parked, resp, logger)
	return o.finish(errors.OpResolve, res, err, logger)
}

func (o *Orchestrator) resolve(ctx context.Context, res *Result, parked *pendingRun, resp reconcile.Response, logger *slog.Logger) error {
	if resp.Action == reconcile.ActionCancel {
		logger.Info("pending sync cancelled")
		return errors.NewCancelled(errors.OpResolve, nil)
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	o.setState(StateSyncing)

	local, err := o.store.Snapshot(ctx)
	if err != nil {
		return storeErr(ctx, errors.OpLoad, err)
	}
	plan, err := o.planner.Resume(ctx, reconcile.Request{
		Mode:     reconcile.ModeSync,
		Local:    local,
		Incoming: parked.replica.Snapshot,
		Baseline: parked.replica.Baseline,
		Strategy: o.strategy,
	}, carryDecisions(parked.plan, resp.Decisions))
	if err != nil {
		return planErr(ctx, err)
	}
	res.Plan = plan
	o.notify.planReady(plan)
	return o.apply(ctx, res, parked.replica, plan, logger)
}

// finish settles state, metrics and observers for a run.
func (o *Orchestrator) finish(op errors.Operation, res *Result, err error, logger *slog.Logger) (*Result, error) {
	res.Duration = time.Since(res.StartTime)
	res.Err = err
	o.options.Metrics.RecordSyncDuration(string(op), res.Duration)

	var next State
	switch {
	case err == nil && res.Pending != nil:
		next = StateAwaitingDecision
	case err == nil:
		next = StateIdle
	case errors.IsKind(err, errors.KindCancelled):
		res.Cancelled = true
		next = StateIdle
	case errors.Is(err, errors.ErrAccountUnavailable):
		next = StateUnavailable
	case errors.IsRetryable(err):
		next = StateError
	default:
		next = StateIdle
	}

	o.mu.Lock()
	o.lastResult = res
	switch {
	case err == nil:
		o.lastErr = nil
		if res.Pending == nil {
			o.lastSync = time.Now()
		}
	case !res.Cancelled:
		o.lastErr = err
	}
	o.mu.Unlock()
	o.setState(next)
	res.State = next

	switch {
	case err == nil:
		logger.Info("sync finished",
			slog.String("state", string(next)),
			slog.Duration("duration", res.Duration),
			slog.Bool("woke", res.Woke))
	case res.Cancelled:
		logger.Info("sync cancelled", slog.Duration("duration", res.Duration))
	default:
		o.options.Metrics.RecordSyncErrors(string(op), string(errors.KindOf(err)))
		(&logging.Logger{Logger: logger}).LogError(context.Background(), err, "sync failed",
			slog.String("run_id", res.RunID),
			slog.String("state", string(next)))
	}

	o.notify.completed(res)
	return res, err
}

func (o *Orchestrator) recordConflicts(plan *reconcile.MergePlan) {
	byKind := make(map[reconcile.ConflictKind]int)
	for _, rc := range plan.Conflicts {
		byKind[rc.Conflict.Kind]++
	}
	for kind, n := range byKind {
		o.options.Metrics.RecordConflicts(string(kind), n)
	}
}

// classify maps a remote failure onto the error taxonomy. Failures caused
// by ctx are cancellations.
func classify(ctx context.Context, op errors.Operation, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.NewCancelled(op, err)
	}
	return errors.Classify(op, err)
}

func storeErr(ctx context.Context, op errors.Operation, err error) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(op, err)
	}
	return errors.NewStorageError(op, err)
}

func planErr(ctx context.Context, err error) error {
	var syncErr *errors.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	if ctx.Err() != nil {
		return errors.NewCancelled(errors.OpPlan, err)
	}
	return errors.NewWithComponent(errors.OpPlan, "reconcile", err)
}
