package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/importdoc"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/store"
)

// Importer merges import documents into the local store. There is no
// baseline on this path, so every differing field is a conflict.
type Importer struct {
	store    store.Store
	planner  *reconcile.Planner
	executor *reconcile.Executor
	strategy reconcile.Strategy
	options  Options
	logger   *slog.Logger
	notify   observers
}

// NewImporter creates an Importer writing to s. Without WithStrategy every
// conflict waits for a decision.
func NewImporter(s store.Store, opts ...Option) (*Importer, error) {
	if s == nil {
		return nil, &errors.SyncError{
			Op:        errors.OpConfig,
			Component: component,
			Kind:      errors.KindInvalid,
			Err:       fmt.Errorf("store is required"),
		}
	}
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	im := &Importer{
		store:    s,
		strategy: options.Strategy,
		options:  options,
		logger:   logging.OrDefault(options.Logger, "importer"),
	}
	if im.strategy == nil {
		im.strategy = &reconcile.UserChoice{}
	}
	im.notify = observers{list: options.Observers, logger: im.logger}
	im.planner = reconcile.NewPlanner(reconcile.WithPlannerLogger(im.logger))
	im.executor = reconcile.NewExecutor(s,
		reconcile.WithExecutorLogger(im.logger),
		reconcile.WithProgress(im.notify.progress),
	)
	return im, nil
}

// ImportSession is a planned import waiting for the user's answer.
type ImportSession struct {
	im       *Importer
	incoming *model.Snapshot
	mode     reconcile.MergeMode
	started  time.Time
	done     bool

	// Plan is the current plan. It is replaced when Respond re-plans.
	Plan *reconcile.MergePlan
}

// Preview summarises the planned import for the user.
func (s *ImportSession) Preview() reconcile.MergePreview {
	return s.Plan.Preview()
}

// PlanDocument converts doc and plans its import.
func (im *Importer) PlanDocument(ctx context.Context, doc *importdoc.Document, mode reconcile.MergeMode) (*ImportSession, error) {
	incoming, err := doc.ToSnapshot(time.Now().UTC())
	if err != nil {
		im.options.Metrics.RecordSyncErrors(string(errors.OpImport), string(errors.KindOf(err)))
		return nil, err
	}
	return im.Plan(ctx, incoming, mode)
}

// Plan validates incoming and plans merging it into the local store. The
// store is not touched. Validation problems are returned before any plan is
// made.
func (im *Importer) Plan(ctx context.Context, incoming *model.Snapshot, mode reconcile.MergeMode) (*ImportSession, error) {
	s := &ImportSession{im: im, incoming: incoming.Clone(), mode: mode, started: time.Now()}
	plan, err := im.plan(ctx, s, nil)
	if err != nil {
		im.options.Metrics.RecordSyncErrors(string(errors.OpImport), string(errors.KindOf(err)))
		return nil, err
	}
	s.Plan = plan

	byKind := make(map[reconcile.ConflictKind]int)
	for _, rc := range plan.Conflicts {
		byKind[rc.Conflict.Kind]++
	}
	for kind, n := range byKind {
		im.options.Metrics.RecordConflicts(string(kind), n)
	}

	im.logger.Info("import planned",
		slog.String("merge_mode", string(mode)),
		slog.Int("operations", len(plan.Operations)),
		slog.Int("conflict_count", len(plan.Conflicts)),
		slog.Bool("needs_decision", plan.NeedsUserInput()))
	return s, nil
}

// plan reads the local store and plans against it. With decisions set the
// plan resumes from a user answer.
func (im *Importer) plan(ctx context.Context, s *ImportSession, decisions map[string]reconcile.Side) (*reconcile.MergePlan, error) {
	local, err := im.store.Snapshot(ctx)
	if err != nil {
		return nil, storeErr(ctx, errors.OpImport, err)
	}
	req := reconcile.Request{
		Mode:      reconcile.ModeImport,
		Local:     local,
		Incoming:  s.incoming,
		Strategy:  im.strategy,
		MergeMode: s.mode,
	}

	var plan *reconcile.MergePlan
	if decisions != nil {
		plan, err = im.planner.Resume(ctx, req, decisions)
	} else {
		plan, err = im.planner.Plan(ctx, req)
	}
	if err != nil {
		return nil, planErr(ctx, err)
	}
	im.notify.planReady(plan)
	return plan, nil
}

// Respond applies the user's answer. Confirm applies the plan: pending
// conflicts fall back to LastWriteWins, the others follow the importer's
// strategy. Decide re-plans with the given decisions. Cancel ends the
// session with a cancelled error and leaves the store unchanged. The local
// store is read again before applying.
func (s *ImportSession) Respond(ctx context.Context, resp reconcile.Response) (*reconcile.Result, error) {
	im := s.im
	if s.done {
		return nil, &errors.SyncError{
			Op:        errors.OpImport,
			Component: component,
			Kind:      errors.KindInvalid,
			Err:       errors.ErrNoPendingDecision,
		}
	}

	switch resp.Action {
	case reconcile.ActionCancel:
		s.done = true
		im.logger.Info("import cancelled")
		return nil, errors.NewCancelled(errors.OpImport, nil)
	case reconcile.ActionConfirm, reconcile.ActionDecide:
	default:
		return nil, &errors.SyncError{
			Op:        errors.OpImport,
			Component: component,
			Kind:      errors.KindInvalid,
			Err:       fmt.Errorf("unknown action %q", resp.Action),
		}
	}

	plan, err := im.plan(ctx, s, carryDecisions(s.Plan, resp.Decisions))
	if err != nil {
		return nil, s.fail(err)
	}
	s.Plan = plan

	res, err := im.executor.Execute(ctx, plan)
	if err != nil {
		return nil, s.fail(err)
	}
	s.done = true
	for kind, n := range res.ByKind {
		im.options.Metrics.RecordOperations(string(kind), n)
	}
	im.options.Metrics.RecordSyncDuration(string(errors.OpImport), time.Since(s.started))
	im.notify.completed(&Result{
		Trigger:   TriggerManual,
		State:     StateIdle,
		Plan:      plan,
		Applied:   res,
		StartTime: s.started,
		Duration:  time.Since(s.started),
	})
	return res, nil
}

func (s *ImportSession) fail(err error) error {
	if !errors.IsKind(err, errors.KindCancelled) {
		s.im.options.Metrics.RecordSyncErrors(string(errors.OpImport), string(errors.KindOf(err)))
	}
	return err
}

// Import plans and applies incoming in one step using the configured
// strategy. It fails with a ConflictPending error when the strategy leaves
// conflicts for the user; use Plan and Respond for that flow.
func (im *Importer) Import(ctx context.Context, incoming *model.Snapshot, mode reconcile.MergeMode) (*reconcile.Result, error) {
	s, err := im.Plan(ctx, incoming, mode)
	if err != nil {
		return nil, err
	}
	if pending := s.Plan.Pending(); len(pending) > 0 {
		return nil, errors.NewConflictPending(errors.OpImport, len(pending))
	}
	return s.Respond(ctx, reconcile.Confirm())
}

// carryDecisions keeps the answers plan already has and overlays the user's
// decisions, so re-planning never changes a settled conflict.
func carryDecisions(plan *reconcile.MergePlan, user map[string]reconcile.Side) map[string]reconcile.Side {
	out := make(map[string]reconcile.Side, len(plan.Conflicts)+len(user))
	for _, rc := range plan.Conflicts {
		if !rc.Resolution.Pending {
			out[rc.Conflict.ID] = rc.Resolution.Winner
		}
	}
	for id, side := range user {
		out[id] = side
	}
	return out
}
