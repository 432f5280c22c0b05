package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/store"
)

// Progress is reported after every applied operation. Image operations
// count towards the item counters.
type Progress struct {
	TotalLists       int    `json:"totalLists"`
	ProcessedLists   int    `json:"processedLists"`
	TotalItems       int    `json:"totalItems"`
	ProcessedItems   int    `json:"processedItems"`
	CurrentOperation string `json:"currentOperation"`
}

// Result describes a committed plan.
type Result struct {
	Mode      Mode           `json:"mode"`
	Applied   int            `json:"applied"`
	Conflicts int            `json:"conflicts"`
	Progress  Progress       `json:"progress"`
	Duration  time.Duration  `json:"duration"`
	ByKind    map[OpKind]int `json:"byKind"`
	Plan      *MergePlan     `json:"-"`
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithProgress registers a progress callback. It is called synchronously
// from the transaction and must not block.
func WithProgress(fn func(Progress)) ExecutorOption {
	return func(e *Executor) {
		e.onProgress = fn
	}
}

// Executor applies merge plans to a store inside one transaction.
type Executor struct {
	store      store.Store
	logger     *slog.Logger
	onProgress func(Progress)
}

// NewExecutor creates an Executor writing to s.
func NewExecutor(s store.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{store: s}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger, "executor")
	return e
}

// Execute applies plan atomically. A plan with pending conflicts is refused
// with a ConflictPending error. Cancellation is honoured between
// operations; a cancelled or failed run leaves the store unchanged.
func (e *Executor) Execute(ctx context.Context, plan *MergePlan) (*Result, error) {
	if pending := plan.Pending(); len(pending) > 0 {
		return nil, errors.NewConflictPending(errors.OpExecute, len(pending))
	}

	start := time.Now()
	lists, items := plan.Counts()
	res := &Result{
		Mode:      plan.Mode,
		Conflicts: len(plan.Conflicts),
		Progress:  Progress{TotalLists: lists, TotalItems: items},
		ByKind:    make(map[OpKind]int),
		Plan:      plan,
	}
	if plan.IsEmpty() {
		res.Duration = time.Since(start)
		return res, nil
	}

	var cancelled error
	err := e.store.Update(ctx, func(txCtx context.Context, tx store.Tx) error {
		// Operations are not interrupted midway; cancellation is checked
		// between them.
		opCtx := context.WithoutCancel(txCtx)
		progress := Progress{TotalLists: lists, TotalItems: items}

		for i, op := range plan.Operations {
			if err := ctx.Err(); err != nil {
				cancelled = errors.NewCancelled(errors.OpExecute, err).
					WithMetadata("applied", i)
				return cancelled
			}
			if err := apply(opCtx, tx, op); err != nil {
				return fmt.Errorf("%s: %w", op.Description, err)
			}
			if op.Entity == model.KindList {
				progress.ProcessedLists++
			} else {
				progress.ProcessedItems++
			}
			progress.CurrentOperation = op.Description
			res.ByKind[op.Kind]++
			if e.onProgress != nil {
				e.onProgress(progress)
			}
		}
		res.Progress = progress
		return nil
	})
	res.Duration = time.Since(start)

	switch {
	case cancelled != nil:
		e.logger.Info("merge cancelled, store unchanged", slog.Int("operations", len(plan.Operations)))
		return nil, cancelled
	case err != nil:
		storeErr := errors.NewStorageError(errors.OpExecute, err).
			WithMetadata("operations", len(plan.Operations))
		e.logger.Error("merge rolled back", slog.Any("error", storeErr))
		return nil, storeErr
	}

	res.Applied = len(plan.Operations)
	e.logger.Info("merge committed",
		slog.String("mode", string(plan.Mode)),
		slog.Int("operations", res.Applied),
		slog.Int("conflict_count", res.Conflicts),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func apply(ctx context.Context, tx store.Tx, op Operation) error {
	switch op.Kind {
	case OpDelete:
		switch op.Entity {
		case model.KindList:
			return tx.DeleteList(ctx, op.ID)
		case model.KindItem:
			return tx.DeleteItem(ctx, op.ID)
		default:
			return tx.DeleteImage(ctx, op.ID)
		}
	case OpReorder:
		return tx.SetOrder(ctx, op.Entity, op.ID, op.OrderNumber)
	}

	switch {
	case op.List != nil:
		return tx.PutList(ctx, *op.List)
	case op.Item != nil:
		return tx.PutItem(ctx, *op.Item)
	case op.Image != nil:
		return tx.PutImage(ctx, *op.Image)
	}
	return fmt.Errorf("operation %s on %s %s has no payload", op.Kind, op.Entity, op.ID)
}
