package synckit

import (
	"log/slog"

	"github.com/c0deZ3R0/listsync/reconcile"
)

// Observer receives reconciliation events. Callbacks run synchronously on
// the goroutine driving the run and should return quickly.
type Observer interface {
	OnProgress(p reconcile.Progress)
	OnPlanReady(plan *reconcile.MergePlan)
	OnCompleted(result *Result)
}

// StateObserver is implemented by observers that also want orchestrator
// state transitions.
type StateObserver interface {
	OnStateChange(from, to State)
}

// ObserverFuncs adapts plain functions to Observer and StateObserver. Nil
// fields are skipped.
type ObserverFuncs struct {
	Progress    func(reconcile.Progress)
	PlanReady   func(*reconcile.MergePlan)
	Completed   func(*Result)
	StateChange func(from, to State)
}

var (
	_ Observer      = ObserverFuncs{}
	_ StateObserver = ObserverFuncs{}
)

func (f ObserverFuncs) OnProgress(p reconcile.Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f ObserverFuncs) OnPlanReady(plan *reconcile.MergePlan) {
	if f.PlanReady != nil {
		f.PlanReady(plan)
	}
}

func (f ObserverFuncs) OnCompleted(result *Result) {
	if f.Completed != nil {
		f.Completed(result)
	}
}

func (f ObserverFuncs) OnStateChange(from, to State) {
	if f.StateChange != nil {
		f.StateChange(from, to)
	}
}

// observers fans events out and keeps a panicking observer from taking the
// run down with it.
type observers struct {
	list   []Observer
	logger *slog.Logger
}

func (o observers) each(event string, fn func(Observer)) {
	for _, obs := range o.list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("observer panic recovered",
						slog.String("event", event),
						slog.Any("panic", r))
				}
			}()
			fn(obs)
		}()
	}
}

func (o observers) progress(p reconcile.Progress) {
	o.each("progress", func(obs Observer) { obs.OnProgress(p) })
}

func (o observers) planReady(plan *reconcile.MergePlan) {
	o.each("plan_ready", func(obs Observer) { obs.OnPlanReady(plan) })
}

func (o observers) completed(res *Result) {
	o.each("completed", func(obs Observer) { obs.OnCompleted(res) })
}

func (o observers) stateChange(from, to State) {
	o.each("state_change", func(obs Observer) {
		if so, ok := obs.(StateObserver); ok {
			so.OnStateChange(from, to)
		}
	})
}
