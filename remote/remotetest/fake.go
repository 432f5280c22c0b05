// Package remotetest provides a scriptable in-memory remote.Service.
package remotetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/remote"
)

// Method names accepted by FailNext.
const (
	MethodAccountStatus = "AccountStatus"
	MethodFetchSnapshot = "FetchSnapshot"
	MethodWake          = "Wake"
)

// Fake is a remote.Service backed by memory. By default a Wake adopts the
// pushed state as both the remote snapshot and the baseline, which is what a
// server that accepts the device's merge does.
type Fake struct {
	mu sync.Mutex

	status   remote.AccountStatus
	snapshot *model.Snapshot
	baseline *model.Snapshot
	revision int

	failures map[string][]error
	calls    map[string]int
	woken    []*model.Snapshot

	// KeepOnWake disables adopting pushed state.
	KeepOnWake bool

	// FetchDelay blocks FetchSnapshot, honouring ctx.
	FetchDelay time.Duration
}

var _ remote.Service = (*Fake)(nil)

// New returns an available Fake serving a copy of snap.
func New(snap *model.Snapshot) *Fake {
	if snap == nil {
		snap = &model.Snapshot{}
	}
	return &Fake{
		status:   remote.AccountAvailable,
		snapshot: snap.Clone(),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetStatus changes the reported account status.
func (f *Fake) SetStatus(s remote.AccountStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

// SetSnapshot replaces the remote state.
func (f *Fake) SetSnapshot(snap *model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap.Clone()
	f.revision++
}

// SetBaseline replaces the device baseline. Nil clears it.
func (f *Fake) SetBaseline(snap *model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap == nil {
		f.baseline = nil
		return
	}
	f.baseline = snap.Clone()
}

// Edit mutates the remote state in place.
func (f *Fake) Edit(fn func(s *model.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.snapshot)
	f.revision++
}

// FailNext queues errs to be returned by the next calls of method, one per call.
func (f *Fake) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

// Calls returns how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Woken returns copies of every snapshot pushed through Wake.
func (f *Fake) Woken() []*model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Snapshot, len(f.woken))
	for i, s := range f.woken {
		out[i] = s.Clone()
	}
	return out
}

// Snapshot returns a copy of the remote state.
func (f *Fake) Snapshot() *model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot.Clone()
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	if q := f.failures[method]; len(q) > 0 {
		f.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

// AccountStatus implements remote.Service.
func (f *Fake) AccountStatus(ctx context.Context) (remote.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodAccountStatus); err != nil {
		return remote.AccountCouldNotDetermine, err
	}
	return f.status, ctx.Err()
}

// FetchSnapshot implements remote.Service.
func (f *Fake) FetchSnapshot(ctx context.Context) (*remote.Replica, error) {
	f.mu.Lock()
	err := f.enter(MethodFetchSnapshot)
	delay := f.FetchDelay
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r := &remote.Replica{
		Snapshot:  f.snapshot.Clone(),
		Revision:  fmt.Sprintf("r%d", f.revision),
		FetchedAt: time.Now(),
	}
	if f.baseline != nil {
		r.Baseline = f.baseline.Clone()
	}
	return r, nil
}

// Wake implements remote.Service.
func (f *Fake) Wake(ctx context.Context, local *model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodWake); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.woken = append(f.woken, local.Clone())
	if !f.KeepOnWake {
		f.snapshot = local.Clone()
		f.baseline = local.Clone()
		f.revision++
	}
	return nil
}
