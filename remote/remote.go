// Package remote defines the remote synchronization collaborator the
// orchestrator pulls replicas from and pushes merged state to.
package remote

import (
	"context"
	"time"

	"github.com/c0deZ3R0/listsync/model"
)

// AccountStatus reports whether the remote can be used right now.
type AccountStatus string

const (
	AccountAvailable              AccountStatus = "available"
	AccountNoAccount              AccountStatus = "noAccount"
	AccountRestricted             AccountStatus = "restricted"
	AccountTemporarilyUnavailable AccountStatus = "temporarilyUnavailable"
	AccountCouldNotDetermine      AccountStatus = "couldNotDetermine"
)

// Available reports whether a sync can proceed.
func (s AccountStatus) Available() bool { return s == AccountAvailable }

// Transient reports whether asking again later may give a different answer.
func (s AccountStatus) Transient() bool {
	return s == AccountTemporarilyUnavailable || s == AccountCouldNotDetermine
}

// Replica is the remote side of one sync run.
type Replica struct {
	// Snapshot is the current remote state.
	Snapshot *model.Snapshot `json:"snapshot"`

	// Baseline is the state both sides last agreed on, as recorded by the
	// remote for this device. Nil before the first successful sync.
	Baseline *model.Snapshot `json:"baseline,omitempty"`

	// Revision is an opaque marker of the remote state.
	Revision string `json:"revision,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Service is the remote synchronization collaborator. Failures should wrap
// the errors package taxonomy (ErrNetworkUnavailable, ErrRateLimited,
// ErrQuotaExceeded, ErrRemoteUnknown) so callers can classify retryability.
type Service interface {
	// AccountStatus reports account availability.
	AccountStatus(ctx context.Context) (AccountStatus, error)

	// FetchSnapshot returns the remote replica and this device's baseline.
	FetchSnapshot(ctx context.Context) (*Replica, error)

	// Wake pushes the local state after a merge. The remote records it as
	// the new baseline for this device. Best effort.
	Wake(ctx context.Context, local *model.Snapshot) error
}
