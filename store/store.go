// Package store defines the local store collaborator the reconciliation
// engine reads snapshots from and commits merge plans to.
package store

import (
	"context"
	"time"

	"github.com/c0deZ3R0/listsync/model"
)

// Store is a local replica of lists, items and images.
type Store interface {
	// Snapshot returns a consistent read of all three entity kinds.
	Snapshot(ctx context.Context) (*model.Snapshot, error)

	// Update runs fn inside a single atomic write transaction. If fn returns
	// an error nothing is committed. Once fn returns nil the commit is not
	// interrupted by ctx cancellation. Implementations serialize writers.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Subscribe registers handler for change events fired after every
	// commit, including commits made by other processes where the backend
	// can observe them. The returned function unsubscribes.
	Subscribe(handler func(ChangeEvent)) (unsubscribe func())

	// Close releases resources.
	Close() error
}

// Tx is the write side of a transaction. Put methods insert or replace the
// whole entity. Deletes cascade to children.
type Tx interface {
	PutList(ctx context.Context, l model.List) error
	PutItem(ctx context.Context, it model.Item) error
	PutImage(ctx context.Context, im model.Image) error
	SetOrder(ctx context.Context, kind model.Kind, id string, order int) error
	DeleteList(ctx context.Context, id string) error
	DeleteItem(ctx context.Context, id string) error
	DeleteImage(ctx context.Context, id string) error
}

// Origin tells where a change came from.
type Origin string

const (
	// OriginLocal is a commit made through this Store value.
	OriginLocal Origin = "local"
	// OriginExternal is a commit observed from another process or replica.
	OriginExternal Origin = "external"
)

// ChangeEvent is delivered to subscribers after a commit.
type ChangeEvent struct {
	Origin Origin
	At     time.Time
}
