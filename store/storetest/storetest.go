// Package storetest holds the behaviour every store.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/store"
)

// Factory returns an empty, open store. Run closes it.
type Factory func(t *testing.T) store.Store

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Seed is the fixture written by Run.
func Seed() *model.Snapshot {
	return &model.Snapshot{
		Lists: []model.List{
			{ID: "l-home", Name: "Home", OrderNumber: 0, CreatedAt: t0, ModifiedAt: t0},
			{ID: "l-work", Name: "Work", OrderNumber: 1, CreatedAt: t0, ModifiedAt: t0.Add(time.Minute), Archived: true},
		},
		Items: []model.Item{
			{ID: "i-milk", ListID: "l-home", Title: "Milk", Description: "2%", Quantity: 2, OrderNumber: 0, CreatedAt: t0, ModifiedAt: t0},
			{ID: "i-eggs", ListID: "l-home", Title: "Eggs", Quantity: 12, OrderNumber: 1, CrossedOut: true, CreatedAt: t0, ModifiedAt: t0},
			{ID: "i-memo", ListID: "l-work", Title: "Memo", Quantity: 1, OrderNumber: 0, CreatedAt: t0, ModifiedAt: t0},
		},
		Images: []model.Image{
			{ID: "m-1", ItemID: "i-milk", Data: []byte{0x89, 'P', 'N', 'G'}, OrderNumber: 0},
			{ID: "m-2", ItemID: "i-milk", Data: []byte{1, 2, 3}, OrderNumber: 1},
		},
	}
}

// Write puts every entity of snap in one transaction.
func Write(ctx context.Context, s store.Store, snap *model.Snapshot) error {
	return s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, l := range snap.Lists {
			if err := tx.PutList(ctx, l); err != nil {
				return err
			}
		}
		for _, it := range snap.Items {
			if err := tx.PutItem(ctx, it); err != nil {
				return err
			}
		}
		for _, im := range snap.Images {
			if err := tx.PutImage(ctx, im); err != nil {
				return err
			}
		}
		return nil
	})
}

// Normalize sorts every slice by id so snapshots from different backends
// compare equal.
func Normalize(s *model.Snapshot) *model.Snapshot {
	c := s.Clone()
	sort.Slice(c.Lists, func(i, j int) bool { return c.Lists[i].ID < c.Lists[j].ID })
	sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].ID < c.Items[j].ID })
	sort.Slice(c.Images, func(i, j int) bool { return c.Images[i].ID < c.Images[j].ID })
	if len(c.Lists) == 0 {
		c.Lists = nil
	}
	if len(c.Items) == 0 {
		c.Items = nil
	}
	if len(c.Images) == 0 {
		c.Images = nil
	}
	return c
}

// Run exercises newStore against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	open := func(t *testing.T) store.Store {
		s := newStore(t)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("EmptySnapshot", func(t *testing.T) {
		s := open(t)
		snap, err := s.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap.Lists)
		assert.Empty(t, snap.Items)
		assert.Empty(t, snap.Images)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, Normalize(Seed()), Normalize(snap))
	})

	t.Run("PutReplaces", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			it := Seed().Items[0]
			it.Title = "Oat milk"
			it.ListID = "l-work"
			it.ModifiedAt = t0.Add(time.Hour)
			return tx.PutItem(ctx, it)
		})
		require.NoError(t, err)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		idx := snap.Index()
		assert.Equal(t, "Oat milk", idx.Items["i-milk"].Title)
		assert.Equal(t, "l-work", idx.Items["i-milk"].ListID)
		assert.True(t, t0.Add(time.Hour).Equal(idx.Items["i-milk"].ModifiedAt))
	})

	t.Run("SetOrder", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.SetOrder(ctx, model.KindItem, "i-milk", 1); err != nil {
				return err
			}
			return tx.SetOrder(ctx, model.KindItem, "i-eggs", 0)
		})
		require.NoError(t, err)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		idx := snap.Index()
		assert.Equal(t, 1, idx.Items["i-milk"].OrderNumber)
		assert.Equal(t, 0, idx.Items["i-eggs"].OrderNumber)
		assert.True(t, t0.Equal(idx.Items["i-milk"].ModifiedAt), "reordering leaves modifiedAt alone")

		err = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetOrder(ctx, model.KindList, "missing", 3)
		})
		assert.Error(t, err)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.DeleteList(ctx, "l-home")
		})
		require.NoError(t, err)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Lists, 1)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, "i-memo", snap.Items[0].ID)
		assert.Empty(t, snap.Images)
		assert.NoError(t, snap.CheckParents())
	})

	t.Run("DeleteItemAndImage", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.DeleteImage(ctx, "m-2"); err != nil {
				return err
			}
			return tx.DeleteItem(ctx, "i-eggs")
		})
		require.NoError(t, err)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Items, 2)
		require.Len(t, snap.Images, 1)
		assert.Equal(t, "m-1", snap.Images[0].ID)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, Write(ctx, s, Seed()))

		boom := errors.New("boom")
		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.DeleteList(ctx, "l-home"); err != nil {
				return err
			}
			if err := tx.PutList(ctx, model.List{ID: "l-new", Name: "New", CreatedAt: t0, ModifiedAt: t0}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, Normalize(Seed()), Normalize(snap), "nothing from the failed transaction is visible")
	})

	t.Run("ItemNeedsList", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.PutItem(ctx, model.Item{ID: "i-x", ListID: "nope", Title: "x", Quantity: 1})
		})
		assert.Error(t, err)
	})

	t.Run("SubscribeLocal", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		events := make(chan store.ChangeEvent, 4)
		unsubscribe := s.Subscribe(func(ev store.ChangeEvent) { events <- ev })

		require.NoError(t, Write(ctx, s, Seed()))
		select {
		case ev := <-events:
			assert.Equal(t, store.OriginLocal, ev.Origin)
		case <-time.After(2 * time.Second):
			t.Fatal("no change event after commit")
		}

		unsubscribe()
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.DeleteImage(ctx, "m-1")
		}))
		select {
		case ev := <-events:
			if ev.Origin == store.OriginLocal {
				t.Fatal("event delivered after unsubscribe")
			}
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("NoEventOnRollback", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		events := make(chan store.ChangeEvent, 4)
		s.Subscribe(func(ev store.ChangeEvent) { events <- ev })

		_ = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			return errors.New("abort")
		})
		select {
		case ev := <-events:
			if ev.Origin == store.OriginLocal {
				t.Fatal("rolled back transaction fired a local event")
			}
		case <-time.After(100 * time.Millisecond):
		}
	})
}
