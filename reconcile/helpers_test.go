package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// at returns a timestamp n minutes after t0.
func at(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

func list(id, name string, order int, mod time.Time) model.List {
	return model.List{ID: id, Name: name, OrderNumber: order, CreatedAt: t0, ModifiedAt: mod}
}

func item(id, listID, title string, qty, order int, mod time.Time) model.Item {
	return model.Item{ID: id, ListID: listID, Title: title, Quantity: qty, OrderNumber: order, CreatedAt: t0, ModifiedAt: mod}
}

func image(id, itemID string, order int, data string) model.Image {
	return model.Image{ID: id, ItemID: itemID, OrderNumber: order, Data: []byte(data)}
}

func snap(lists []model.List, items []model.Item, images ...model.Image) *model.Snapshot {
	return &model.Snapshot{Lists: lists, Items: items, Images: images}
}

// applyPlan plans req, executes it against a memory store seeded with
// req.Local and returns the store's resulting snapshot.
func applyPlan(t *testing.T, req Request) (*MergePlan, *model.Snapshot) {
	t.Helper()
	ctx := context.Background()
	plan, err := NewPlanner().Plan(ctx, req)
	require.NoError(t, err)

	st := memory.NewFromSnapshot(req.Local)
	_, err = NewExecutor(st).Execute(ctx, plan)
	require.NoError(t, err)

	out, err := st.Snapshot(ctx)
	require.NoError(t, err)
	return plan, out
}

func findOp(plan *MergePlan, kind OpKind, id string) *Operation {
	for i := range plan.Operations {
		if plan.Operations[i].Kind == kind && plan.Operations[i].ID == id {
			return &plan.Operations[i]
		}
	}
	return nil
}
