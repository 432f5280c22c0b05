package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
)

func TestPlan_CleanTwoDeviceEdit(t *testing.T) {
	base := snap(
		[]model.List{list("L1", "Shopping", 0, at(1))},
		[]model.Item{item("eggs", "L1", "Eggs", 1, 0, at(1))},
	)
	local := snap(
		[]model.List{list("L1", "Groceries", 0, at(2))},
		[]model.Item{item("eggs", "L1", "Eggs", 1, 0, at(1))},
	)
	incoming := snap(
		[]model.List{list("L1", "Shopping", 0, at(1))},
		[]model.Item{
			item("eggs", "L1", "Eggs", 1, 0, at(1)),
			item("milk", "L1", "Milk", 1, 1, at(3)),
		},
	)

	plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	assert.Empty(t, plan.Conflicts)
	assert.Equal(t, StatePlanned, plan.State)
	require.Len(t, plan.Operations, 1)
	op := plan.Operations[0]
	assert.Equal(t, OpCreate, op.Kind)
	assert.Equal(t, "Milk", op.Item.Title)

	idx := out.Index()
	assert.Equal(t, "Groceries", idx.Lists["L1"].Name, "one-sided rename is kept")
	assert.Equal(t, 1, idx.Items["milk"].OrderNumber)
}

func TestPlan_GenuineConflictLastWriteWins(t *testing.T) {
	lists := []model.List{list("L1", "Shopping", 0, at(1))}
	base := snap(lists, []model.Item{item("eggs", "L1", "Eggs", 1, 0, at(4))})
	local := snap(lists, []model.Item{item("eggs", "L1", "Eggs", 2, 0, at(5))})
	incoming := snap(lists, []model.Item{item("eggs", "L1", "Eggs", 6, 0, at(6))})

	plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0]
	assert.Equal(t, ItemModified, c.Conflict.Kind)
	assert.Equal(t, FieldQuantity, c.Conflict.Field)
	assert.Equal(t, 2, c.Conflict.CurrentValue)
	assert.Equal(t, 6, c.Conflict.IncomingValue)
	assert.Equal(t, 1, c.Conflict.BaselineValue)
	assert.Equal(t, SideIncoming, c.Resolution.Winner)

	op := findOp(plan, OpUpdate, "eggs")
	require.NotNil(t, op)
	assert.Equal(t, []string{FieldQuantity}, op.Fields)
	assert.Equal(t, 6, op.Item.Quantity)

	eggs := out.Index().Items["eggs"]
	assert.Equal(t, 6, eggs.Quantity)
	assert.Equal(t, at(6), eggs.ModifiedAt)
}

func TestPlan_ImportWithoutBaselineRaisesRename(t *testing.T) {
	local := snap([]model.List{list("tasks", "Tasks", 0, at(1))}, nil)
	incoming := snap([]model.List{list("tasks", "ToDo", 0, at(1))}, nil)
	req := Request{
		Mode:     ModeImport,
		Local:    local,
		Incoming: incoming,
		// A baseline is ignored on import.
		Baseline: local,
		Strategy: &UserChoice{},
	}

	var states []State
	planner := NewPlanner(WithStateHook(func(s State) { states = append(states, s) }))
	plan, err := planner.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StateNeedsUserInput, plan.State)
	assert.Equal(t, []State{StateCollecting, StateDiffing, StateClassifying, StateNeedsUserInput}, states)
	pending := plan.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ListRenamed, pending[0].Kind)
	assert.Equal(t, "list:tasks:name", pending[0].ID)
	assert.Contains(t, pending[0].Message, `"ToDo"`)
	assert.Empty(t, plan.Operations, "pending conflicts provisionally keep local values")

	resumed, err := planner.Resume(context.Background(), req, map[string]Side{pending[0].ID: SideIncoming})
	require.NoError(t, err)
	assert.Equal(t, StatePlanned, resumed.State)
	op := findOp(resumed, OpUpdate, "tasks")
	require.NotNil(t, op)
	assert.Equal(t, "ToDo", op.List.Name)
	assert.True(t, op.List.ModifiedAt.After(at(1)), "modifiedAt advances on a field change")
}

func TestPlan_ImportRenameIsRaisedUnderEveryStrategy(t *testing.T) {
	local := snap([]model.List{list("tasks", "Tasks", 0, at(1))}, nil)
	incoming := snap([]model.List{list("tasks", "ToDo", 0, at(2))}, nil)

	plan, err := NewPlanner().Plan(context.Background(), Request{Mode: ModeImport, Local: local, Incoming: incoming})
	require.NoError(t, err)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, ListRenamed, plan.Conflicts[0].Conflict.Kind)
	assert.Equal(t, SideIncoming, plan.Conflicts[0].Resolution.Winner)
}

func TestPlan_DeletionConflictRestoresArchivedList(t *testing.T) {
	l2 := list("L2", "Hardware", 0, at(6))
	archived := l2
	archived.Archived = true
	archived.ModifiedAt = at(7)

	base := snap([]model.List{l2}, nil)
	local := snap([]model.List{archived}, nil)
	incoming := snap([]model.List{l2}, []model.Item{item("nails", "L2", "Nails", 1, 0, at(8))})

	plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0].Conflict
	assert.Equal(t, ItemDeleted, c.Kind)
	assert.Equal(t, model.KindList, c.EntityKind)
	assert.Equal(t, "L2", c.EntityID)
	assert.Equal(t, SideLocal, c.DeletedSide)
	assert.Equal(t, SideIncoming, plan.Conflicts[0].Resolution.Winner)

	require.NotNil(t, findOp(plan, OpRestore, "L2"))
	require.NotNil(t, findOp(plan, OpCreate, "nails"))
	assert.Less(t, indexOfOp(plan, "L2"), indexOfOp(plan, "nails"), "parent before child")

	idx := out.Index()
	assert.False(t, idx.Lists["L2"].Archived)
	assert.Equal(t, "L2", idx.Items["nails"].ListID)
}

func TestPlan_DeletionConflictArchiveWins(t *testing.T) {
	l2 := list("L2", "Hardware", 0, at(6))
	archived := l2
	archived.Archived = true
	archived.ModifiedAt = at(9)

	base := snap([]model.List{l2}, nil)
	local := snap([]model.List{archived}, nil)
	incoming := snap([]model.List{l2}, []model.Item{item("nails", "L2", "Nails", 1, 0, at(8))})

	_, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	idx := out.Index()
	assert.True(t, idx.Lists["L2"].Archived)
	assert.Contains(t, idx.Items, "nails", "children stay with the archived list")
}

func TestPlan_RemoteDeletionOfUntouchedItem(t *testing.T) {
	lists := []model.List{list("L1", "Shopping", 0, at(1))}
	eggs := item("eggs", "L1", "Eggs", 1, 0, at(1))
	milk := item("milk", "L1", "Milk", 1, 1, at(1))
	base := snap(lists, []model.Item{eggs, milk}, image("m1", "milk", 0, "jpeg"))
	local := snap(lists, []model.Item{eggs, milk}, image("m1", "milk", 0, "jpeg"))
	incoming := snap(lists, []model.Item{eggs})

	plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	assert.Empty(t, plan.Conflicts)
	require.NotNil(t, findOp(plan, OpDelete, "milk"))
	assert.Nil(t, findOp(plan, OpDelete, "m1"), "image deletion cascades from its item")
	assert.Len(t, out.Items, 1)
	assert.Empty(t, out.Images)
}

func TestPlan_RemoteDeletionOfModifiedItemIsRestored(t *testing.T) {
	lists := []model.List{list("L1", "Shopping", 0, at(1))}
	eggs := item("eggs", "L1", "Eggs", 1, 0, at(1))
	base := snap(lists, []model.Item{eggs})
	changed := eggs
	changed.Quantity = 12
	changed.ModifiedAt = at(3)
	local := snap(lists, []model.Item{changed})
	incoming := snap(lists, nil)

	plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, ItemDeleted, plan.Conflicts[0].Conflict.Kind)
	assert.Equal(t, SideIncoming, plan.Conflicts[0].Conflict.DeletedSide)
	assert.Equal(t, SideLocal, plan.Conflicts[0].Resolution.Winner, "a losing delete restores the entity")
	assert.Equal(t, 12, out.Index().Items["eggs"].Quantity)

	plan, out = applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base, Strategy: ServerWins{}})
	require.NotNil(t, findOp(plan, OpDelete, "eggs"))
	assert.Empty(t, out.Items)
}

func TestPlan_LocalDeletionNotResurrected(t *testing.T) {
	lists := []model.List{list("L1", "Shopping", 0, at(1))}
	eggs := item("eggs", "L1", "Eggs", 1, 0, at(1))
	base := snap(lists, []model.Item{eggs})
	local := snap(lists, nil)
	incoming := snap(lists, []model.Item{eggs})

	plan, err := NewPlanner().Plan(context.Background(), Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}

func TestPlan_RemotelyDeletedListWithLocalAdditions(t *testing.T) {
	l := list("L1", "Trip", 0, at(1))
	base := snap([]model.List{l}, []model.Item{item("tent", "L1", "Tent", 1, 0, at(1))})
	local := snap([]model.List{l}, []model.Item{
		item("tent", "L1", "Tent", 1, 0, at(1)),
		item("stove", "L1", "Stove", 1, 1, at(5)),
	})
	incoming := snap(nil, nil)

	_, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	idx := out.Index()
	assert.Contains(t, idx.Lists, "L1")
	assert.Contains(t, idx.Items, "stove")
	assert.Contains(t, idx.Items, "tent", "the restored list keeps its children")
}

func TestPlan_ImageSets(t *testing.T) {
	lists := []model.List{list("L1", "Shopping", 0, at(1))}
	items := []model.Item{item("eggs", "L1", "Eggs", 1, 0, at(1))}
	base := snap(lists, items, image("m1", "eggs", 0, "one"))

	t.Run("incoming adds", func(t *testing.T) {
		local := snap(lists, items, image("m1", "eggs", 0, "one"))
		incoming := snap(lists, items, image("m1", "eggs", 0, "one"), image("m2", "eggs", 1, "two"))
		plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})
		assert.Empty(t, plan.Conflicts)
		require.NotNil(t, findOp(plan, OpCreate, "m2"))
		assert.Len(t, out.Images, 2)
	})

	t.Run("both change", func(t *testing.T) {
		local := snap(lists, items, image("m1", "eggs", 0, "one"), image("m3", "eggs", 1, "three"))
		incoming := snap(lists, items, image("m2", "eggs", 0, "two"))
		plan, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base, Strategy: ServerWins{}})
		require.Len(t, plan.Conflicts, 1)
		assert.Equal(t, ImageSetChanged, plan.Conflicts[0].Conflict.Kind)
		require.Len(t, out.Images, 1)
		assert.Equal(t, "m2", out.Images[0].ID)
		assert.Equal(t, 0, out.Images[0].OrderNumber)
	})
}

func TestPlan_ImportMergeModes(t *testing.T) {
	local := snap(
		[]model.List{list("L1", "Shopping", 0, at(1)), list("L9", "Old", 1, at(1))},
		[]model.Item{
			item("i1", "L1", "Eggs", 1, 0, at(1)),
			item("i2", "L1", "Milk", 1, 1, at(1)),
			item("i9", "L9", "Thing", 1, 0, at(1)),
		},
	)
	doc := snap(
		[]model.List{list("L1", "Shopping", 0, at(1)), list("N1", "New", 1, at(2))},
		[]model.Item{item("i1", "L1", "Eggs", 1, 0, at(1)), item("n1", "N1", "Bread", 1, 0, at(2))},
	)

	t.Run("merge keeps local-only entities", func(t *testing.T) {
		plan, out := applyPlan(t, Request{Mode: ModeImport, Local: local, Incoming: doc})
		assert.Empty(t, plan.Conflicts)
		idx := out.Index()
		assert.Len(t, idx.Lists, 3)
		assert.Contains(t, idx.Items, "i2")
		assert.Equal(t, 2, idx.Lists["N1"].OrderNumber, "new lists are appended after local ones")
	})

	t.Run("replace archives lists and deletes items", func(t *testing.T) {
		plan, out := applyPlan(t, Request{Mode: ModeImport, Local: local, Incoming: doc, MergeMode: MergeModeReplace})
		require.NotNil(t, findOp(plan, OpArchive, "L9"))
		require.NotNil(t, findOp(plan, OpDelete, "i2"))
		idx := out.Index()
		assert.True(t, idx.Lists["L9"].Archived)
		assert.NotContains(t, idx.Items, "i2")
		assert.Contains(t, idx.Items, "i9", "items of an archived list are kept")
		assert.Equal(t, 1, idx.Lists["N1"].OrderNumber)
	})
}

func TestPlan_ItemMoveRescopesOrdering(t *testing.T) {
	lists := []model.List{list("A", "A", 0, at(1)), list("B", "B", 1, at(1))}
	base := snap(lists, []model.Item{
		item("a1", "A", "a1", 1, 0, at(1)),
		item("a2", "A", "a2", 1, 1, at(1)),
		item("b1", "B", "b1", 1, 0, at(1)),
	})
	local := base.Clone()
	incoming := base.Clone()
	incoming.Items[0].ListID = "B"
	incoming.Items[0].OrderNumber = 1
	incoming.Items[0].ModifiedAt = at(2)
	incoming.Items[1].OrderNumber = 0

	_, out := applyPlan(t, Request{Mode: ModeSync, Local: local, Incoming: incoming, Baseline: base})

	idx := out.Index()
	assert.Equal(t, "B", idx.Items["a1"].ListID)
	assert.Equal(t, 0, idx.Items["a2"].OrderNumber)
	assert.NoError(t, out.CheckDenseOrder())
}

func TestPlan_ValidationError(t *testing.T) {
	local := snap([]model.List{list("L1", "Shopping", 0, at(1))}, nil)
	incoming := snap(nil, []model.Item{item("i1", "missing", "Eggs", 1, 0, at(1))})

	_, err := NewPlanner().Plan(context.Background(), Request{Mode: ModeImport, Local: local, Incoming: incoming})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Contains(t, err.Error(), "incoming.items[0].listId")
}

func TestPlan_KindCollisionAcrossSides(t *testing.T) {
	local := snap([]model.List{list("x", "Shopping", 0, at(1))}, nil)
	incoming := snap(
		[]model.List{list("L", "Other", 0, at(1))},
		[]model.Item{item("x", "L", "Eggs", 1, 0, at(1))},
	)
	_, err := NewPlanner().Plan(context.Background(), Request{Mode: ModeImport, Local: local, Incoming: incoming})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestPlan_Preview(t *testing.T) {
	local := snap([]model.List{list("L1", "Tasks", 0, at(1))}, []model.Item{item("i1", "L1", "Call", 1, 0, at(1))})
	doc := snap(
		[]model.List{list("L1", "ToDo", 0, at(2)), list("L2", "Later", 1, at(2))},
		[]model.Item{item("i1", "L1", "Call mom", 1, 0, at(2)), item("i2", "L2", "Read", 1, 0, at(2))},
	)
	plan, err := NewPlanner().Plan(context.Background(), Request{Mode: ModeImport, Local: local, Incoming: doc})
	require.NoError(t, err)

	pv := plan.Preview()
	assert.Equal(t, []string{"Later"}, pv.ListsToCreate)
	assert.Equal(t, []string{"ToDo"}, pv.ListsToUpdate)
	assert.Equal(t, []string{"Read"}, pv.ItemsToCreate)
	assert.Equal(t, []string{"Call mom"}, pv.ItemsToUpdate)
	assert.Len(t, pv.Conflicts, 2)
	assert.Equal(t, 4, pv.TotalChanges)
}

func indexOfOp(plan *MergePlan, id string) int {
	for i, op := range plan.Operations {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func TestResume_UndecidedFollowRunStrategy(t *testing.T) {
	local := snap([]model.List{list("a", "Local A", 0, at(5)), list("b", "Local B", 1, at(5))}, nil)
	incoming := snap([]model.List{list("a", "Doc A", 0, at(1)), list("b", "Doc B", 1, at(1))}, nil)
	ctx := context.Background()
	rules, err := NewRules(ServerWins{}, Rule{Name: "ask about b", Match: func(c Conflict) bool { return c.EntityID == "b" }, Strategy: &UserChoice{}})
	require.NoError(t, err)

	tests := []struct {
		name         string
		strategy     Strategy
		wantA, wantB string
	}{
		{"fixed strategy", ServerWins{}, "Doc A", "Doc B"},
		{"user choice falls back to last write wins", &UserChoice{}, "Local A", "Local B"},
		{"rules defer to last write wins only for the user", rules, "Doc A", "Local B"},
		{"no strategy", nil, "Local A", "Local B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Mode: ModeImport, Local: local, Incoming: incoming, Strategy: tt.strategy}
			plan, err := NewPlanner().Resume(ctx, req, map[string]Side{})
			require.NoError(t, err)
			assert.Equal(t, StatePlanned, plan.State)
			idx := plan.Result.Index()
			assert.Equal(t, tt.wantA, idx.Lists["a"].Name)
			assert.Equal(t, tt.wantB, idx.Lists["b"].Name)
		})
	}
}
