package model

import (
	"strings"
	"testing"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Snapshot{
		Lists: []List{
			{ID: "l1", Name: "Shopping", OrderNumber: 0, CreatedAt: t0, ModifiedAt: t0},
			{ID: "l2", Name: "Chores", OrderNumber: 1, CreatedAt: t0, ModifiedAt: t0},
		},
		Items: []Item{
			{ID: "i1", ListID: "l1", Title: "Milk", Quantity: 1, OrderNumber: 1},
			{ID: "i2", ListID: "l1", Title: "Eggs", Quantity: 12, OrderNumber: 0},
		},
		Images: []Image{
			{ID: "m1", ItemID: "i1", Data: []byte{1, 2, 3}},
		},
	}
}

func TestSnapshot_ValidateOK(t *testing.T) {
	require.NoError(t, sampleSnapshot().Validate())
}

func TestSnapshot_ValidateIssues(t *testing.T) {
	s := sampleSnapshot()
	s.Lists[1].ID = "i1" // collides with an item id
	s.Lists[0].Name = strings.Repeat("x", MaxListNameLength+1)
	s.Items[0].Quantity = 0
	s.Items = append(s.Items, Item{ID: "i3", ListID: "nope", Title: "Ghost", Quantity: 1})
	s.Images = append(s.Images, Image{ID: "m2", ItemID: "missing"})

	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))

	msgs := verr.Error()
	assert.Contains(t, msgs, `id "i1" collides`)
	assert.Contains(t, msgs, "lists[0].name")
	assert.Contains(t, msgs, "items[0].quantity")
	assert.Contains(t, msgs, `unknown list "nope"`)
	assert.Contains(t, msgs, `unknown item "missing"`)
}

func TestSnapshot_ValidateCountsRunesNotBytes(t *testing.T) {
	s := sampleSnapshot()
	s.Lists[0].Name = strings.Repeat("é", MaxListNameLength)
	assert.NoError(t, s.Validate())
}

func TestSnapshot_Index(t *testing.T) {
	idx := sampleSnapshot().Index()

	require.Len(t, idx.ItemsByList["l1"], 2)
	assert.Equal(t, "i2", idx.ItemsByList["l1"][0].ID, "children sorted by order number")
	assert.Equal(t, "i1", idx.ItemsByList["l1"][1].ID)
	assert.Len(t, idx.ImagesByItem["i1"], 1)
	assert.Equal(t, "Chores", idx.Lists["l2"].Name)
}

func TestSnapshot_CheckDenseOrder(t *testing.T) {
	s := sampleSnapshot()
	require.NoError(t, s.CheckDenseOrder())

	s.Items[0].OrderNumber = 5
	assert.Error(t, s.CheckDenseOrder())

	s = sampleSnapshot()
	s.Lists = append(s.Lists, List{ID: "l3", Name: "Old", OrderNumber: 7, Archived: true})
	assert.NoError(t, s.CheckDenseOrder(), "archived lists are outside the active scope")
}

func TestSnapshot_CheckParents(t *testing.T) {
	s := sampleSnapshot()
	require.NoError(t, s.CheckParents())

	s.Lists = s.Lists[1:]
	err := s.CheckParents()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned")
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := sampleSnapshot()
	c := s.Clone()
	c.Images[0].Data[0] = 9
	c.Lists[0].Name = "Changed"

	assert.Equal(t, byte(1), s.Images[0].Data[0])
	assert.Equal(t, "Shopping", s.Lists[0].Name)
}

func TestSnapshot_Equal(t *testing.T) {
	a := sampleSnapshot()
	b := sampleSnapshot()
	b.Lists[0], b.Lists[1] = b.Lists[1], b.Lists[0]
	b.Lists[0].ModifiedAt = b.Lists[0].ModifiedAt.In(time.FixedZone("CET", 3600))
	assert.True(t, a.Equal(b), "order and zone do not matter")

	b.Images[0].Data = []byte{1, 2, 4}
	assert.False(t, a.Equal(b))

	c := sampleSnapshot()
	c.Items[1].CrossedOut = true
	assert.False(t, a.Equal(c))

	assert.True(t, (*Snapshot)(nil).Equal(&Snapshot{}))
	assert.False(t, a.Equal(nil))
}

func TestImage_Digest(t *testing.T) {
	a := Image{Data: []byte("abc")}
	b := Image{Data: []byte("abc")}
	c := Image{Data: []byte("abd")}
	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.True(t, ValidID(id))
	assert.NotEqual(t, id, NewID())
	assert.False(t, ValidID("not-a-uuid"))
}
