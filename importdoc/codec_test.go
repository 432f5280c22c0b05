package importdoc

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
)

var now = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

const groceriesJSON = `{
  "version": 1,
  "lists": [
    {
      "id": "l1",
      "name": "Groceries",
      "orderNumber": 0,
      "createdAt": "2024-01-01T10:00:00Z",
      "modifiedAt": "2024-01-02T10:00:00Z",
      "items": [
        {"id": "i1", "title": "Milk", "quantity": 2, "orderNumber": 0},
        {"id": "i2", "title": "Eggs", "crossedOut": true, "images": [{"id": "m1", "data": "AQID"}]}
      ]
    },
    {"id": "l2", "name": "Chores"}
  ]
}`

const groceriesYAML = `
version: 1
lists:
  - id: l1
    name: Groceries
    orderNumber: 0
    createdAt: "2024-01-01T10:00:00Z"
    modifiedAt: "2024-01-02T10:00:00Z"
    items:
      - id: i1
        title: Milk
        quantity: 2
        orderNumber: 0
      - id: i2
        title: Eggs
        crossedOut: true
        images:
          - id: m1
            data: AQID
  - id: l2
    name: Chores
`

func TestDecode_JSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := Decode(strings.NewReader(groceriesJSON), FormatJSON)
	require.NoError(t, err)
	fromYAML, err := Decode(strings.NewReader(groceriesYAML), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)

	snap, err := fromJSON.ToSnapshot(now)
	require.NoError(t, err)
	idx := snap.Index()

	require.Len(t, snap.Lists, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), idx.Lists["l1"].ModifiedAt)
	assert.Equal(t, 1, idx.Lists["l2"].OrderNumber, "missing order follows document position")
	assert.Equal(t, now, idx.Lists["l2"].CreatedAt)

	assert.Equal(t, 2, idx.Items["i1"].Quantity)
	assert.Equal(t, 1, idx.Items["i2"].Quantity, "missing quantity defaults to 1")
	assert.Equal(t, 1, idx.Items["i2"].OrderNumber)
	assert.True(t, idx.Items["i2"].CrossedOut)
	assert.Equal(t, "l1", idx.Items["i2"].ListID)

	require.Contains(t, idx.Images, "m1")
	assert.Equal(t, []byte{1, 2, 3}, idx.Images["m1"].Data)
	assert.Equal(t, "i2", idx.Images["m1"].ItemID)
}

func TestDecode_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing lists", `{}`, "lists"},
		{"missing title", `{"lists":[{"name":"A","items":[{"quantity":1}]}]}`, "title"},
		{"zero quantity", `{"lists":[{"name":"A","items":[{"title":"x","quantity":0}]}]}`, "quantity"},
		{"name too long", `{"lists":[{"name":"` + strings.Repeat("n", 101) + `"}]}`, "name"},
		{"bad timestamp", `{"lists":[{"name":"A","createdAt":"yesterday"}]}`, "createdAt"},
		{"negative order", `{"lists":[{"name":"A","orderNumber":-1}]}`, "orderNumber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc), FormatJSON)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))

			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestDecode_MalformedInput(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"lists": [`), FormatJSON)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = Decode(strings.NewReader("lists: [unclosed"), FormatYAML)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = Decode(strings.NewReader(`{}`), Format("xml"))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestToSnapshot_SemanticValidation(t *testing.T) {
	doc := &Document{Lists: []List{
		{ID: "dup", Name: "A", Items: []Item{{ID: "dup", Title: "B"}}},
	}}
	_, err := doc.ToSnapshot(now)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Contains(t, err.Error(), "collides")
}

func TestToSnapshot_GeneratesIDs(t *testing.T) {
	doc := &Document{Lists: []List{{Name: "A", Items: []Item{{Title: "B"}}}}}
	snap, err := doc.ToSnapshot(now)
	require.NoError(t, err)
	assert.True(t, model.ValidID(snap.Lists[0].ID))
	assert.Equal(t, snap.Lists[0].ID, snap.Items[0].ListID)
}

func exportFixture() *model.Snapshot {
	t1 := time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC)
	return &model.Snapshot{
		Lists: []model.List{
			{ID: "l-b", Name: "Second", OrderNumber: 1, CreatedAt: t1, ModifiedAt: t1},
			{ID: "l-a", Name: "First", OrderNumber: 0, CreatedAt: t1, ModifiedAt: t1.Add(time.Hour)},
			{ID: "l-old", Name: "Old", OrderNumber: 0, CreatedAt: t1, ModifiedAt: t1, Archived: true},
		},
		Items: []model.Item{
			{ID: "i-2", ListID: "l-a", Title: "Two", Quantity: 3, OrderNumber: 1, CreatedAt: t1, ModifiedAt: t1},
			{ID: "i-1", ListID: "l-a", Title: "One", Description: "first", Quantity: 1, OrderNumber: 0, CrossedOut: true, CreatedAt: t1, ModifiedAt: t1},
		},
		Images: []model.Image{
			{ID: "m-1", ItemID: "i-1", Data: []byte{0xff, 0x00, 0x10}, OrderNumber: 0},
		},
	}
}

func sorted(s *model.Snapshot) *model.Snapshot {
	c := s.Clone()
	sort.Slice(c.Lists, func(i, j int) bool { return c.Lists[i].ID < c.Lists[j].ID })
	sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].ID < c.Items[j].ID })
	sort.Slice(c.Images, func(i, j int) bool { return c.Images[i].ID < c.Images[j].ID })
	return c
}

func TestExportRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			snap := exportFixture()
			doc := FromSnapshot(snap, now)

			require.Len(t, doc.Lists, 3)
			assert.Equal(t, "l-a", doc.Lists[0].ID, "active lists first, by order")
			assert.Equal(t, "l-old", doc.Lists[2].ID)
			assert.Equal(t, "i-1", doc.Lists[0].Items[0].ID)

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, doc, f))

			back, err := Decode(&buf, f)
			require.NoError(t, err)
			got, err := back.ToSnapshot(now)
			require.NoError(t, err)
			assert.Equal(t, sorted(snap), sorted(got))
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("lists.JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = FormatFromPath("/tmp/export.yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatFromPath("notes.txt")
	assert.Error(t, err)
}
