package reconcile

import (
	"sort"
	"strings"

	"github.com/c0deZ3R0/listsync/model"
)

// Diffed field names.
const (
	FieldName        = "name"
	FieldArchived    = "archived"
	FieldOrderNumber = "orderNumber"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldQuantity    = "quantity"
	FieldCrossedOut  = "crossedOut"
	FieldListID      = "listId"
	FieldImages      = "images"

	// FieldModifiedAt only appears in operations that move the timestamp
	// of an entity whose content is unchanged.
	FieldModifiedAt = "modifiedAt"
)

// FieldChange is a single field whose value differs between the two sides.
// Baseline is meaningful only when HasBaseline is set.
type FieldChange struct {
	Field       string
	Local       any
	Incoming    any
	Baseline    any
	HasBaseline bool
}

type fieldGetter[T any] struct {
	name string
	get  func(T) any
}

var listFields = []fieldGetter[model.List]{
	{FieldName, func(l model.List) any { return l.Name }},
	{FieldArchived, func(l model.List) any { return l.Archived }},
	{FieldOrderNumber, func(l model.List) any { return l.OrderNumber }},
}

var itemFields = []fieldGetter[model.Item]{
	{FieldTitle, func(i model.Item) any { return i.Title }},
	{FieldDescription, func(i model.Item) any { return i.Description }},
	{FieldQuantity, func(i model.Item) any { return i.Quantity }},
	{FieldCrossedOut, func(i model.Item) any { return i.CrossedOut }},
	{FieldListID, func(i model.Item) any { return i.ListID }},
	{FieldOrderNumber, func(i model.Item) any { return i.OrderNumber }},
}

func diff[T any](fields []fieldGetter[T], local, incoming T, baseline *T) []FieldChange {
	var out []FieldChange
	for _, f := range fields {
		lv, iv := f.get(local), f.get(incoming)
		if lv == iv {
			continue
		}
		fc := FieldChange{Field: f.name, Local: lv, Incoming: iv}
		if baseline != nil {
			fc.Baseline = f.get(*baseline)
			fc.HasBaseline = true
		}
		out = append(out, fc)
	}
	return out
}

// DiffLists returns the differing fields of a matched list pair in a fixed
// field order. baseline may be nil.
func DiffLists(local, incoming model.List, baseline *model.List) []FieldChange {
	return diff(listFields, local, incoming, baseline)
}

// DiffItems returns the differing fields of a matched item pair.
func DiffItems(local, incoming model.Item, baseline *model.Item) []FieldChange {
	return diff(itemFields, local, incoming, baseline)
}

// ImageSetSignature identifies an item's image set by member ids and payload
// digests. Display order is not part of the signature; it is handled by
// renumbering.
func ImageSetSignature(images []model.Image) string {
	parts := make([]string, 0, len(images))
	for _, im := range images {
		parts = append(parts, im.ID+"="+im.Digest())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// DiffImageSets compares the image sets attached to one item. It returns nil
// when both sides hold the same set. baseline is nil when no common state is
// known.
func DiffImageSets(local, incoming []model.Image, baseline []model.Image, hasBaseline bool) *FieldChange {
	ls, is := ImageSetSignature(local), ImageSetSignature(incoming)
	if ls == is {
		return nil
	}
	fc := &FieldChange{Field: FieldImages, Local: ls, Incoming: is}
	if hasBaseline {
		fc.Baseline = ImageSetSignature(baseline)
		fc.HasBaseline = true
	}
	return fc
}

// listContentChanged reports whether any user-visible field differs.
// Order numbers are positional and excluded.
func listContentChanged(a, b model.List) bool {
	return a.Name != b.Name || a.Archived != b.Archived
}

func itemContentChanged(a, b model.Item) bool {
	return a.Title != b.Title || a.Description != b.Description || a.Quantity != b.Quantity ||
		a.CrossedOut != b.CrossedOut || a.ListID != b.ListID
}
