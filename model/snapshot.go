package model

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/google/uuid"
)

// Snapshot is a read-only, point-in-time copy of all entities from one side.
type Snapshot struct {
	Lists  []List  `json:"lists"`
	Items  []Item  `json:"items"`
	Images []Image `json:"images"`
}

// Clone deep-copies the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Lists:  append([]List(nil), s.Lists...),
		Items:  append([]Item(nil), s.Items...),
		Images: make([]Image, 0, len(s.Images)),
	}
	for _, im := range s.Images {
		out.Images = append(out.Images, im.Clone())
	}
	return out
}

// Equal reports whether both snapshots hold the same entities with the same
// field values. Slice order and time zones are ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	a, b := s.Index(), o.Index()
	if len(a.Lists) != len(b.Lists) || len(a.Items) != len(b.Items) || len(a.Images) != len(b.Images) {
		return false
	}
	for id, l := range a.Lists {
		m, ok := b.Lists[id]
		if !ok || l.Name != m.Name || l.OrderNumber != m.OrderNumber || l.Archived != m.Archived ||
			!l.CreatedAt.Equal(m.CreatedAt) || !l.ModifiedAt.Equal(m.ModifiedAt) {
			return false
		}
	}
	for id, it := range a.Items {
		m, ok := b.Items[id]
		if !ok || it.ListID != m.ListID || it.Title != m.Title || it.Description != m.Description ||
			it.Quantity != m.Quantity || it.OrderNumber != m.OrderNumber || it.CrossedOut != m.CrossedOut ||
			!it.CreatedAt.Equal(m.CreatedAt) || !it.ModifiedAt.Equal(m.ModifiedAt) {
			return false
		}
	}
	for id, im := range a.Images {
		m, ok := b.Images[id]
		if !ok || im.ItemID != m.ItemID || im.OrderNumber != m.OrderNumber || im.Digest() != m.Digest() {
			return false
		}
	}
	return true
}

// Index gives O(1) lookups by id and by parent.
type Index struct {
	Lists        map[string]List
	Items        map[string]Item
	Images       map[string]Image
	ItemsByList  map[string][]Item
	ImagesByItem map[string][]Image
}

// Index builds lookup tables. Children slices are sorted by order number,
// then id.
func (s *Snapshot) Index() *Index {
	idx := &Index{
		Lists:        make(map[string]List),
		Items:        make(map[string]Item),
		Images:       make(map[string]Image),
		ItemsByList:  make(map[string][]Item),
		ImagesByItem: make(map[string][]Image),
	}
	if s == nil {
		return idx
	}
	for _, l := range s.Lists {
		idx.Lists[l.ID] = l
	}
	for _, it := range s.Items {
		idx.Items[it.ID] = it
		idx.ItemsByList[it.ListID] = append(idx.ItemsByList[it.ListID], it)
	}
	for _, im := range s.Images {
		idx.Images[im.ID] = im
		idx.ImagesByItem[im.ItemID] = append(idx.ImagesByItem[im.ItemID], im)
	}
	for k := range idx.ItemsByList {
		SortByOrder(idx.ItemsByList[k])
	}
	for k := range idx.ImagesByItem {
		SortByOrder(idx.ImagesByItem[k])
	}
	return idx
}

// SortByOrder sorts entities by order number, then id.
func SortByOrder[T Entity](xs []T) {
	sort.SliceStable(xs, func(i, j int) bool {
		if xs[i].Order() != xs[j].Order() {
			return xs[i].Order() < xs[j].Order()
		}
		return xs[i].EntityID() < xs[j].EntityID()
	})
}

// ActiveLists returns the non-archived lists sorted by order number.
func (s *Snapshot) ActiveLists() []List {
	var out []List
	for _, l := range s.Lists {
		if !l.Archived {
			out = append(out, l)
		}
	}
	SortByOrder(out)
	return out
}

// Validate checks ids, parent references and field limits. It returns a
// *errors.ValidationError listing every problem, or nil.
func (s *Snapshot) Validate() error {
	var verr errors.ValidationError
	if s == nil {
		return nil
	}

	seen := make(map[string]string)
	claim := func(path, id string) {
		if id == "" {
			verr.Add(path+".id", "missing id")
			return
		}
		if prev, ok := seen[id]; ok {
			verr.Add(path+".id", "id %q collides with %s", id, prev)
			return
		}
		seen[id] = path
	}

	lists := make(map[string]bool, len(s.Lists))
	for i, l := range s.Lists {
		path := fmt.Sprintf("lists[%d]", i)
		claim(path, l.ID)
		lists[l.ID] = true
		if utf8.RuneCountInString(l.Name) > MaxListNameLength {
			verr.Add(path+".name", "longer than %d characters", MaxListNameLength)
		}
		if l.OrderNumber < 0 {
			verr.Add(path+".orderNumber", "must not be negative")
		}
	}

	items := make(map[string]bool, len(s.Items))
	for i, it := range s.Items {
		path := fmt.Sprintf("items[%d]", i)
		claim(path, it.ID)
		items[it.ID] = true
		if !lists[it.ListID] {
			verr.Add(path+".listId", "references unknown list %q", it.ListID)
		}
		if utf8.RuneCountInString(it.Title) > MaxItemTitleLength {
			verr.Add(path+".title", "longer than %d characters", MaxItemTitleLength)
		}
		if utf8.RuneCountInString(it.Description) > MaxItemDescriptionLength {
			verr.Add(path+".description", "longer than %d characters", MaxItemDescriptionLength)
		}
		if it.Quantity < MinItemQuantity {
			verr.Add(path+".quantity", "must be at least %d", MinItemQuantity)
		}
		if it.OrderNumber < 0 {
			verr.Add(path+".orderNumber", "must not be negative")
		}
	}

	for i, im := range s.Images {
		path := fmt.Sprintf("images[%d]", i)
		claim(path, im.ID)
		if !items[im.ItemID] {
			verr.Add(path+".itemId", "references unknown item %q", im.ItemID)
		}
		if im.OrderNumber < 0 {
			verr.Add(path+".orderNumber", "must not be negative")
		}
	}

	return verr.Err()
}

// ValidID reports whether id parses as a UUID. Import documents produced by
// other tools may use other id schemes, so this is advisory.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CheckDenseOrder verifies that every parent scope holds the contiguous
// sequence 0..n-1. Active lists form one scope, items are scoped by list and
// images by item.
func (s *Snapshot) CheckDenseOrder() error {
	var verr errors.ValidationError

	check := func(scope string, orders []int) {
		sort.Ints(orders)
		for i, o := range orders {
			if o != i {
				verr.Add(scope, "order numbers %v are not contiguous from 0", orders)
				return
			}
		}
	}

	var listOrders []int
	for _, l := range s.ActiveLists() {
		listOrders = append(listOrders, l.OrderNumber)
	}
	check("lists", listOrders)

	idx := s.Index()
	for listID, its := range idx.ItemsByList {
		orders := make([]int, 0, len(its))
		for _, it := range its {
			orders = append(orders, it.OrderNumber)
		}
		check("list "+listID, orders)
	}
	for itemID, ims := range idx.ImagesByItem {
		orders := make([]int, 0, len(ims))
		for _, im := range ims {
			orders = append(orders, im.OrderNumber)
		}
		check("item "+itemID, orders)
	}
	return verr.Err()
}

// CheckParents verifies that no item or image is orphaned.
func (s *Snapshot) CheckParents() error {
	var verr errors.ValidationError
	idx := s.Index()
	for _, it := range s.Items {
		if _, ok := idx.Lists[it.ListID]; !ok {
			verr.Add("item "+it.ID, "orphaned: list %q does not exist", it.ListID)
		}
	}
	for _, im := range s.Images {
		if _, ok := idx.Items[im.ItemID]; !ok {
			verr.Add("image "+im.ID, "orphaned: item %q does not exist", im.ItemID)
		}
	}
	return verr.Err()
}
