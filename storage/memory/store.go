// Package memory is an in-memory store.Store. Transactions work on a copy
// of the state that replaces the committed state only when the
// transaction function succeeds.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/store"
)

const component = "storage/memory"

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithFault installs a hook called before every write. A non-nil error
// fails the write. Tests use it to simulate storage failures.
func WithFault(fn func(op string, id string) error) Option {
	return func(s *Store) {
		s.fault = fn
	}
}

// Store keeps all entities in maps guarded by a single writer lock.
type Store struct {
	mu     sync.RWMutex
	write  sync.Mutex
	state  *state
	closed bool

	*store.Notifier
	logger *slog.Logger
	fault  func(op, id string) error
}

type state struct {
	lists  map[string]model.List
	items  map[string]model.Item
	images map[string]model.Image
}

func newState() *state {
	return &state{
		lists:  make(map[string]model.List),
		items:  make(map[string]model.Item),
		images: make(map[string]model.Image),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.lists {
		out.lists[k] = v
	}
	for k, v := range st.items {
		out.items[k] = v
	}
	for k, v := range st.images {
		out.images[k] = v.Clone()
	}
	return out
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{state: newState()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger, component)
	s.Notifier = store.NewNotifier(s.logger)
	return s
}

// NewFromSnapshot creates a Store holding a copy of snap.
func NewFromSnapshot(snap *model.Snapshot, opts ...Option) *Store {
	s := New(opts...)
	if snap == nil {
		return s
	}
	for _, l := range snap.Lists {
		s.state.lists[l.ID] = l
	}
	for _, it := range snap.Items {
		s.state.items[it.ID] = it
	}
	for _, im := range snap.Images {
		s.state.images[im.ID] = im.Clone()
	}
	return s
}

// Snapshot implements store.Store.
func (s *Store) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled(errors.OpSnapshot, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorageError(errors.OpSnapshot, fmt.Errorf("%s: store closed", component))
	}
	return s.state.snapshot(), nil
}

func (st *state) snapshot() *model.Snapshot {
	out := &model.Snapshot{
		Lists:  make([]model.List, 0, len(st.lists)),
		Items:  make([]model.Item, 0, len(st.items)),
		Images: make([]model.Image, 0, len(st.images)),
	}
	for _, l := range st.lists {
		out.Lists = append(out.Lists, l)
	}
	for _, it := range st.items {
		out.Items = append(out.Items, it)
	}
	for _, im := range st.images {
		out.Images = append(out.Images, im.Clone())
	}
	sort.Slice(out.Lists, func(i, j int) bool { return out.Lists[i].ID < out.Lists[j].ID })
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
	sort.Slice(out.Images, func(i, j int) bool { return out.Images[i].ID < out.Images[j].ID })
	return out
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.write.Lock()
	defer s.write.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.NewStorageError(errors.OpStore, fmt.Errorf("%s: store closed", component))
	}
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: work, fault: s.fault}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	s.Notify(store.OriginLocal)
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tx struct {
	st    *state
	fault func(op, id string) error
}

func (t *tx) check(op, id string) error {
	if t.fault != nil {
		return t.fault(op, id)
	}
	return nil
}

func (t *tx) PutList(_ context.Context, l model.List) error {
	if err := t.check("PutList", l.ID); err != nil {
		return err
	}
	t.st.lists[l.ID] = l
	return nil
}

func (t *tx) PutItem(_ context.Context, it model.Item) error {
	if err := t.check("PutItem", it.ID); err != nil {
		return err
	}
	if _, ok := t.st.lists[it.ListID]; !ok {
		return fmt.Errorf("item %s: list %s does not exist", it.ID, it.ListID)
	}
	t.st.items[it.ID] = it
	return nil
}

func (t *tx) PutImage(_ context.Context, im model.Image) error {
	if err := t.check("PutImage", im.ID); err != nil {
		return err
	}
	if _, ok := t.st.items[im.ItemID]; !ok {
		return fmt.Errorf("image %s: item %s does not exist", im.ID, im.ItemID)
	}
	t.st.images[im.ID] = im.Clone()
	return nil
}

func (t *tx) SetOrder(_ context.Context, kind model.Kind, id string, order int) error {
	if err := t.check("SetOrder", id); err != nil {
		return err
	}
	switch kind {
	case model.KindList:
		l, ok := t.st.lists[id]
		if !ok {
			return fmt.Errorf("list %s does not exist", id)
		}
		l.OrderNumber = order
		t.st.lists[id] = l
	case model.KindItem:
		it, ok := t.st.items[id]
		if !ok {
			return fmt.Errorf("item %s does not exist", id)
		}
		it.OrderNumber = order
		t.st.items[id] = it
	case model.KindImage:
		im, ok := t.st.images[id]
		if !ok {
			return fmt.Errorf("image %s does not exist", id)
		}
		im.OrderNumber = order
		t.st.images[id] = im
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	return nil
}

func (t *tx) DeleteList(_ context.Context, id string) error {
	if err := t.check("DeleteList", id); err != nil {
		return err
	}
	for itemID, it := range t.st.items {
		if it.ListID == id {
			t.deleteItem(itemID)
		}
	}
	delete(t.st.lists, id)
	return nil
}

func (t *tx) DeleteItem(_ context.Context, id string) error {
	if err := t.check("DeleteItem", id); err != nil {
		return err
	}
	t.deleteItem(id)
	return nil
}

func (t *tx) deleteItem(id string) {
	for imageID, im := range t.st.images {
		if im.ItemID == id {
			delete(t.st.images, imageID)
		}
	}
	delete(t.st.items, id)
}

func (t *tx) DeleteImage(_ context.Context, id string) error {
	if err := t.check("DeleteImage", id); err != nil {
		return err
	}
	delete(t.st.images, id)
	return nil
}
