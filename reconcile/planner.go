package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
)

// Request describes one reconciliation run.
type Request struct {
	Mode     Mode
	Local    *model.Snapshot
	Incoming *model.Snapshot

	// Baseline is the last state both sides agreed on. It is only used in
	// ModeSync; nil means no common state is known.
	Baseline *model.Snapshot

	// Strategy defaults to LastWriteWins.
	Strategy Strategy

	// MergeMode applies to ModeImport and defaults to MergeModeMerge.
	MergeMode MergeMode
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerLogger sets the planner's logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) PlannerOption {
	return func(p *Planner) {
		p.onState = fn
	}
}

// Planner turns two snapshots into a MergePlan. It never touches a store
// and is safe for concurrent use.
type Planner struct {
	logger  *slog.Logger
	onState func(State)
}

// NewPlanner creates a Planner.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger, "planner")
	return p
}

// Plan computes the merge plan for req. It fails only on malformed input,
// with a validation error, or when a blocking strategy is cancelled.
func (p *Planner) Plan(ctx context.Context, req Request) (*MergePlan, error) {
	r, err := p.newRun(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.plan()
}

// Resume re-plans req with user decisions. Conflicts without a decision go
// to req.Strategy; those it would leave to the user fall back to
// LastWriteWins.
func (p *Planner) Resume(ctx context.Context, req Request, decisions map[string]Side) (*MergePlan, error) {
	fallback := req.Strategy
	switch fallback.(type) {
	case nil, *UserChoice, decided:
		fallback = LastWriteWins{}
	}
	req.Strategy = decided{decisions: decisions, fallback: fallback}
	return p.Plan(ctx, req)
}

func (p *Planner) transition(s State) {
	p.logger.Debug("planner state", slog.String("state", string(s)))
	if p.onState != nil {
		p.onState(s)
	}
}

type run struct {
	p        *Planner
	ctx      context.Context
	mode     Mode
	merge    MergeMode
	strategy Strategy

	local, incoming, base *model.Index

	lists  map[string]model.List
	items  map[string]model.Item
	images map[string]model.Image

	restoredLists map[string]bool
	conflicts     []ResolvedConflict
}

func (p *Planner) newRun(ctx context.Context, req Request) (*run, error) {
	p.transition(StateCollecting)

	local, incoming := req.Local, req.Incoming
	if local == nil {
		local = &model.Snapshot{}
	}
	if incoming == nil {
		incoming = &model.Snapshot{}
	}
	var verr errors.ValidationError
	for name, s := range map[string]*model.Snapshot{"local": local, "incoming": incoming} {
		var v *errors.ValidationError
		if err := s.Validate(); errors.As(err, &v) {
			for _, is := range v.Issues {
				verr.Add(name+"."+is.Path, "%s", is.Message)
			}
		}
	}
	checkKindCollisions(&verr, local, incoming)
	if err := verr.Err(); err != nil {
		sort.Slice(verr.Issues, func(i, j int) bool { return verr.Issues[i].Path < verr.Issues[j].Path })
		return nil, errors.NewValidationError(errors.OpPlan, err)
	}

	r := &run{
		p:             p,
		ctx:           ctx,
		mode:          req.Mode,
		merge:         req.MergeMode,
		strategy:      req.Strategy,
		local:         local.Index(),
		incoming:      incoming.Index(),
		lists:         make(map[string]model.List),
		items:         make(map[string]model.Item),
		images:        make(map[string]model.Image),
		restoredLists: make(map[string]bool),
	}
	if r.mode == "" {
		r.mode = ModeSync
	}
	if r.merge == "" {
		r.merge = MergeModeMerge
	}
	if r.strategy == nil {
		r.strategy = LastWriteWins{}
	}
	if r.mode == ModeSync && req.Baseline != nil {
		r.base = req.Baseline.Index()
	} else {
		r.base = (*model.Snapshot)(nil).Index()
	}
	return r, nil
}

// checkKindCollisions rejects ids used for different entity kinds on the
// two sides.
func checkKindCollisions(verr *errors.ValidationError, local, incoming *model.Snapshot) {
	kinds := make(map[string]model.Kind)
	for _, l := range local.Lists {
		kinds[l.ID] = model.KindList
	}
	for _, it := range local.Items {
		kinds[it.ID] = model.KindItem
	}
	for _, im := range local.Images {
		kinds[im.ID] = model.KindImage
	}
	check := func(e model.Entity) {
		if k, ok := kinds[e.EntityID()]; ok && k != e.EntityKind() {
			verr.Add("incoming."+string(e.EntityKind()), "id %q is a local %s", e.EntityID(), k)
		}
	}
	for _, l := range incoming.Lists {
		check(l)
	}
	for _, it := range incoming.Items {
		check(it)
	}
	for _, im := range incoming.Images {
		check(im)
	}
}

func (r *run) plan() (*MergePlan, error) {
	r.p.transition(StateDiffing)
	listPairs := Match(sortedLists(r.local), sortedLists(r.incoming))
	itemPairs := Match(sortedItems(r.local), sortedItems(r.incoming))

	r.p.transition(StateClassifying)
	for _, pair := range listPairs {
		if err := r.planList(pair); err != nil {
			return nil, err
		}
	}
	for _, pair := range itemPairs {
		if err := r.planItem(pair); err != nil {
			return nil, err
		}
	}
	r.pruneItems()
	if err := r.planImages(); err != nil {
		return nil, err
	}

	plan := &MergePlan{
		Mode:      r.mode,
		Strategy:  r.strategy.Name(),
		Conflicts: r.conflicts,
	}
	if plan.NeedsUserInput() {
		plan.State = StateNeedsUserInput
	} else {
		plan.State = StateReady
	}
	r.p.transition(plan.State)

	r.renumber()
	plan.Operations = r.operations()
	plan.Result = r.result()
	if plan.State == StateReady {
		plan.State = StatePlanned
		r.p.transition(StatePlanned)
	}

	r.p.logger.Debug("plan computed",
		slog.String("mode", string(r.mode)),
		slog.String("strategy", plan.Strategy),
		slog.Int("operations", len(plan.Operations)),
		slog.Int("conflict_count", len(plan.Conflicts)),
		slog.Int("pending", len(plan.Pending())),
	)
	return plan, nil
}

// resolve runs the strategy. Pending conflicts provisionally keep the
// local value.
func (r *run) resolve(c Conflict) (Side, error) {
	if err := r.ctx.Err(); err != nil {
		return "", errors.NewCancelled(errors.OpPlan, err)
	}
	res, err := r.strategy.Resolve(r.ctx, c)
	if err != nil {
		return "", err
	}
	r.conflicts = append(r.conflicts, ResolvedConflict{Conflict: c, Resolution: res})
	if res.Pending {
		return SideLocal, nil
	}
	return res.Winner, nil
}

// pendingSince reports whether a conflict recorded at or after index mark
// still waits for a decision.
func (r *run) pendingSince(mark int) bool {
	for _, rc := range r.conflicts[mark:] {
		if rc.Resolution.Pending {
			return true
		}
	}
	return false
}

// Lists

func (r *run) planList(pair Pair[model.List]) error {
	switch pair.Kind {
	case Matched:
		return r.mergeList(*pair.Local, *pair.Incoming)
	case LocalOnly:
		return r.localOnlyList(*pair.Local)
	default:
		return r.incomingOnlyList(*pair.Incoming)
	}
}

func (r *run) mergeList(l, in model.List) error {
	var base *model.List
	if b, ok := r.base.Lists[l.ID]; ok {
		base = &b
	}

	target, mark := l, len(r.conflicts)
	for _, fc := range DiffLists(l, in, base) {
		outcome := Classify(fc)

		if fc.Field == FieldArchived && base != nil {
			archiver := SideLocal
			if outcome == IncomingChanged {
				archiver = SideIncoming
			}
			if archived, _ := r.pick(archiver, fc).(bool); archived {
				won, handled, err := r.archiveAgainstChildren(l, in, archiver)
				if err != nil {
					return err
				}
				if handled {
					target.Archived = won == archiver
					continue
				}
			}
		}

		switch outcome {
		case IncomingChanged:
			setListField(&target, in, fc.Field)
		case Conflicting:
			kind, ok := conflictKindFor(model.KindList, fc.Field)
			if !ok {
				continue
			}
			side, err := r.resolve(newFieldConflict(kind, l, fc, l.ModifiedAt, in.ModifiedAt))
			if err != nil {
				return err
			}
			if side == SideIncoming {
				setListField(&target, in, fc.Field)
			}
		}
	}

	// Content held back by a pending conflict is not overwritten yet.
	target.ModifiedAt = mergedAt(l.ModifiedAt, in.ModifiedAt,
		!listContentChanged(target, l), !listContentChanged(target, in) || r.pendingSince(mark))
	r.lists[l.ID] = target
	return nil
}

// archiveAgainstChildren detects a list archived on one side while the other
// side added or changed items in it. It is resolved as a deletion conflict.
func (r *run) archiveAgainstChildren(l, in model.List, archiver Side) (Side, bool, error) {
	other := r.incoming
	archivedAt := l.ModifiedAt
	if archiver == SideIncoming {
		other = r.local
		archivedAt = in.ModifiedAt
	}
	childAt, active := r.childActivity(other, l.ID)
	if !active {
		return "", false, nil
	}

	localAt, incomingAt := archivedAt, childAt
	if archiver == SideIncoming {
		localAt, incomingAt = childAt, archivedAt
	}
	c := newDeleteConflict(l, archiver, localAt, incomingAt, "archived while items were added")
	c.ID = conflictID(model.KindList, l.ID, FieldArchived)
	side, err := r.resolve(c)
	if err != nil {
		return "", false, err
	}
	return side, true, nil
}

func (r *run) localOnlyList(l model.List) error {
	if r.mode == ModeImport {
		if r.merge == MergeModeReplace && !l.Archived {
			l.Archived = true
			l.ModifiedAt = l.ModifiedAt.Add(time.Millisecond)
		}
		r.lists[l.ID] = l
		return nil
	}

	base, inBase := r.base.Lists[l.ID]
	if !inBase {
		r.lists[l.ID] = l
		return nil
	}

	childAt, active := r.childActivity(r.local, l.ID)
	if !listContentChanged(l, base) && !active {
		return nil
	}
	c := newDeleteConflict(l, SideIncoming, latest(l.ModifiedAt, childAt), base.ModifiedAt, "")
	side, err := r.resolve(c)
	if err != nil {
		return err
	}
	if side == SideLocal {
		r.lists[l.ID] = l
		r.restoredLists[l.ID] = true
	}
	return nil
}

func (r *run) incomingOnlyList(in model.List) error {
	base, inBase := r.base.Lists[in.ID]
	if r.mode == ModeImport || !inBase {
		r.lists[in.ID] = in
		return nil
	}

	childAt, active := r.childActivity(r.incoming, in.ID)
	if !listContentChanged(in, base) && !active {
		return nil
	}
	c := newDeleteConflict(in, SideLocal, base.ModifiedAt, latest(in.ModifiedAt, childAt), "")
	side, err := r.resolve(c)
	if err != nil {
		return err
	}
	if side == SideIncoming {
		r.lists[in.ID] = in
		r.restoredLists[in.ID] = true
	}
	return nil
}

// childActivity returns the latest modification among the items side holds
// under listID that are new or changed since the baseline.
func (r *run) childActivity(side *model.Index, listID string) (time.Time, bool) {
	var at time.Time
	found := false
	for _, it := range side.ItemsByList[listID] {
		if b, ok := r.base.Items[it.ID]; ok && !itemContentChanged(it, b) && !r.imagesChangedSinceBase(side, it.ID) {
			continue
		}
		found = true
		at = latest(at, it.ModifiedAt)
	}
	return at, found
}

func (r *run) imagesChangedSinceBase(side *model.Index, itemID string) bool {
	return ImageSetSignature(side.ImagesByItem[itemID]) != ImageSetSignature(r.base.ImagesByItem[itemID])
}

func setListField(dst *model.List, src model.List, field string) {
	switch field {
	case FieldName:
		dst.Name = src.Name
	case FieldArchived:
		dst.Archived = src.Archived
	case FieldOrderNumber:
		dst.OrderNumber = src.OrderNumber
	}
}

// Items

func (r *run) planItem(pair Pair[model.Item]) error {
	switch pair.Kind {
	case Matched:
		return r.mergeItem(*pair.Local, *pair.Incoming)
	case LocalOnly:
		return r.localOnlyItem(*pair.Local)
	default:
		return r.incomingOnlyItem(*pair.Incoming)
	}
}

func (r *run) mergeItem(l, in model.Item) error {
	var base *model.Item
	if b, ok := r.base.Items[l.ID]; ok {
		base = &b
	}

	target, mark := l, len(r.conflicts)
	for _, fc := range DiffItems(l, in, base) {
		switch Classify(fc) {
		case IncomingChanged:
			setItemField(&target, in, fc.Field)
		case Conflicting:
			kind, ok := conflictKindFor(model.KindItem, fc.Field)
			if !ok {
				continue
			}
			side, err := r.resolve(newFieldConflict(kind, l, fc, l.ModifiedAt, in.ModifiedAt))
			if err != nil {
				return err
			}
			if side == SideIncoming {
				setItemField(&target, in, fc.Field)
			}
		}
	}

	// Content held back by a pending conflict is not overwritten yet.
	target.ModifiedAt = mergedAt(l.ModifiedAt, in.ModifiedAt,
		!itemContentChanged(target, l), !itemContentChanged(target, in) || r.pendingSince(mark))
	r.items[l.ID] = target
	return nil
}

func (r *run) localOnlyItem(it model.Item) error {
	if r.mode == ModeImport {
		_, listInDoc := r.incoming.Lists[it.ListID]
		if r.merge == MergeModeReplace && listInDoc {
			return nil
		}
		r.items[it.ID] = it
		return nil
	}

	base, inBase := r.base.Items[it.ID]
	if !inBase || r.restoredLists[it.ListID] {
		r.items[it.ID] = it
		return nil
	}
	if !itemContentChanged(it, base) && !r.imagesChangedSinceBase(r.local, it.ID) {
		return nil
	}
	c := newDeleteConflict(it, SideIncoming, it.ModifiedAt, base.ModifiedAt, "")
	side, err := r.resolve(c)
	if err != nil {
		return err
	}
	if side == SideLocal {
		r.items[it.ID] = it
	}
	return nil
}

func (r *run) incomingOnlyItem(in model.Item) error {
	base, inBase := r.base.Items[in.ID]
	if r.mode == ModeImport || !inBase || r.restoredLists[in.ListID] {
		r.items[in.ID] = in
		return nil
	}
	if !itemContentChanged(in, base) && !r.imagesChangedSinceBase(r.incoming, in.ID) {
		return nil
	}
	c := newDeleteConflict(in, SideLocal, base.ModifiedAt, in.ModifiedAt, "")
	side, err := r.resolve(c)
	if err != nil {
		return err
	}
	if side == SideIncoming {
		r.items[in.ID] = in
	}
	return nil
}

// pruneItems keeps every item attached to a surviving list. A moved item
// whose destination did not survive returns to its local list; otherwise
// it goes with its parent.
func (r *run) pruneItems() {
	for id, it := range r.items {
		if _, ok := r.lists[it.ListID]; ok {
			continue
		}
		if l, ok := r.local.Items[id]; ok {
			if _, ok := r.lists[l.ListID]; ok {
				it.ListID = l.ListID
				r.items[id] = it
				continue
			}
		}
		delete(r.items, id)
	}
}

func setItemField(dst *model.Item, src model.Item, field string) {
	switch field {
	case FieldTitle:
		dst.Title = src.Title
	case FieldDescription:
		dst.Description = src.Description
	case FieldQuantity:
		dst.Quantity = src.Quantity
	case FieldCrossedOut:
		dst.CrossedOut = src.CrossedOut
	case FieldListID:
		dst.ListID = src.ListID
	case FieldOrderNumber:
		dst.OrderNumber = src.OrderNumber
	}
}

// Images

// planImages chooses an image set per surviving item. Sets are compared as
// a whole; payloads are compared by digest only.
func (r *run) planImages() error {
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		li, inLocal := r.local.Items[id]
		ii, inIncoming := r.incoming.Items[id]

		var chosen []model.Image
		switch {
		case inLocal && inIncoming:
			set, err := r.mergeImageSet(li, ii)
			if err != nil {
				return err
			}
			chosen = set
		case inLocal:
			chosen = r.local.ImagesByItem[id]
		default:
			chosen = r.incoming.ImagesByItem[id]
		}
		for _, im := range chosen {
			im.ItemID = id
			r.images[im.ID] = im
		}
	}
	return nil
}

func (r *run) mergeImageSet(l, in model.Item) ([]model.Image, error) {
	ls, is := r.local.ImagesByItem[l.ID], r.incoming.ImagesByItem[l.ID]

	// Import documents commonly carry no images; that is not a deletion.
	if r.mode == ModeImport && len(is) == 0 {
		return ls, nil
	}
	if r.mode == ModeImport && r.merge == MergeModeReplace {
		return is, nil
	}

	_, hasBase := r.base.Items[l.ID]
	fc := DiffImageSets(ls, is, r.base.ImagesByItem[l.ID], hasBase)
	if fc == nil {
		return ls, nil
	}
	switch Classify(*fc) {
	case IncomingChanged:
		return is, nil
	case LocalChanged:
		return ls, nil
	}
	c := newFieldConflict(ImageSetChanged, l, *fc, l.ModifiedAt, in.ModifiedAt)
	c.CurrentValue, c.IncomingValue = len(ls), len(is)
	if fc.HasBaseline {
		c.BaselineValue = len(r.base.ImagesByItem[l.ID])
	}
	side, err := r.resolve(c)
	if err != nil {
		return nil, err
	}
	if side == SideIncoming {
		return is, nil
	}
	return ls, nil
}

// Ordering

func (r *run) renumber() {
	tie := keptSide(r.strategy)
	members := make(map[string]bool)
	for id, l := range r.lists {
		if !l.Archived {
			members[id] = true
		}
	}
	order := renumber(r.mode, tie, members,
		newScopeSide(activeLists(r.local), time.Time{}),
		newScopeSide(activeLists(r.incoming), time.Time{}))
	for id, n := range order {
		l := r.lists[id]
		l.OrderNumber = n
		r.lists[id] = l
	}

	itemScopes := make(map[string]map[string]bool)
	for id, it := range r.items {
		if itemScopes[it.ListID] == nil {
			itemScopes[it.ListID] = make(map[string]bool)
		}
		itemScopes[it.ListID][id] = true
	}
	for listID, members := range itemScopes {
		order := renumber(r.mode, tie, members,
			newScopeSide(r.local.ItemsByList[listID], time.Time{}),
			newScopeSide(r.incoming.ItemsByList[listID], time.Time{}))
		for id, n := range order {
			it := r.items[id]
			it.OrderNumber = n
			r.items[id] = it
		}
	}

	imageScopes := make(map[string]map[string]bool)
	for id, im := range r.images {
		if imageScopes[im.ItemID] == nil {
			imageScopes[im.ItemID] = make(map[string]bool)
		}
		imageScopes[im.ItemID][id] = true
	}
	for itemID, members := range imageScopes {
		order := renumber(r.mode, tie, members,
			newScopeSide(r.local.ImagesByItem[itemID], r.local.Items[itemID].ModifiedAt),
			newScopeSide(r.incoming.ImagesByItem[itemID], r.incoming.Items[itemID].ModifiedAt))
		for id, n := range order {
			im := r.images[id]
			im.OrderNumber = n
			r.images[id] = im
		}
	}
}

// Operations

func (r *run) orderedLists() []model.List {
	out := make([]model.List, 0, len(r.lists))
	for _, l := range r.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Archived != out[j].Archived {
			return !out[i].Archived
		}
		if out[i].OrderNumber != out[j].OrderNumber {
			return out[i].OrderNumber < out[j].OrderNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// children groups the merged items by list and images by item, each sorted
// by order number.
func (r *run) children() (map[string][]model.Item, map[string][]model.Image) {
	items := make(map[string][]model.Item)
	for _, it := range r.items {
		items[it.ListID] = append(items[it.ListID], it)
	}
	for k := range items {
		model.SortByOrder(items[k])
	}
	images := make(map[string][]model.Image)
	for _, im := range r.images {
		images[im.ItemID] = append(images[im.ItemID], im)
	}
	for k := range images {
		model.SortByOrder(images[k])
	}
	return items, images
}

func (r *run) operations() []Operation {
	var ops, reorders, deletes []Operation
	lists := r.orderedLists()
	itemsOf, imagesOf := r.children()

	for _, l := range lists {
		cur, ok := r.local.Lists[l.ID]
		if !ok {
			ops = append(ops, listOp(OpCreate, l, nil))
			continue
		}
		fields := changedListFields(cur, l)
		if positional(fields) && !cur.ModifiedAt.Equal(l.ModifiedAt) {
			fields = append(fields, FieldModifiedAt)
		}
		switch {
		case cur.Archived != l.Archived:
			kind := OpArchive
			if !l.Archived {
				kind = OpRestore
			}
			ops = append(ops, listOp(kind, l, fields))
		case len(fields) == 1 && fields[0] == FieldOrderNumber:
			reorders = append(reorders, listOp(OpReorder, l, fields))
		case len(fields) > 0:
			ops = append(ops, listOp(OpUpdate, l, fields))
		}
	}

	var itemOrder []model.Item
	for _, l := range lists {
		for _, it := range itemsOf[l.ID] {
			itemOrder = append(itemOrder, it)
			cur, ok := r.local.Items[it.ID]
			if !ok {
				ops = append(ops, itemOp(OpCreate, it, nil))
				continue
			}
			fields := changedItemFields(cur, it)
			if positional(fields) && !cur.ModifiedAt.Equal(it.ModifiedAt) {
				fields = append(fields, FieldModifiedAt)
			}
			switch {
			case len(fields) == 1 && fields[0] == FieldOrderNumber:
				reorders = append(reorders, itemOp(OpReorder, it, fields))
			case len(fields) > 0:
				ops = append(ops, itemOp(OpUpdate, it, fields))
			}
		}
	}
	for _, cur := range sortedItems(r.local) {
		if _, kept := r.items[cur.ID]; kept {
			continue
		}
		if _, parentKept := r.lists[cur.ListID]; parentKept {
			ops = append(ops, itemOp(OpDelete, cur, nil))
		}
	}

	for _, it := range itemOrder {
		for _, im := range imagesOf[it.ID] {
			cur, ok := r.local.Images[im.ID]
			switch {
			case !ok:
				ops = append(ops, imageOp(OpCreate, im, nil))
			case cur.ItemID != im.ItemID || cur.Digest() != im.Digest():
				fields := []string{"data"}
				if cur.OrderNumber != im.OrderNumber {
					fields = append(fields, FieldOrderNumber)
				}
				ops = append(ops, imageOp(OpUpdate, im, fields))
			case cur.OrderNumber != im.OrderNumber:
				reorders = append(reorders, imageOp(OpReorder, im, []string{FieldOrderNumber}))
			}
		}
	}
	for _, cur := range sortedImages(r.local) {
		if _, kept := r.images[cur.ID]; kept {
			continue
		}
		if _, parentKept := r.items[cur.ItemID]; parentKept {
			ops = append(ops, imageOp(OpDelete, cur, nil))
		}
	}

	for _, cur := range sortedLists(r.local) {
		if _, kept := r.lists[cur.ID]; !kept {
			deletes = append(deletes, listOp(OpDelete, cur, nil))
		}
	}

	ops = append(ops, deletes...)
	return append(ops, reorders...)
}

func (r *run) result() *model.Snapshot {
	out := &model.Snapshot{}
	itemsOf, imagesOf := r.children()
	for _, l := range r.orderedLists() {
		out.Lists = append(out.Lists, l)
		for _, it := range itemsOf[l.ID] {
			out.Items = append(out.Items, it)
			out.Images = append(out.Images, imagesOf[it.ID]...)
		}
	}
	return out
}

// positional reports whether fields holds no content field.
func positional(fields []string) bool {
	return len(fields) == 0 || (len(fields) == 1 && fields[0] == FieldOrderNumber)
}

func changedListFields(cur, next model.List) []string {
	var fields []string
	for _, fc := range DiffLists(cur, next, nil) {
		fields = append(fields, fc.Field)
	}
	return fields
}

func changedItemFields(cur, next model.Item) []string {
	var fields []string
	for _, fc := range DiffItems(cur, next, nil) {
		fields = append(fields, fc.Field)
	}
	return fields
}

func listOp(kind OpKind, l model.List, fields []string) Operation {
	return Operation{
		Kind:        kind,
		Entity:      model.KindList,
		ID:          l.ID,
		List:        &l,
		Fields:      fields,
		OrderNumber: l.OrderNumber,
		ModifiedAt:  l.ModifiedAt,
		Description: describe(kind, l),
	}
}

func itemOp(kind OpKind, it model.Item, fields []string) Operation {
	return Operation{
		Kind:        kind,
		Entity:      model.KindItem,
		ID:          it.ID,
		ParentID:    it.ListID,
		Item:        &it,
		Fields:      fields,
		OrderNumber: it.OrderNumber,
		ModifiedAt:  it.ModifiedAt,
		Description: describe(kind, it),
	}
}

func imageOp(kind OpKind, im model.Image, fields []string) Operation {
	return Operation{
		Kind:        kind,
		Entity:      model.KindImage,
		ID:          im.ID,
		ParentID:    im.ItemID,
		Image:       &im,
		Fields:      fields,
		OrderNumber: im.OrderNumber,
		Description: describe(kind, im),
	}
}

// Helpers

func sortedLists(idx *model.Index) []model.List {
	out := make([]model.List, 0, len(idx.Lists))
	for _, l := range idx.Lists {
		out = append(out, l)
	}
	model.SortByOrder(out)
	return out
}

func sortedItems(idx *model.Index) []model.Item {
	out := make([]model.Item, 0, len(idx.Items))
	for _, it := range idx.Items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ListID != out[j].ListID {
			return out[i].ListID < out[j].ListID
		}
		if out[i].OrderNumber != out[j].OrderNumber {
			return out[i].OrderNumber < out[j].OrderNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func activeLists(idx *model.Index) []model.List {
	var out []model.List
	for _, l := range sortedLists(idx) {
		if !l.Archived {
			out = append(out, l)
		}
	}
	return out
}

func sortedImages(idx *model.Index) []model.Image {
	out := make([]model.Image, 0, len(idx.Images))
	for _, im := range idx.Images {
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// pick returns the value fc holds for side.
func (r *run) pick(side Side, fc FieldChange) any {
	if side == SideLocal {
		return fc.Local
	}
	return fc.Incoming
}

// mergedAt returns the modification time of a merged entity. It depends on
// the pair only, never on which side is local: identical content keeps the
// local time, otherwise the later of both times wins, moved one millisecond
// further when the merge overwrites content carrying that time.
func mergedAt(local, incoming time.Time, keepsLocal, keepsIncoming bool) time.Time {
	if keepsLocal && keepsIncoming {
		return local
	}
	t := latest(local, incoming)
	if (!keepsLocal && local.Equal(t)) || (!keepsIncoming && incoming.Equal(t)) {
		t = t.Add(time.Millisecond)
	}
	return t
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
