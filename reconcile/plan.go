package reconcile

import (
	"fmt"
	"time"

	"github.com/c0deZ3R0/listsync/model"
)

// OpKind is the kind of a planned operation.
type OpKind string

const (
	OpCreate  OpKind = "create"
	OpUpdate  OpKind = "update"
	OpArchive OpKind = "archive"
	OpRestore OpKind = "restore"
	OpDelete  OpKind = "delete"
	OpReorder OpKind = "reorder"
)

// Operation is one step of a MergePlan. For create, update, archive and
// restore the payload holds the complete post-merge entity. Delete cascades
// to children.
type Operation struct {
	Kind     OpKind     `json:"kind"`
	Entity   model.Kind `json:"entity"`
	ID       string     `json:"id"`
	ParentID string     `json:"parentId,omitempty"`

	List  *model.List  `json:"list,omitempty"`
	Item  *model.Item  `json:"item,omitempty"`
	Image *model.Image `json:"image,omitempty"`

	// Fields lists the changed fields of an update.
	Fields []string `json:"fields,omitempty"`

	OrderNumber int       `json:"orderNumber"`
	ModifiedAt  time.Time `json:"modifiedAt,omitempty"`

	Description string `json:"description"`
}

// Mode selects the reconciliation path.
type Mode string

const (
	ModeSync   Mode = "sync"
	ModeImport Mode = "import"
)

// MergeMode controls how local-only entities are treated on import.
type MergeMode string

const (
	// MergeModeMerge keeps local-only entities.
	MergeModeMerge MergeMode = "merge"
	// MergeModeReplace archives local-only lists and deletes local-only
	// items and images.
	MergeModeReplace MergeMode = "replace"
)

// State is the planner state reached by a run.
type State string

const (
	StateCollecting     State = "collecting"
	StateDiffing        State = "diffing"
	StateClassifying    State = "classifying"
	StateNeedsUserInput State = "needsUserInput"
	StateReady          State = "ready"
	StatePlanned        State = "planned"
)

// ResolvedConflict pairs a conflict with the strategy's answer.
type ResolvedConflict struct {
	Conflict   Conflict   `json:"conflict"`
	Resolution Resolution `json:"resolution"`
}

// MergePlan is an ordered list of operations: lists first, then items
// grouped by list, then images grouped by item, then deletions, then
// reorders. While conflicts are pending the operations reflect a
// provisional "keep local" answer and the plan cannot be executed.
type MergePlan struct {
	Mode       Mode               `json:"mode"`
	Strategy   string             `json:"strategy"`
	State      State              `json:"state"`
	Operations []Operation        `json:"operations"`
	Conflicts  []ResolvedConflict `json:"conflicts"`
	Result     *model.Snapshot    `json:"-"`
}

// Pending returns the conflicts still waiting for a decision.
func (p *MergePlan) Pending() []Conflict {
	var out []Conflict
	for _, rc := range p.Conflicts {
		if rc.Resolution.Pending {
			out = append(out, rc.Conflict)
		}
	}
	return out
}

// NeedsUserInput reports whether any conflict is pending.
func (p *MergePlan) NeedsUserInput() bool {
	return len(p.Pending()) > 0
}

// IsEmpty reports whether executing the plan would change nothing.
func (p *MergePlan) IsEmpty() bool {
	return len(p.Operations) == 0
}

// Counts returns the number of operations that touch lists and the number
// that touch items or images.
func (p *MergePlan) Counts() (lists, items int) {
	for _, op := range p.Operations {
		if op.Entity == model.KindList {
			lists++
		} else {
			items++
		}
	}
	return lists, items
}

// MergePreview is what a UI collaborator shows before a plan is applied.
type MergePreview struct {
	ListsToCreate []string   `json:"listsToCreate"`
	ListsToUpdate []string   `json:"listsToUpdate"`
	ItemsToCreate []string   `json:"itemsToCreate"`
	ItemsToUpdate []string   `json:"itemsToUpdate"`
	Conflicts     []Conflict `json:"conflicts"`
	TotalChanges  int        `json:"totalChanges"`
}

// Preview summarises the plan. Pure reorders count towards TotalChanges but
// are not listed individually.
func (p *MergePlan) Preview() MergePreview {
	pv := MergePreview{TotalChanges: len(p.Operations)}
	for _, op := range p.Operations {
		switch {
		case op.Entity == model.KindList && op.Kind == OpCreate:
			pv.ListsToCreate = append(pv.ListsToCreate, op.List.Name)
		case op.Entity == model.KindList && (op.Kind == OpUpdate || op.Kind == OpArchive || op.Kind == OpRestore):
			pv.ListsToUpdate = append(pv.ListsToUpdate, op.List.Name)
		case op.Entity == model.KindItem && op.Kind == OpCreate:
			pv.ItemsToCreate = append(pv.ItemsToCreate, op.Item.Title)
		case op.Entity == model.KindItem && op.Kind == OpUpdate:
			pv.ItemsToUpdate = append(pv.ItemsToUpdate, op.Item.Title)
		}
	}
	for _, rc := range p.Conflicts {
		pv.Conflicts = append(pv.Conflicts, rc.Conflict)
	}
	return pv
}

// Action is the UI's answer to a preview.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionDecide  Action = "decide"
	ActionCancel  Action = "cancel"
)

// Response carries the UI's answer. Decisions is used with ActionDecide and
// may be partial.
type Response struct {
	Action    Action
	Decisions map[string]Side
}

// Confirm applies the plan as planned.
func Confirm() Response { return Response{Action: ActionConfirm} }

// Cancel abandons the plan.
func Cancel() Response { return Response{Action: ActionCancel} }

// Decide resumes the plan with per-conflict decisions.
func Decide(decisions map[string]Side) Response {
	return Response{Action: ActionDecide, Decisions: decisions}
}

func describe(kind OpKind, e model.Entity) string {
	return fmt.Sprintf("%s %s %q", kind, e.EntityKind(), e.Label())
}
