package reconcile

import (
	"fmt"
	"time"

	"github.com/c0deZ3R0/listsync/model"
)

// Outcome is the three-way classification of a field.
type Outcome string

const (
	NoChange        Outcome = "noChange"
	LocalChanged    Outcome = "localChanged"
	IncomingChanged Outcome = "incomingChanged"
	Converged       Outcome = "converged"
	Conflicting     Outcome = "conflict"
)

// Classify applies the three-way rule: a field conflicts when the sides
// differ and either no baseline is known or both sides moved away from it.
// When only one side moved, that side wins without a conflict.
func Classify(fc FieldChange) Outcome {
	if fc.Local == fc.Incoming {
		if fc.HasBaseline && fc.Local != fc.Baseline {
			return Converged
		}
		return NoChange
	}
	if !fc.HasBaseline {
		return Conflicting
	}
	switch {
	case fc.Local == fc.Baseline:
		return IncomingChanged
	case fc.Incoming == fc.Baseline:
		return LocalChanged
	default:
		return Conflicting
	}
}

// ConflictKind is the user-facing category of a conflict.
type ConflictKind string

const (
	ListRenamed             ConflictKind = "listRenamed"
	ListArchiveStateChanged ConflictKind = "listArchiveStateChanged"
	ItemModified            ConflictKind = "itemModified"
	ItemDeleted             ConflictKind = "itemDeleted"
	ImageSetChanged         ConflictKind = "imageSetChanged"
)

// conflictKindFor maps a conflicting field to its kind. Order numbers are
// never user-facing conflicts.
func conflictKindFor(kind model.Kind, field string) (ConflictKind, bool) {
	switch {
	case field == FieldOrderNumber:
		return "", false
	case kind == model.KindList && field == FieldName:
		return ListRenamed, true
	case kind == model.KindList && field == FieldArchived:
		return ListArchiveStateChanged, true
	case kind == model.KindItem && field == FieldImages:
		return ImageSetChanged, true
	case kind == model.KindItem:
		return ItemModified, true
	}
	return "", false
}

// Conflict is the unit surfaced to a merge preview.
type Conflict struct {
	ID         string       `json:"id"`
	Kind       ConflictKind `json:"kind"`
	EntityKind model.Kind   `json:"entityKind"`
	EntityID   string       `json:"entityId"`
	EntityName string       `json:"entityName"`
	Field      string       `json:"field,omitempty"`

	CurrentValue  any `json:"currentValue"`
	IncomingValue any `json:"incomingValue"`
	BaselineValue any `json:"baselineValue,omitempty"`

	LocalModifiedAt    time.Time `json:"localModifiedAt"`
	IncomingModifiedAt time.Time `json:"incomingModifiedAt"`

	// DeletedSide is set for ItemDeleted conflicts.
	DeletedSide Side `json:"deletedSide,omitempty"`

	Message string `json:"message"`
}

func conflictID(kind model.Kind, id, field string) string {
	return fmt.Sprintf("%s:%s:%s", kind, id, field)
}

func newFieldConflict(kind ConflictKind, e model.Entity, fc FieldChange, localAt, incomingAt time.Time) Conflict {
	c := Conflict{
		ID:                 conflictID(e.EntityKind(), e.EntityID(), fc.Field),
		Kind:               kind,
		EntityKind:         e.EntityKind(),
		EntityID:           e.EntityID(),
		EntityName:         e.Label(),
		Field:              fc.Field,
		CurrentValue:       fc.Local,
		IncomingValue:      fc.Incoming,
		LocalModifiedAt:    localAt,
		IncomingModifiedAt: incomingAt,
	}
	if fc.HasBaseline {
		c.BaselineValue = fc.Baseline
	}
	c.Message = renderMessage(c)
	return c
}

func newDeleteConflict(e model.Entity, deleted Side, localAt, incomingAt time.Time, detail string) Conflict {
	c := Conflict{
		ID:                 conflictID(e.EntityKind(), e.EntityID(), "deleted"),
		Kind:               ItemDeleted,
		EntityKind:         e.EntityKind(),
		EntityID:           e.EntityID(),
		EntityName:         e.Label(),
		DeletedSide:        deleted,
		LocalModifiedAt:    localAt,
		IncomingModifiedAt: incomingAt,
	}
	if deleted == SideLocal {
		c.CurrentValue, c.IncomingValue = "deleted", "present"
	} else {
		c.CurrentValue, c.IncomingValue = "present", "deleted"
	}
	c.Message = renderMessage(c)
	if detail != "" {
		c.Message += " (" + detail + ")"
	}
	return c
}

func renderMessage(c Conflict) string {
	noun := string(c.EntityKind)
	switch c.Kind {
	case ListRenamed:
		return fmt.Sprintf("List %q was renamed: %q here, %q incoming", c.EntityName, c.CurrentValue, c.IncomingValue)
	case ListArchiveStateChanged:
		return fmt.Sprintf("List %q is %s here but %s incoming", c.EntityName, archivedWord(c.CurrentValue), archivedWord(c.IncomingValue))
	case ItemModified:
		return fmt.Sprintf("Item %q has a different %s: %v here, %v incoming", c.EntityName, c.Field, c.CurrentValue, c.IncomingValue)
	case ImageSetChanged:
		return fmt.Sprintf("Images of item %q were changed on both sides", c.EntityName)
	case ItemDeleted:
		if c.DeletedSide == SideLocal {
			return fmt.Sprintf("The %s %q was deleted here but changed incoming", noun, c.EntityName)
		}
		return fmt.Sprintf("The %s %q was deleted incoming but changed here", noun, c.EntityName)
	}
	return fmt.Sprintf("%s %q conflicts on %s", noun, c.EntityName, c.Field)
}

func archivedWord(v any) string {
	if b, _ := v.(bool); b {
		return "archived"
	}
	return "active"
}
